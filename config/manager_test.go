package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreatesAndUpdates(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.json"))
	assert.Equal(t, filepath.Join(dir, "results"), mgr.Get().ResultsDir)

	require.NoError(t, mgr.UpdateFromJSON(`{"initial_cash": 50000, "analysts": ["technical"]}`))
	cfg := mgr.Get()
	assert.Equal(t, 50000.0, cfg.InitialCash)
	assert.Equal(t, []string{"technical"}, cfg.Analysts)
	assert.Equal(t, 0.2, cfg.MaxPositionPct, "fields absent from the patch keep their value")

	onDisk, err := readConfig(mgr.Path())
	require.NoError(t, err)
	assert.Equal(t, 50000.0, onDisk.InitialCash)

	bad := cfg
	bad.MaxPositionPct = 1.5
	assert.Error(t, mgr.Update(bad))
	assert.Equal(t, 0.2, mgr.Get().MaxPositionPct)
}

func TestManagerFillsMissingFieldsFromDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"price_source": "offline"}`), 0o644))

	mgr, err := NewManager(WithConfigPath(path))
	require.NoError(t, err)
	cfg := mgr.Get()
	assert.Equal(t, "offline", cfg.PriceSource)
	assert.Equal(t, 100000.0, cfg.InitialCash)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
}

func TestManagerRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"margin_requirement": 2}`), 0o644))
	_, err := NewManager(WithConfigDir(dir))
	assert.Error(t, err)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	mgr, err := NewManager(WithConfigDir(t.TempDir()))
	require.NoError(t, err)

	var got []float64
	unsubscribe := mgr.Subscribe(func(cfg Config) { got = append(got, cfg.InitialCash) })

	cfg := mgr.Get()
	cfg.InitialCash = 1000
	require.NoError(t, mgr.Update(cfg))
	require.NoError(t, mgr.Update(cfg))

	unsubscribe()
	cfg.InitialCash = 2000
	require.NoError(t, mgr.Update(cfg))

	assert.Equal(t, []float64{1000}, got)
}

func TestChangedKeys(t *testing.T) {
	a := *DefaultConfigWithRoot("/tmp/x")
	b := a
	assert.Empty(t, ChangedKeys(a, b))

	b.Analysts = []string{"valuation"}
	b.LogLevel = "debug"
	assert.Equal(t, []string{"analysts", "log_level"}, ChangedKeys(a, b))
}

func TestManagerWatchReloads(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 1)
	require.NoError(t, mgr.Watch(ctx, func(cfg Config) { reloaded <- cfg }))

	cfg := mgr.Get()
	cfg.InitialCash = 250000
	require.NoError(t, writeConfigFile(mgr.Path(), cfg))

	select {
	case got := <-reloaded:
		assert.Equal(t, 250000.0, got.InitialCash)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not fire on config change")
	}
}

func TestManagerRestoresDeletedFile(t *testing.T) {
	mgr, err := NewManager(WithConfigDir(t.TempDir()), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, mgr.Watch(ctx, func(Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))

	require.NoError(t, os.Remove(mgr.Path()))
	require.Eventually(t, func() bool {
		_, err := os.Stat(mgr.Path())
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls, "restoring the same config is not a change")
}
