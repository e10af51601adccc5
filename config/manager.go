package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Manager owns the config.json of one config dir. Writes go through Update,
// external edits are picked up by Watch, and every accepted change is
// delivered to the subscribers.
type Manager struct {
	path     string
	debounce time.Duration
	logger   zerolog.Logger

	mu       sync.RWMutex
	cfg      Config
	subs     map[int]func(Config)
	nextSub  int
	watching bool

	// set while Update writes the file so the watcher skips our own event
	selfWrite atomic.Bool
}

type managerOptions struct {
	configPath    string
	initialConfig *Config
	debounce      time.Duration
	logger        zerolog.Logger
}

type ManagerOption func(*managerOptions)

func WithConfigDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		if dir != "" {
			o.configPath = filepath.Join(dir, "config.json")
		}
	}
}

func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.configPath = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithInitialConfig seeds a config file that does not exist yet.
func WithInitialConfig(cfg *Config) ManagerOption {
	return func(o *managerOptions) { o.initialConfig = cfg }
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = l }
}

func NewManager(opts ...ManagerOption) (*Manager, error) {
	options := managerOptions{
		debounce: 300 * time.Millisecond,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	path := options.configPath
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	cfg, err := loadOrSeed(path, options.initialConfig)
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:     path,
		debounce: options.debounce,
		logger:   options.logger,
		cfg:      cfg,
		subs:     make(map[int]func(Config)),
	}, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Path() string {
	return m.path
}

// UpdateFromJSON patches the current config with the fields present in
// jsonStr; absent fields keep their current value.
func (m *Manager) UpdateFromJSON(jsonStr string) error {
	cfg := m.Get()
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return fmt.Errorf("parse config json: %w", err)
	}
	return m.Update(cfg)
}

// Update validates cfg, persists it and notifies subscribers. An identical
// config is a no-op.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(ChangedKeys(m.Get(), cfg)) == 0 {
		return nil
	}

	m.selfWrite.Store(true)
	if err := writeConfigFile(m.path, cfg); err != nil {
		m.selfWrite.Store(false)
		return err
	}
	time.AfterFunc(m.debounce, func() { m.selfWrite.Store(false) })

	m.apply(cfg, "update")
	return nil
}

// Subscribe registers fn for every accepted change. The returned func
// removes it.
func (m *Manager) Subscribe(fn func(Config)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Watch subscribes onChange until ctx is done and starts watching the config
// file for external edits. The file watcher is shared by all callers.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	if onChange != nil {
		unsubscribe := m.Subscribe(onChange)
		context.AfterFunc(ctx, unsubscribe)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watching {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	m.watching = true
	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		watcher.Close()
		m.mu.Lock()
		m.watching = false
		m.mu.Unlock()
	}()

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !m.touchesConfig(evt) || m.selfWrite.Load() {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(m.debounce, m.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn().Err(err).Str("path", m.path).Msg("config watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) touchesConfig(evt fsnotify.Event) bool {
	if filepath.Clean(evt.Name) != filepath.Clean(m.path) {
		return false
	}
	return evt.Op.Has(fsnotify.Write) || evt.Op.Has(fsnotify.Create) ||
		evt.Op.Has(fsnotify.Rename) || evt.Op.Has(fsnotify.Remove)
}

// reload re-reads the file after an external edit. A deleted file is
// restored from the current config; an invalid one is ignored.
func (m *Manager) reload() {
	cfg, err := readConfig(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := writeConfigFile(m.path, m.Get()); err != nil {
			m.logger.Error().Err(err).Str("path", m.path).Msg("config restore failed")
		}
		return
	case err != nil:
		m.logger.Error().Err(err).Str("path", m.path).Msg("config reload failed")
		return
	}
	if err := cfg.Validate(); err != nil {
		m.logger.Error().Err(err).Msg("config validation failed, keeping previous config")
		return
	}
	m.apply(cfg, "file")
}

func (m *Manager) apply(cfg Config, origin string) {
	m.mu.Lock()
	changed := ChangedKeys(m.cfg, cfg)
	if len(changed) == 0 {
		m.mu.Unlock()
		return
	}
	m.cfg = cfg
	subs := make([]func(Config), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Info().Str("origin", origin).Strs("changed", changed).Msg("config changed")
	for _, fn := range subs {
		fn(cfg)
	}
}

// ChangedKeys lists the JSON keys whose values differ between a and b,
// sorted.
func ChangedKeys(a, b Config) []string {
	fa, fb := fields(a), fields(b)
	var keys []string
	for k, va := range fa {
		if !bytes.Equal(va, fb[k]) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func fields(cfg Config) map[string]json.RawMessage {
	data, _ := json.Marshal(cfg)
	out := make(map[string]json.RawMessage)
	_ = json.Unmarshal(data, &out)
	return out
}

// readConfig decodes path over the defaults rooted at its directory, so
// keys missing from an older file keep their default.
func readConfig(path string) (Config, error) {
	cfg := *DefaultConfigWithRoot(filepath.Dir(path))
	if err := loadConfigFromFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadOrSeed(path string, seed *Config) (Config, error) {
	cfg, err := readConfig(path)
	if err == nil {
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg = *DefaultConfigWithRoot(filepath.Dir(path))
	if seed != nil {
		cfg = *seed
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := writeConfigFile(path, cfg); err != nil {
		return Config{}, fmt.Errorf("write initial config: %w", err)
	}
	return cfg, nil
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "CortexFund", "config.json"), nil
}

// writeConfigFile replaces path atomically.
func writeConfigFile(path string, cfg Config) (err error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush config: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
