package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyike/CortexFund/config"
)

// Notification topics published by Runtime.
const (
	TopicReloaded     = "engine.reloaded"
	TopicReloadFailed = "engine.reload_failed"
)

// engineNeutralKeys are config keys that never change what an engine
// decides; edits touching only these do not trigger a rebuild.
var engineNeutralKeys = map[string]bool{
	"log_level":          true,
	"log_format":         true,
	"debug":              true,
	"metrics_addr":       true,
	"watch_schedule":     true,
	"eino_debug_enabled": true,
	"eino_debug_port":    true,
}

type EngineBuilder func(config.Config) (*Engine, error)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

// WithNotifier receives a topic and a JSON payload after every rebuild
// attempt.
func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) { r.notify = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// Runtime keeps an Engine built from the latest valid config. A rebuild
// that fails leaves the previous engine serving.
type Runtime struct {
	cfgMgr  *config.Manager
	builder EngineBuilder
	notify  func(string, string)
	logger  zerolog.Logger
	cancel  context.CancelFunc

	engine atomic.Pointer[Engine]

	mu      sync.Mutex // serializes rebuilds
	lastErr error
}

func NewRuntime(cfgMgr *config.Manager, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	rt := &Runtime{
		cfgMgr:  cfgMgr,
		builder: BuildEngine,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(rt)
	}

	if err := rt.rebuild(cfgMgr.Get(), nil); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	if err := cfgMgr.Watch(ctx, rt.onConfig); err != nil {
		cancel()
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

// LastError is the error of the most recent rebuild, nil after a success.
func (r *Runtime) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

// UpdateConfigJSON patches the managed config; the engine follows through
// the change subscription.
func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.UpdateFromJSON(jsonStr)
}

func (r *Runtime) onConfig(cfg config.Config) {
	current := r.Engine()
	changed := config.ChangedKeys(current.Config, cfg)
	if !affectsEngine(changed) {
		r.logger.Debug().Strs("changed", changed).Msg("config change does not affect engine")
		return
	}
	if err := r.rebuild(cfg, changed); err != nil {
		r.logger.Error().Err(err).Strs("changed", changed).Msg("engine rebuild failed, keeping previous engine")
	}
}

func affectsEngine(changed []string) bool {
	for _, k := range changed {
		if !engineNeutralKeys[k] {
			return true
		}
	}
	return false
}

func (r *Runtime) rebuild(cfg config.Config, changed []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	engine, err := r.builder(cfg)
	r.lastErr = err
	if err != nil {
		r.publish(TopicReloadFailed, map[string]any{"error": err.Error(), "changed": changed})
		return err
	}
	r.engine.Store(engine)
	r.logger.Info().
		Uint64("version", engine.Version).
		Strs("analysts", cfg.Analysts).
		Strs("changed", changed).
		Msg("engine built")
	r.publish(TopicReloaded, map[string]any{
		"version":  engine.Version,
		"built_at": engine.BuiltAt.UTC().Format(time.RFC3339),
		"analysts": cfg.Analysts,
	})
	return nil
}

func (r *Runtime) publish(topic string, payload map[string]any) {
	if r.notify == nil {
		return
	}
	data, _ := json.Marshal(payload)
	r.notify(topic, string(data))
}
