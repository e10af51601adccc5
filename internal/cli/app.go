package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dyike/CortexFund/config"
	"github.com/dyike/CortexFund/internal/debug"
	"github.com/dyike/CortexFund/internal/storage"
	"github.com/dyike/CortexFund/internal/storage/sqlite"
	"github.com/dyike/CortexFund/pkg/app"
	"github.com/dyike/CortexFund/pkg/logger"
	"github.com/dyike/CortexFund/pkg/metrics"
)

// appContext is what every command shares once the root pre-run has
// resolved the config.
type appContext struct {
	cfg     config.Config
	mgr     *config.Manager
	logger  zerolog.Logger
	metrics *metrics.Registry
	server  *http.Server
}

type rootFlags struct {
	configDir   string
	logLevel    string
	logFormat   string
	debug       bool
	metricsAddr string
}

func (a *appContext) setup(cmd *cobra.Command, f *rootFlags) error {
	level := f.logLevel
	if f.debug {
		level = "debug"
	}
	boot, err := logger.New(logger.Config{Level: firstNonEmpty(level, "info"), Format: f.logFormat})
	if err != nil {
		return err
	}

	if f.configDir != "" {
		mgr, err := config.NewManager(config.WithConfigDir(f.configDir), config.WithLogger(boot))
		if err != nil {
			return err
		}
		a.mgr = mgr
		a.cfg = mgr.Get()
	} else {
		a.cfg = *config.DefaultConfig()
	}
	if f.debug {
		a.cfg.Debug = true
	}
	if level != "" {
		a.cfg.LogLevel = level
	}
	if f.logFormat != "" {
		a.cfg.LogFormat = f.logFormat
	}
	if f.metricsAddr != "" {
		a.cfg.MetricsAddr = f.metricsAddr
	}

	a.logger, err = logger.New(logger.Config{Level: a.cfg.LogLevel, Format: a.cfg.LogFormat})
	if err != nil {
		return err
	}
	if err := a.cfg.EnsureDirectories(); err != nil {
		return err
	}

	a.metrics = metrics.NewRegistry()
	if a.cfg.MetricsAddr != "" {
		a.serveMetrics()
	}
	return debug.NewEinoDebugger(&a.cfg, a.logger).Initialize(cmd.Context())
}

// serveMetrics exposes /metrics and /healthz for the lifetime of the command.
func (a *appContext) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	a.server = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", a.cfg.MetricsAddr).Msg("metrics server stopped")
		}
	}()
	a.logger.Info().Str("addr", a.cfg.MetricsAddr).Msg("metrics server listening")
}

func (a *appContext) shutdown() {
	if a.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = a.server.Shutdown(ctx)
}

func (a *appContext) deps() app.Deps {
	return app.Deps{Logger: a.logger, Metrics: a.metrics}
}

func (a *appContext) engine(cfg config.Config) (*app.Engine, error) {
	return a.deps().Build(cfg)
}

// recorder opens the run store. The returned close func flushes pending
// writes; it is never nil.
func (a *appContext) recorder() (*storage.RunRecorder, func(), error) {
	if a.cfg.SQLitePath == "" {
		return nil, func() {}, nil
	}
	store, err := sqlite.Open(a.cfg.SQLitePath)
	if err != nil {
		return nil, func() {}, err
	}
	rec, err := storage.NewRunRecorder(store, a.logger)
	if err != nil {
		store.Close()
		return nil, func() {}, err
	}
	return rec, func() {
		rec.Close()
		store.Close()
	}, nil
}

func splitTickers(args []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, arg := range args {
		for _, t := range strings.Split(arg, ",") {
			t = strings.ToUpper(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
