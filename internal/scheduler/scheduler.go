// Package scheduler runs live decision cycles on a cron schedule against a
// portfolio persisted between runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dyike/CortexFund/internal/backtest"
	"github.com/dyike/CortexFund/internal/storage/sqlite"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/app"
)

// EngineSource hands out the engine to use for the next cycle, so config
// reloads take effect between runs.
type EngineSource interface {
	Engine() *app.Engine
}

type Option func(*Scheduler)

func WithRecorder(r backtest.Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPortfolioPath overrides the engine's default live portfolio file.
func WithPortfolioPath(path string) Option {
	return func(s *Scheduler) { s.portfolioPath = path }
}

// Scheduler manages the live decision job.
type Scheduler struct {
	cron          *cron.Cron
	source        EngineSource
	tickers       []string
	recorder      backtest.Recorder
	logger        zerolog.Logger
	now           func() time.Time
	portfolioPath string
	runID         string

	mu      sync.Mutex
	started bool
}

func New(source EngineSource, tickers []string, opts ...Option) (*Scheduler, error) {
	if source == nil {
		return nil, errors.New("engine source is required")
	}
	if len(tickers) == 0 {
		return nil, errors.New("at least one ticker is required")
	}
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		source:  source,
		tickers: tickers,
		logger:  zerolog.Nop(),
		now:     time.Now,
		runID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scheduler) RunID() string { return s.runID }

// Register adds the decision job under spec (standard five-field cron,
// CRON_TZ prefix allowed).
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("register decision job %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	if s.recorder != nil {
		cfg := s.source.Engine().Config
		if err := s.recorder.StartRun(ctx, s.runID, sqlite.KindLive, "watch", map[string]any{
			"tickers":  s.tickers,
			"analysts": cfg.Analysts,
		}); err != nil {
			return err
		}
	}
	s.started = true
	s.cron.Start()
	s.logger.Info().Str("run_id", s.runID).Strs("tickers", s.tickers).Msg("scheduler started")
	return nil
}

// Stop waits for a running cycle to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	<-s.cron.Stop().Done()
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started && s.recorder != nil {
		if err := s.recorder.FinishRun(ctx, s.runID, nil); err != nil {
			s.logger.Warn().Err(err).Msg("record run finish")
		}
	}
	s.logger.Info().Str("run_id", s.runID).Msg("scheduler stopped")
}

func (s *Scheduler) tick() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("live cycle failed")
	}
}

// RunOnce decides every ticker for the current date, persists the updated
// portfolio and records the cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (*app.Cycle, error) {
	e := s.source.Engine()
	path := s.portfolioPath
	if path == "" {
		path = e.PortfolioPath()
	}

	pf, err := e.LoadPortfolio(path)
	if err != nil {
		return nil, err
	}
	cycle, err := e.Decide(ctx, s.tickers, s.now(), pf)
	if err != nil {
		return cycle, err
	}
	if err := app.SavePortfolio(path, pf); err != nil {
		return cycle, err
	}

	if s.recorder != nil {
		for _, d := range cycle.Decisions {
			if err := s.recorder.RecordCycle(ctx, s.runID, d); err != nil {
				s.logger.Warn().Err(err).Msg("record cycle")
			}
		}
		if err := s.recorder.RecordEquity(ctx, s.runID, cycle.Date, cycle.Value); err != nil {
			s.logger.Warn().Err(err).Msg("record equity")
		}
	}
	s.logger.Info().
		Str("date", cycle.Date.Format(models.DateLayout)).
		Int("decisions", len(cycle.Decisions)).
		Str("value", cycle.Value.StringFixed(2)).
		Msg("live cycle complete")
	return cycle, nil
}
