// Package backtest replays the decision pipeline over a range of trading
// dates against one running portfolio.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/consts"
	"github.com/dyike/CortexFund/internal/graph"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/dataflows"
	"github.com/dyike/CortexFund/pkg/metrics"
)

var ErrNotRestartable = errors.New("simulator already ran; create a new one")

const DefaultLookbackDays = 120

// Decider runs one decision cycle and applies its orders to the request's
// portfolio.
type Decider interface {
	Decide(ctx context.Context, req *graph.Request) (*graph.Decision, error)
}

// Recorder persists a run as it progresses.
type Recorder interface {
	StartRun(ctx context.Context, runID, kind, name string, config any) error
	RecordCycle(ctx context.Context, runID string, d *graph.Decision) error
	RecordEquity(ctx context.Context, runID string, date time.Time, value decimal.Decimal) error
	FinishRun(ctx context.Context, runID string, result *models.BacktestResult) error
}

type Config struct {
	Name              string          `json:"name"`
	Tickers           []string        `json:"tickers"`
	Start             time.Time       `json:"start"`
	End               time.Time       `json:"end"`
	InitialCash       decimal.Decimal `json:"initial_cash"`
	MarginRequirement decimal.Decimal `json:"margin_requirement"`
	LookbackDays      int             `json:"lookback_days"`
	Analysts          []string        `json:"analysts,omitempty"`
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Tickers) == 0 {
		errs = append(errs, errors.New("at least one ticker is required"))
	}
	seen := make(map[string]bool, len(c.Tickers))
	for _, t := range c.Tickers {
		if seen[t] {
			errs = append(errs, fmt.Errorf("duplicate ticker %s", t))
		}
		seen[t] = true
	}
	if c.Start.IsZero() || c.End.IsZero() || c.Start.After(c.End) {
		errs = append(errs, errors.New("start must be on or before end"))
	}
	if !c.InitialCash.IsPositive() {
		errs = append(errs, errors.New("initial cash must be positive"))
	}
	if c.MarginRequirement.IsNegative() {
		errs = append(errs, errors.New("margin requirement must not be negative"))
	}
	return errors.Join(errs...)
}

type Option func(*Simulator)

func WithRecorder(r Recorder) Option {
	return func(s *Simulator) { s.recorder = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Simulator) { s.metrics = m }
}

// WithHistory supplies preloaded bars; the simulator then skips its own
// price download.
func WithHistory(book *dataflows.HistoryBook) Option {
	return func(s *Simulator) { s.book, s.preloaded = book, true }
}

// WithProgress is called after every simulated date.
func WithProgress(fn func(date time.Time, value decimal.Decimal)) Option {
	return func(s *Simulator) { s.progress = fn }
}

func WithRunID(id string) Option {
	return func(s *Simulator) { s.runID = id }
}

type Simulator struct {
	cfg       Config
	decider   Decider
	data      dataflows.MarketData
	book      *dataflows.HistoryBook
	preloaded bool
	recorder  Recorder
	logger    zerolog.Logger
	metrics   *metrics.Registry
	progress  func(time.Time, decimal.Decimal)
	runID     string

	mu        sync.Mutex
	started   bool
	state     string
	result    *models.BacktestResult
	portfolio *models.Portfolio
}

func NewSimulator(cfg Config, decider Decider, data dataflows.MarketData, opts ...Option) (*Simulator, error) {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultLookbackDays
	}
	cfg.Start, cfg.End = models.Day(cfg.Start), models.Day(cfg.End)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("backtest config: %w", err)
	}
	if decider == nil || data == nil {
		return nil, errors.New("decider and market data are required")
	}

	s := &Simulator{
		cfg:     cfg,
		decider: decider,
		data:    data,
		book:    dataflows.NewHistoryBook(),
		logger:  zerolog.Nop(),
		state:   consts.State_Initialized,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	s.portfolio = models.NewPortfolio(cfg.InitialCash, cfg.MarginRequirement)
	s.result = &models.BacktestResult{RunID: s.runID, Status: s.state}
	return s, nil
}

func (s *Simulator) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Simulator) RunID() string { return s.runID }

// Result returns the result so far; after Run it is final.
func (s *Simulator) Result() *models.BacktestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Run simulates every trading date in order. The simulator enters the
// running state when the first date is processed. On failure the partial
// result is returned together with the error.
func (s *Simulator) Run(ctx context.Context) (*models.BacktestResult, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrNotRestartable
	}
	s.started = true
	s.mu.Unlock()

	log := s.logger.With().Str("run_id", s.runID).Logger()
	if s.recorder != nil {
		if err := s.recorder.StartRun(ctx, s.runID, "backtest", s.cfg.Name, s.cfg); err != nil {
			log.Warn().Err(err).Msg("record run start")
		}
	}

	if !s.preloaded {
		from := s.cfg.Start.AddDate(0, 0, -s.cfg.LookbackDays)
		if err := s.book.Load(ctx, s.data, s.cfg.Tickers, from, s.cfg.End); err != nil {
			return s.fail(ctx, err)
		}
	}

	days := s.book.TradingDays(s.cfg.Start, s.cfg.End)
	log.Info().
		Strs("tickers", s.cfg.Tickers).
		Str("start", s.cfg.Start.Format(models.DateLayout)).
		Str("end", s.cfg.End.Format(models.DateLayout)).
		Int("days", len(days)).
		Msg("backtest started")

	for i, day := range days {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, err)
		}
		if i == 0 {
			s.mu.Lock()
			s.setState(consts.State_Running)
			s.mu.Unlock()
		}
		if err := s.step(ctx, day); err != nil {
			return s.fail(ctx, err)
		}
	}

	s.mu.Lock()
	s.setState(consts.State_Completed)
	s.finalize()
	result := s.result
	s.mu.Unlock()

	s.finish(ctx, result)
	log.Info().
		Float64("total_return", result.Metrics.TotalReturn).
		Float64("sharpe", result.Metrics.SharpeRatio).
		Float64("max_drawdown", result.Metrics.MaxDrawdown).
		Int("orders", result.Metrics.OrderCount).
		Msg("backtest completed")
	return result, nil
}

// step runs one cycle per ticker in configured order, then marks the
// portfolio to market.
func (s *Simulator) step(ctx context.Context, day time.Time) error {
	prices, err := s.closes(day)
	if err != nil {
		return err
	}

	for _, ticker := range s.cfg.Tickers {
		req := &graph.Request{
			Ticker:    ticker,
			Date:      day,
			Context:   dataflows.BuildContext(ctx, s.data, s.book, ticker, day, s.cfg.LookbackDays, s.logger),
			Portfolio: s.portfolio,
			Prices:    prices,
		}
		dec, err := s.decider.Decide(ctx, req)

		var funds *models.InsufficientFundsError
		switch {
		case err == nil:
		case errors.Is(err, models.ErrNoSignals), errors.As(err, &funds):
			s.skip(ticker, day, err)
		default:
			return err
		}
		if dec == nil {
			continue
		}

		// Orders applied before an abort stay on the portfolio.
		s.mu.Lock()
		s.result.Orders = append(s.result.Orders, dec.Orders...)
		s.mu.Unlock()
		if s.recorder != nil {
			if err := s.recorder.RecordCycle(ctx, s.runID, dec); err != nil {
				s.logger.Warn().Err(err).Msg("record cycle")
			}
		}
	}

	value, err := s.portfolio.TotalValue(prices)
	if err != nil {
		return err
	}
	s.portfolio.Date = day

	s.mu.Lock()
	s.result.Dates = append(s.result.Dates, day)
	s.result.Values = append(s.result.Values, value)
	s.mu.Unlock()

	f, _ := value.Float64()
	s.metrics.RecordValuation(f)
	if s.recorder != nil {
		if err := s.recorder.RecordEquity(ctx, s.runID, day, value); err != nil {
			s.logger.Warn().Err(err).Msg("record equity")
		}
	}
	if s.progress != nil {
		s.progress(day, value)
	}
	return nil
}

// closes prices every configured and every held ticker on day.
func (s *Simulator) closes(day time.Time) (map[string]decimal.Decimal, error) {
	tickers := append([]string(nil), s.cfg.Tickers...)
	for _, t := range s.portfolio.Tickers() {
		if !contains(tickers, t) {
			tickers = append(tickers, t)
		}
	}
	prices, missing := s.book.Closes(tickers, day)
	if len(missing) > 0 {
		return nil, &models.MissingMarketDataError{Ticker: missing[0], Date: day}
	}
	return prices, nil
}

func (s *Simulator) skip(ticker string, day time.Time, err error) {
	s.logger.Warn().Err(err).Str("ticker", ticker).Str("date", day.Format(models.DateLayout)).Msg("cycle skipped")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Skipped = append(s.result.Skipped, models.SkippedCycle{Ticker: ticker, Date: day, Reason: err.Error()})
}

func (s *Simulator) fail(ctx context.Context, err error) (*models.BacktestResult, error) {
	s.mu.Lock()
	s.setState(consts.State_Failed)
	s.result.Error = err.Error()
	s.finalize()
	result := s.result
	s.mu.Unlock()

	s.logger.Error().Err(err).Str("run_id", s.runID).Int("dates", len(result.Dates)).Msg("backtest failed")
	s.finish(context.WithoutCancel(ctx), result)
	return result, err
}

func (s *Simulator) finish(ctx context.Context, result *models.BacktestResult) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.FinishRun(ctx, s.runID, result); err != nil {
		s.logger.Warn().Err(err).Msg("record run finish")
	}
}

// setState must be called with mu held.
func (s *Simulator) setState(state string) {
	s.state = state
	s.result.Status = state
}

// finalize must be called with mu held.
func (s *Simulator) finalize() {
	r := s.result
	r.Metrics = Performance(r.Dates, r.Values)
	r.Metrics.OrderCount = countTrades(r.Orders)
	if n := len(r.Values); n > 0 {
		r.Metrics.TotalReturn, _ = r.Values[n-1].Div(s.cfg.InitialCash).Sub(decimal.NewFromInt(1)).Float64()
	}
	r.Portfolio = s.portfolio.Clone()

	if n := len(r.Dates); n > 0 {
		if prices, err := s.closes(r.Dates[n-1]); err == nil {
			if long, short, gross, err := s.portfolio.Exposure(prices); err == nil {
				r.Metrics.LongExposure, r.Metrics.ShortExposure, r.Metrics.GrossExposure = long, short, gross
			}
		}
	}
}

func countTrades(orders []models.Order) int {
	n := 0
	for _, o := range orders {
		if o.Action != models.ActionHold && o.Quantity > 0 {
			n++
		}
	}
	return n
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
