package backtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexFund/consts"
	"github.com/dyike/CortexFund/internal/agents"
	"github.com/dyike/CortexFund/internal/graph"
	"github.com/dyike/CortexFund/internal/portfolio"
	"github.com/dyike/CortexFund/internal/risk"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/dataflows"
)

var (
	friday = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
)

type step struct {
	action models.Action
	qty    int64
	err    error
}

// scriptedDecider replays fixed orders keyed by ticker and date.
type scriptedDecider struct {
	script map[string]step
	calls  []string
}

func key(ticker string, date time.Time) string {
	return ticker + "@" + date.Format(models.DateLayout)
}

func (d *scriptedDecider) Decide(_ context.Context, req *graph.Request) (*graph.Decision, error) {
	k := key(req.Ticker, req.Date)
	d.calls = append(d.calls, k)
	dec := &graph.Decision{Ticker: req.Ticker, Date: req.Date}

	s, ok := d.script[k]
	if !ok {
		return dec, nil
	}
	if s.err != nil {
		return dec, s.err
	}
	ord := models.Order{Ticker: req.Ticker, Date: req.Date, Action: s.action, Quantity: s.qty, Price: req.Prices[req.Ticker]}
	if err := portfolio.Apply(ord, req.Portfolio); err != nil {
		return dec, err
	}
	dec.Orders = append(dec.Orders, ord)
	return dec, nil
}

type stubBull struct{ name string }

func (s stubBull) Name() string { return s.name }

func (s stubBull) Evaluate(_ context.Context, ticker string, date time.Time, _ *models.MarketContext) (*models.Signal, error) {
	return &models.Signal{Ticker: ticker, Date: date, SourceID: s.name, Stance: models.Bullish, Confidence: 0.8}, nil
}

type memRecorder struct {
	mu       sync.Mutex
	started  string
	cycles   int
	equity   []decimal.Decimal
	finished *models.BacktestResult
}

func (r *memRecorder) StartRun(_ context.Context, runID, _, _ string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = runID
	return nil
}

func (r *memRecorder) RecordCycle(context.Context, string, *graph.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
	return nil
}

func (r *memRecorder) RecordEquity(_ context.Context, _ string, _ time.Time, v decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.equity = append(r.equity, v)
	return nil
}

func (r *memRecorder) FinishRun(_ context.Context, _ string, res *models.BacktestResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = res
	return nil
}

func bar(ticker string, date time.Time, close int64) models.PriceBar {
	c := decimal.NewFromInt(close)
	return models.PriceBar{Ticker: ticker, Date: date, Open: c, High: c, Low: c, Close: c, Volume: 1000}
}

func book(bars ...models.PriceBar) *dataflows.HistoryBook {
	byTicker := make(map[string][]models.PriceBar)
	for _, b := range bars {
		byTicker[b.Ticker] = append(byTicker[b.Ticker], b)
	}
	h := dataflows.NewHistoryBook()
	for t, bs := range byTicker {
		h.Put(t, bs)
	}
	return h
}

func testConfig(tickers ...string) Config {
	return Config{
		Name:              "test",
		Tickers:           tickers,
		Start:             friday,
		End:               monday,
		InitialCash:       decimal.NewFromInt(100000),
		MarginRequirement: decimal.NewFromFloat(0.5),
	}
}

func newSimulator(t *testing.T, cfg Config, d Decider, h *dataflows.HistoryBook, opts ...Option) *Simulator {
	t.Helper()
	data := dataflows.NewProviderFrom(dataflows.NewOfflineStore(t.TempDir()), zerolog.Nop())
	opts = append([]Option{WithHistory(h)}, opts...)
	s, err := NewSimulator(cfg, d, data, opts...)
	require.NoError(t, err)
	return s
}

func TestRunMarksToMarket(t *testing.T) {
	d := &scriptedDecider{script: map[string]step{
		key("AAPL", friday): {action: models.ActionBuy, qty: 10},
	}}
	rec := &memRecorder{}
	s := newSimulator(t, testConfig("AAPL"), d, book(bar("AAPL", friday, 100), bar("AAPL", monday, 110)), WithRecorder(rec))
	assert.Equal(t, consts.State_Initialized, s.State())

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, consts.State_Completed, s.State())
	assert.Equal(t, consts.State_Completed, res.Status)
	assert.Equal(t, []time.Time{friday, monday}, res.Dates)
	require.Len(t, res.Values, 2)
	assert.True(t, res.Values[0].Equal(decimal.NewFromInt(100000)), res.Values[0].String())
	assert.True(t, res.Values[1].Equal(decimal.NewFromInt(100100)), res.Values[1].String())

	require.Len(t, res.Orders, 1)
	assert.True(t, res.Portfolio.Cash.Equal(decimal.NewFromInt(99000)))
	pos := res.Portfolio.Position("AAPL")
	assert.Equal(t, int64(10), pos.Quantity)
	assert.True(t, pos.AverageCost.Equal(decimal.NewFromInt(100)))

	assert.InDelta(t, 0.001, res.Metrics.TotalReturn, 1e-12)
	assert.Equal(t, 1, res.Metrics.OrderCount)
	assert.True(t, res.Metrics.LongExposure.Equal(decimal.NewFromInt(1100)))

	assert.Equal(t, s.RunID(), rec.started)
	assert.Equal(t, 2, rec.cycles)
	assert.Len(t, rec.equity, 2)
	assert.Same(t, res, rec.finished)
}

func TestRunIsNotRestartable(t *testing.T) {
	s := newSimulator(t, testConfig("AAPL"), &scriptedDecider{}, book(bar("AAPL", friday, 100), bar("AAPL", monday, 100)))

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotRestartable)
	assert.Equal(t, consts.State_Completed, s.State())
}

func TestRunFailsOnMissingPriceAndKeepsPartialResult(t *testing.T) {
	d := &scriptedDecider{script: map[string]step{
		key("AAPL", friday): {action: models.ActionBuy, qty: 5},
	}}
	h := book(bar("AAPL", friday, 100), bar("MSFT", friday, 300), bar("MSFT", monday, 310))
	s := newSimulator(t, testConfig("AAPL", "MSFT"), d, h)

	res, err := s.Run(context.Background())
	var missing *models.MissingMarketDataError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "AAPL", missing.Ticker)
	assert.Equal(t, monday, missing.Date)

	assert.Equal(t, consts.State_Failed, s.State())
	require.NotNil(t, res)
	assert.Equal(t, consts.State_Failed, res.Status)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, []time.Time{friday}, res.Dates)
	assert.Len(t, res.Orders, 1)
	assert.Equal(t, int64(5), res.Portfolio.Position("AAPL").Quantity)
}

func TestRunSkipsCyclesWithoutSignals(t *testing.T) {
	d := &scriptedDecider{script: map[string]step{
		key("AAPL", friday): {err: models.ErrNoSignals},
		key("MSFT", friday): {action: models.ActionBuy, qty: 1},
	}}
	h := book(bar("AAPL", friday, 100), bar("AAPL", monday, 100), bar("MSFT", friday, 300), bar("MSFT", monday, 300))
	s := newSimulator(t, testConfig("MSFT", "AAPL"), d, h)

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "AAPL", res.Skipped[0].Ticker)
	assert.Equal(t, friday, res.Skipped[0].Date)
	assert.Len(t, res.Dates, 2)
	assert.Equal(t, []string{
		key("MSFT", friday), key("AAPL", friday),
		key("MSFT", monday), key("AAPL", monday),
	}, d.calls)
}

func TestRunFailsOnDeciderError(t *testing.T) {
	d := &scriptedDecider{script: map[string]step{
		key("AAPL", monday): {err: errors.New("mismatched scope")},
	}}
	s := newSimulator(t, testConfig("AAPL"), d, book(bar("AAPL", friday, 100), bar("AAPL", monday, 100)))

	res, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, consts.State_Failed, res.Status)
	assert.Len(t, res.Dates, 1)
}

func TestRunWithOrchestrator(t *testing.T) {
	mgr, err := risk.NewManager(risk.DefaultLimits())
	require.NoError(t, err)
	o, err := graph.NewOrchestrator(context.Background(), []agents.Producer{stubBull{"a"}, stubBull{"b"}}, mgr)
	require.NoError(t, err)

	var progress []decimal.Decimal
	s := newSimulator(t, testConfig("AAPL"), o, book(bar("AAPL", friday, 100), bar("AAPL", monday, 110)),
		WithProgress(func(_ time.Time, v decimal.Decimal) { progress = append(progress, v) }))

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, res.Orders)
	assert.Equal(t, models.ActionBuy, res.Orders[0].Action)
	assert.Equal(t, int64(160), res.Orders[0].Quantity)
	assert.True(t, res.Values[0].Equal(decimal.NewFromInt(100000)))
	assert.Len(t, progress, 2)
}

func TestNewSimulatorValidatesConfig(t *testing.T) {
	data := dataflows.NewProviderFrom(nil, zerolog.Nop())

	cfg := testConfig()
	_, err := NewSimulator(cfg, &scriptedDecider{}, data)
	assert.Error(t, err)

	cfg = testConfig("AAPL")
	cfg.Start, cfg.End = monday, friday
	_, err = NewSimulator(cfg, &scriptedDecider{}, data)
	assert.Error(t, err)

	cfg = testConfig("AAPL")
	cfg.InitialCash = decimal.Zero
	_, err = NewSimulator(cfg, &scriptedDecider{}, data)
	assert.Error(t, err)

	_, err = NewSimulator(testConfig("AAPL"), nil, data)
	assert.Error(t, err)
}

type deciderFunc func(context.Context, *graph.Request) (*graph.Decision, error)

func (f deciderFunc) Decide(ctx context.Context, req *graph.Request) (*graph.Decision, error) {
	return f(ctx, req)
}

// bullishOn is fully confident on one day and neutral on every other.
type bullishOn struct {
	name string
	day  time.Time
}

func (b bullishOn) Name() string { return b.name }

func (b bullishOn) Evaluate(_ context.Context, ticker string, date time.Time, _ *models.MarketContext) (*models.Signal, error) {
	if models.SameDay(date, b.day) {
		return &models.Signal{Ticker: ticker, Date: date, SourceID: b.name, Stance: models.Bullish, Confidence: 1}, nil
	}
	return &models.Signal{Ticker: ticker, Date: date, SourceID: b.name, Stance: models.Neutral, Confidence: 0.5}, nil
}

type brokenProducer struct{ name string }

func (b brokenProducer) Name() string { return b.name }

func (b brokenProducer) Evaluate(context.Context, string, time.Time, *models.MarketContext) (*models.Signal, error) {
	return nil, errors.New("upstream unavailable")
}

func orchestrator(t *testing.T, limits risk.Limits, producers ...agents.Producer) *graph.Orchestrator {
	t.Helper()
	mgr, err := risk.NewManager(limits)
	require.NoError(t, err)
	o, err := graph.NewOrchestrator(context.Background(), producers, mgr)
	require.NoError(t, err)
	return o
}

func TestRunEntersRunningOnFirstDate(t *testing.T) {
	var s *Simulator
	var seen []string
	d := deciderFunc(func(_ context.Context, req *graph.Request) (*graph.Decision, error) {
		seen = append(seen, s.State())
		return &graph.Decision{Ticker: req.Ticker, Date: req.Date}, nil
	})
	s = newSimulator(t, testConfig("AAPL"), d, book(bar("AAPL", friday, 100), bar("AAPL", monday, 100)))
	assert.Equal(t, consts.State_Initialized, s.State())

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{consts.State_Running, consts.State_Running}, seen)
	assert.Equal(t, consts.State_Completed, s.State())
}

func TestRunTwoDatesThroughOrchestrator(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.MaxPositionPct = decimal.NewFromFloat(0.01)
	o := orchestrator(t, limits, bullishOn{name: "a", day: friday})

	s := newSimulator(t, testConfig("AAPL"), o, book(bar("AAPL", friday, 100), bar("AAPL", monday, 110)))
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	var trades []models.Order
	for _, ord := range res.Orders {
		if ord.Action != models.ActionHold {
			trades = append(trades, ord)
		}
	}
	require.Len(t, trades, 1)
	assert.Equal(t, models.ActionBuy, trades[0].Action)
	assert.Equal(t, int64(10), trades[0].Quantity)
	assert.True(t, trades[0].Price.Equal(decimal.NewFromInt(100)))

	require.Len(t, res.Values, 2)
	assert.True(t, res.Values[0].Equal(decimal.NewFromInt(100000)), res.Values[0].String())
	assert.True(t, res.Values[1].Equal(decimal.NewFromInt(100100)), res.Values[1].String())
	assert.True(t, res.Portfolio.Cash.Equal(decimal.NewFromInt(99000)))
	assert.Empty(t, res.Skipped)
}

func TestRunSkipsCyclesWhenEveryProducerFails(t *testing.T) {
	o := orchestrator(t, risk.DefaultLimits(), brokenProducer{"a"}, brokenProducer{"b"})

	s := newSimulator(t, testConfig("AAPL"), o, book(bar("AAPL", friday, 100), bar("AAPL", monday, 100)))
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, consts.State_Completed, res.Status)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, friday, res.Skipped[0].Date)
	assert.Equal(t, monday, res.Skipped[1].Date)
	assert.Empty(t, res.Orders)
	assert.True(t, res.Values[1].Equal(decimal.NewFromInt(100000)))
}
