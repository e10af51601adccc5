package scheduler

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexFund/config"
	"github.com/dyike/CortexFund/internal/graph"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/app"
	"github.com/dyike/CortexFund/pkg/dataflows"
)

var today = time.Date(2024, 6, 28, 15, 0, 0, 0, time.UTC)

type fixedEngine struct{ e *app.Engine }

func (f fixedEngine) Engine() *app.Engine { return f.e }

type memRecorder struct {
	mu       sync.Mutex
	kind     string
	cycles   int
	equity   int
	finished bool
}

func (r *memRecorder) StartRun(_ context.Context, _, kind, _ string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kind = kind
	return nil
}

func (r *memRecorder) RecordCycle(context.Context, string, *graph.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
	return nil
}

func (r *memRecorder) RecordEquity(context.Context, string, time.Time, decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.equity++
	return nil
}

func (r *memRecorder) FinishRun(context.Context, string, *models.BacktestResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	return nil
}

func newEngine(t *testing.T) *app.Engine {
	t.Helper()
	cfg := *config.DefaultConfigWithRoot(t.TempDir())
	cfg.PriceSource = dataflows.PriceSourceOffline
	cfg.OnlineTools = false
	cfg.Analysts = []string{"technical"}

	var bars []models.PriceBar
	for i, d := range dataflows.BusinessDays(today.AddDate(0, 0, -cfg.LookbackDays), today) {
		c := decimal.NewFromFloat(50 + float64(i%7))
		bars = append(bars, models.PriceBar{Ticker: "MSFT", Date: d, Open: c, High: c, Low: c, Close: c, Volume: 10})
	}
	require.NoError(t, dataflows.NewOfflineStore(cfg.DataDir).SavePrices("MSFT", bars))

	e, err := app.BuildEngine(cfg)
	require.NoError(t, err)
	return e
}

func TestRunOncePersistsPortfolio(t *testing.T) {
	e := newEngine(t)
	rec := &memRecorder{}
	s, err := New(fixedEngine{e}, []string{"MSFT"}, WithRecorder(rec), WithClock(func() time.Time { return today }))
	require.NoError(t, err)

	cycle, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Day(today), cycle.Date)
	assert.Len(t, cycle.Decisions, 1)

	_, err = os.Stat(e.PortfolioPath())
	require.NoError(t, err)
	pf, err := e.LoadPortfolio(e.PortfolioPath())
	require.NoError(t, err)
	assert.Equal(t, models.Day(today), models.Day(pf.Date))

	value, err := pf.TotalValue(cycle.Prices)
	require.NoError(t, err)
	assert.True(t, value.Equal(cycle.Value))

	assert.Equal(t, 1, rec.cycles)
	assert.Equal(t, 1, rec.equity)
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	s, err := New(fixedEngine{newEngine(t)}, []string{"MSFT"})
	require.NoError(t, err)

	assert.Error(t, s.Register("not a cron spec"))
	assert.NoError(t, s.Register("CRON_TZ=America/New_York 30 16 * * 1-5"))
}

func TestStartStopRecordsRun(t *testing.T) {
	rec := &memRecorder{}
	s, err := New(fixedEngine{newEngine(t)}, []string{"MSFT"}, WithRecorder(rec))
	require.NoError(t, err)
	require.NoError(t, s.Register("@every 1h"))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop(context.Background())

	assert.Equal(t, "live", rec.kind)
	assert.True(t, rec.finished)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, []string{"MSFT"})
	assert.Error(t, err)
	_, err = New(fixedEngine{}, nil)
	assert.Error(t, err)
}
