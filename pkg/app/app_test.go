package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexFund/config"
	"github.com/dyike/CortexFund/internal/backtest"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/dataflows"
)

var asOf = time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

func offlineConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := *config.DefaultConfigWithRoot(t.TempDir())
	cfg.PriceSource = dataflows.PriceSourceOffline
	cfg.OnlineTools = false
	cfg.Analysts = []string{"technical", "valuation"}
	cfg.ProducerTimeoutSec = 5

	var bars []models.PriceBar
	for i, d := range dataflows.BusinessDays(asOf.AddDate(0, 0, -cfg.LookbackDays), asOf) {
		c := decimal.NewFromFloat(100 + float64(i)*0.5)
		bars = append(bars, models.PriceBar{Ticker: "AAPL", Date: d, Open: c, High: c, Low: c, Close: c, Volume: 1000})
	}
	require.NoError(t, dataflows.NewOfflineStore(cfg.DataDir).SavePrices("AAPL", bars))
	return cfg
}

func TestBuildEngine(t *testing.T) {
	cfg := offlineConfig(t)
	e, err := BuildEngine(cfg)
	require.NoError(t, err)

	require.Len(t, e.Producers, 2)
	assert.Equal(t, "technical", e.Producers[0].Name())
	assert.True(t, e.Limits.MaxPositionPct.Equal(decimal.NewFromFloat(0.2)))
	assert.True(t, e.NewPortfolio().Cash.Equal(decimal.NewFromInt(100000)))

	cfg.Analysts = []string{"nobody"}
	_, err = BuildEngine(cfg)
	assert.Error(t, err)

	cfg.Analysts = []string{"technical"}
	cfg.MaxPositionPct = 2
	_, err = BuildEngine(cfg)
	assert.Error(t, err)
}

func TestEngineDecide(t *testing.T) {
	e, err := BuildEngine(offlineConfig(t))
	require.NoError(t, err)

	pf := e.NewPortfolio()
	cycle, err := e.Decide(context.Background(), []string{"AAPL"}, asOf, pf)
	require.NoError(t, err)
	require.Len(t, cycle.Decisions, 1)
	dec := cycle.Decisions[0]
	assert.Equal(t, "AAPL", dec.Ticker)
	assert.Equal(t, 2, len(dec.Signals)+len(dec.Failures))
	assert.Equal(t, asOf, pf.Date)

	want, err := pf.TotalValue(cycle.Prices)
	require.NoError(t, err)
	assert.True(t, want.Equal(cycle.Value))

	// No bars on or before the date.
	_, err = e.Decide(context.Background(), []string{"AAPL"}, asOf.AddDate(-1, 0, 0), e.NewPortfolio())
	var missing *models.MissingMarketDataError
	assert.ErrorAs(t, err, &missing)

	_, err = e.Decide(context.Background(), []string{"MSFT"}, asOf, e.NewPortfolio())
	assert.Error(t, err)
}

func TestEngineSimulator(t *testing.T) {
	e, err := BuildEngine(offlineConfig(t))
	require.NoError(t, err)

	sim, err := e.Simulator(backtest.Config{
		Tickers:           []string{"AAPL"},
		Start:             asOf.AddDate(0, 0, -14),
		End:               asOf,
		InitialCash:       decimal.NewFromInt(100000),
		MarginRequirement: decimal.NewFromFloat(0.5),
	})
	require.NoError(t, err)

	res, err := sim.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Dates, 11)
	assert.Len(t, res.Values, 11)
}

func TestRuntimeReloadsEngine(t *testing.T) {
	cfg := offlineConfig(t)
	mgr, err := config.NewManager(config.WithConfigDir(t.TempDir()), config.WithInitialConfig(&cfg))
	require.NoError(t, err)

	var topics []string
	rt, err := NewRuntime(mgr, WithNotifier(func(topic, _ string) { topics = append(topics, topic) }))
	require.NoError(t, err)
	defer rt.Close()

	first := rt.Engine()
	require.NotNil(t, first)

	next := mgr.Get()
	next.Analysts = []string{"sentiment"}
	data, _ := json.Marshal(next)
	require.NoError(t, rt.UpdateConfigJSON(string(data)))

	second := rt.Engine()
	assert.Greater(t, second.Version, first.Version)
	require.Len(t, second.Producers, 1)
	assert.Equal(t, "sentiment", second.Producers[0].Name())

	next.Analysts = []string{"nobody"}
	require.NoError(t, mgr.Update(next))
	assert.Same(t, second, rt.Engine())
	assert.Equal(t, []string{TopicReloaded, TopicReloaded, TopicReloadFailed}, topics)
	assert.Error(t, rt.LastError())
}

func TestRuntimeIgnoresEngineNeutralChanges(t *testing.T) {
	cfg := offlineConfig(t)
	mgr, err := config.NewManager(config.WithConfigDir(t.TempDir()), config.WithInitialConfig(&cfg))
	require.NoError(t, err)

	builds := 0
	rt, err := NewRuntime(mgr, WithBuilder(func(c config.Config) (*Engine, error) {
		builds++
		return BuildEngine(c)
	}))
	require.NoError(t, err)
	defer rt.Close()
	first := rt.Engine()

	require.NoError(t, rt.UpdateConfigJSON(`{"log_level": "debug", "watch_schedule": "@every 1h"}`))
	assert.Same(t, first, rt.Engine())
	assert.Equal(t, 1, builds)

	require.NoError(t, rt.UpdateConfigJSON(`{"max_position_pct": 0.1}`))
	assert.NotSame(t, first, rt.Engine())
	assert.Equal(t, 2, builds)
	assert.NoError(t, rt.LastError())
}

func TestPortfolioRoundTrip(t *testing.T) {
	e, err := BuildEngine(offlineConfig(t))
	require.NoError(t, err)
	path := e.PortfolioPath()

	pf, err := e.LoadPortfolio(path)
	require.NoError(t, err)
	assert.Empty(t, pf.Positions)

	pf.Cash = decimal.NewFromInt(99000)
	pf.Positions["AAPL"] = &models.Position{Ticker: "AAPL", Quantity: 10, AverageCost: decimal.NewFromInt(100)}
	require.NoError(t, SavePortfolio(path, pf))

	loaded, err := e.LoadPortfolio(path)
	require.NoError(t, err)
	assert.True(t, loaded.Cash.Equal(pf.Cash))
	assert.Equal(t, int64(10), loaded.Position("AAPL").Quantity)
	assert.True(t, loaded.MarginRequirement.Equal(decimal.NewFromFloat(0.5)))
}
