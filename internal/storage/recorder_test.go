package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexFund/internal/graph"
	"github.com/dyike/CortexFund/internal/storage/sqlite"
	"github.com/dyike/CortexFund/models"
)

func TestRunRecorderFlushesOnFinish(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "fund.db"))
	require.NoError(t, err)
	defer store.Close()

	rec, err := NewRunRecorder(store, zerolog.Nop())
	require.NoError(t, err)
	defer rec.Close()

	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	price := decimal.NewFromInt(100)

	require.NoError(t, rec.StartRun(ctx, "run-1", sqlite.KindBacktest, "smoke", map[string]any{"tickers": []string{"AAPL"}}))
	require.NoError(t, rec.RecordCycle(ctx, "run-1", &graph.Decision{
		Ticker:    "AAPL",
		Date:      day,
		Signals:   []models.Signal{{Ticker: "AAPL", Date: day, SourceID: "technical", Stance: models.Bullish, Confidence: 0.6}},
		Aggregate: &models.AggregatedSignal{Ticker: "AAPL", Date: day, NetStance: models.Bullish, Strength: 0.6},
		Orders:    []models.Order{{Ticker: "AAPL", Date: day, Action: models.ActionBuy, Quantity: 120, Price: price}},
	}))
	require.NoError(t, rec.RecordEquity(ctx, "run-1", day, decimal.NewFromInt(100000)))
	require.NoError(t, rec.FinishRun(ctx, "run-1", &models.BacktestResult{RunID: "run-1", Status: "completed"}))

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "completed", run.Status)
	assert.Contains(t, run.ConfigJSON, "AAPL")

	orders, err := store.ListOrders(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(120), orders[0].Quantity)

	decisions, err := store.ListDecisions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Contains(t, decisions[0].SignalsJSON, "technical")

	equity, err := store.ListEquity(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, equity, 1)
}

func TestRunRecorderRejectsAfterClose(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "fund.db"))
	require.NoError(t, err)
	defer store.Close()

	rec, err := NewRunRecorder(store, zerolog.Nop())
	require.NoError(t, err)
	rec.Close()
	rec.Close()

	assert.Error(t, rec.RecordEquity(context.Background(), "run", time.Now(), decimal.Zero))

	_, err = NewRunRecorder(nil, zerolog.Nop())
	assert.Error(t, err)
}
