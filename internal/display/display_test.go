package display

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dyike/CortexFund/consts"
	"github.com/dyike/CortexFund/internal/graph"
	"github.com/dyike/CortexFund/internal/storage/sqlite"
	"github.com/dyike/CortexFund/models"
)

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestDecision(t *testing.T) {
	sig := models.Signal{Ticker: "AAPL", Date: day, SourceID: "technical", Stance: models.Bullish, Confidence: 0.8, Rationale: "trend up"}
	d := &graph.Decision{
		Ticker:    "AAPL",
		Date:      day,
		Signals:   []models.Signal{sig},
		Failures:  []*models.ProducerError{{SourceID: "valuation", Ticker: "AAPL", Date: day, Err: errors.New("no metrics")}},
		Aggregate: &models.AggregatedSignal{Ticker: "AAPL", Date: day, NetStance: models.Bullish, Strength: 0.8, Contributing: []models.Signal{sig}},
		Bound:     &models.RiskBound{Ticker: "AAPL", Date: day, Price: decimal.NewFromInt(100), MaxPositionValue: decimal.NewFromInt(20000), MaxShares: 200},
		Orders:    []models.Order{{Ticker: "AAPL", Date: day, Action: models.ActionBuy, Quantity: 160, Price: decimal.NewFromInt(100)}},
	}

	var buf bytes.Buffer
	Decision(&buf, d)
	out := buf.String()

	assert.Contains(t, out, "AAPL  2024-03-01")
	assert.Contains(t, out, "technical")
	assert.Contains(t, out, "trend up")
	assert.Contains(t, out, "valuation failed: no metrics")
	assert.Contains(t, out, "80.00%")
	assert.Contains(t, out, "BUY")
	assert.Contains(t, out, "160 @ 100.00")
}

func TestBacktestReport(t *testing.T) {
	pf := models.NewPortfolio(decimal.NewFromInt(99000), decimal.NewFromFloat(0.5))
	r := &models.BacktestResult{
		RunID:  "run-1",
		Status: consts.State_Completed,
		Dates:  []time.Time{day, day.AddDate(0, 0, 3)},
		Values: []decimal.Decimal{decimal.NewFromInt(100000), decimal.NewFromInt(100100)},
		Orders: []models.Order{
			{Ticker: "AAPL", Date: day, Action: models.ActionBuy, Quantity: 10, Price: decimal.NewFromInt(100)},
		},
		Skipped:   []models.SkippedCycle{{Ticker: "MSFT", Date: day, Reason: "no signals to aggregate"}},
		Metrics:   models.PerformanceMetrics{TotalReturn: 0.001, OrderCount: 1},
		Portfolio: pf,
	}

	var buf bytes.Buffer
	Backtest(&buf, r)
	out := buf.String()

	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "100100.00")
	assert.Contains(t, out, "0.10%")
	assert.Contains(t, out, "MSFT: no signals to aggregate")

	r.Status, r.Error = consts.State_Failed, "no market price"
	buf.Reset()
	Backtest(&buf, r)
	assert.Contains(t, buf.String(), "failed: no market price")
}

func TestPortfolioAndRuns(t *testing.T) {
	pf := models.NewPortfolio(decimal.NewFromInt(99000), decimal.NewFromFloat(0.5))
	pf.Positions["AAPL"] = &models.Position{Ticker: "AAPL", Quantity: 10, AverageCost: decimal.NewFromInt(100)}

	var buf bytes.Buffer
	Portfolio(&buf, pf, map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(110)})
	assert.Contains(t, buf.String(), "1100.00")

	buf.Reset()
	Runs(&buf, nil)
	assert.Contains(t, buf.String(), "No runs recorded")

	buf.Reset()
	Runs(&buf, []sqlite.RunWithMeta{{RunRecord: sqlite.RunRecord{ID: "abc", Kind: sqlite.KindBacktest, Status: "completed"}, CreatedAt: day}})
	assert.Contains(t, buf.String(), "abc")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "a b", truncate("a \n b", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
