package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexFund/models"
)

func TestBacktestMarkdown(t *testing.T) {
	d1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 3)
	r := &models.BacktestResult{
		RunID:  "run-1",
		Status: "completed",
		Dates:  []time.Time{d1, d2},
		Values: []decimal.Decimal{decimal.NewFromInt(100000), decimal.NewFromInt(101000)},
		Orders: []models.Order{
			{Ticker: "AAPL", Date: d1, Action: models.ActionBuy, Quantity: 10, Price: decimal.NewFromInt(100)},
			{Ticker: "MSFT", Date: d1, Action: models.ActionHold},
		},
		Skipped: []models.SkippedCycle{{Ticker: "MSFT", Date: d2, Reason: "no signals"}},
		Metrics: models.PerformanceMetrics{TotalReturn: 0.01, OrderCount: 1},
	}

	md := BacktestMarkdown("megacaps", r)
	assert.Contains(t, md, "# Backtest megacaps")
	assert.Contains(t, md, "- Period: 2024-03-01 to 2024-03-04 (2 dates)")
	assert.Contains(t, md, "| Total return | 1.00% |")
	assert.Contains(t, md, "| 2024-03-04 | 101000.00 |")
	assert.Contains(t, md, "| 2024-03-01 | AAPL | buy | 10 | 100.00 |")
	assert.NotContains(t, md, "| MSFT | hold")
	assert.Contains(t, md, "- 2024-03-04 MSFT: no signals")
}

func TestWriteMarkdown(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	path, err := WriteMarkdown(dir, "r.md", "# hi\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "r.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# hi\n", string(data))
}
