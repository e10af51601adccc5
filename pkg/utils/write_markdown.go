package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyike/CortexFund/models"
)

// WriteMarkdown writes content to dir/name, creating dir, and returns the
// full path.
func WriteMarkdown(dir, name, content string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %v", dir, err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file %s: %v", path, err)
	}
	return path, nil
}

// BacktestMarkdown renders a result as a markdown report.
func BacktestMarkdown(name string, r *models.BacktestResult) string {
	var b strings.Builder
	m := r.Metrics

	fmt.Fprintf(&b, "# Backtest %s\n\n", name)
	fmt.Fprintf(&b, "- Run: `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- Status: %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(&b, "- Error: %s\n", r.Error)
	}
	if n := len(r.Dates); n > 0 {
		fmt.Fprintf(&b, "- Period: %s to %s (%d dates)\n",
			r.Dates[0].Format(models.DateLayout), r.Dates[n-1].Format(models.DateLayout), n)
	}

	b.WriteString("\n## Metrics\n\n| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Total return | %.2f%% |\n", m.TotalReturn*100)
	fmt.Fprintf(&b, "| Sharpe | %.2f |\n", m.SharpeRatio)
	fmt.Fprintf(&b, "| Sortino | %.2f |\n", m.SortinoRatio)
	fmt.Fprintf(&b, "| Max drawdown | %.2f%% |\n", m.MaxDrawdown*100)
	fmt.Fprintf(&b, "| Orders | %d |\n", m.OrderCount)
	fmt.Fprintf(&b, "| Long exposure | %s |\n", m.LongExposure.StringFixed(2))
	fmt.Fprintf(&b, "| Short exposure | %s |\n", m.ShortExposure.StringFixed(2))

	if len(r.Values) > 0 {
		b.WriteString("\n## Portfolio value\n\n| Date | Value |\n|---|---|\n")
		for i, v := range r.Values {
			fmt.Fprintf(&b, "| %s | %s |\n", r.Dates[i].Format(models.DateLayout), v.StringFixed(2))
		}
	}

	var trades []models.Order
	for _, o := range r.Orders {
		if o.Action != models.ActionHold {
			trades = append(trades, o)
		}
	}
	if len(trades) > 0 {
		b.WriteString("\n## Orders\n\n| Date | Ticker | Action | Quantity | Price |\n|---|---|---|---|---|\n")
		for _, o := range trades {
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n",
				o.Date.Format(models.DateLayout), o.Ticker, o.Action, o.Quantity, o.Price.StringFixed(2))
		}
	}

	if len(r.Skipped) > 0 {
		b.WriteString("\n## Skipped cycles\n\n")
		for _, s := range r.Skipped {
			fmt.Fprintf(&b, "- %s %s: %s\n", s.Date.Format(models.DateLayout), s.Ticker, s.Reason)
		}
	}
	return b.String()
}
