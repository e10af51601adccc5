// Package display renders decisions and backtest reports for the terminal.
package display

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/consts"
	"github.com/dyike/CortexFund/internal/graph"
	"github.com/dyike/CortexFund/internal/storage/sqlite"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/app"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#3B82F6")).
		MarginTop(1)

	boxStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#10B981")).
		Padding(0, 2)

	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	bullishStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	bearishStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	neutralStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	headerCell   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell         = lipgloss.NewStyle().Padding(0, 1)
)

func stanceStyle(s models.Stance) lipgloss.Style {
	switch s {
	case models.Bullish:
		return bullishStyle
	case models.Bearish:
		return bearishStyle
	default:
		return neutralStyle
	}
}

func actionStyle(a models.Action) lipgloss.Style {
	switch a {
	case models.ActionBuy, models.ActionCover:
		return bullishStyle
	case models.ActionSell, models.ActionShort:
		return bearishStyle
	default:
		return neutralStyle
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			return cell
		})
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func percent(f float64) string { return strconv.FormatFloat(f*100, 'f', 2, 64) + "%" }

// Decision prints one cycle: the signals, their aggregate, the risk bound
// and the orders applied.
func Decision(w io.Writer, d *graph.Decision) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s  %s", d.Ticker, d.Date.Format(models.DateLayout))))

	if len(d.Signals) > 0 {
		t := newTable("Analyst", "Stance", "Confidence", "Reasoning")
		for _, s := range d.Signals {
			t.Row(s.SourceID, stanceStyle(s.Stance).Render(string(s.Stance)), percent(s.Confidence), truncate(s.Rationale, 60))
		}
		fmt.Fprintln(w, t.String())
	}
	for _, f := range d.Failures {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("  %s failed: %v", f.SourceID, f.Err)))
	}

	var lines []string
	if a := d.Aggregate; a != nil {
		lines = append(lines, fmt.Sprintf("Net stance  %s  strength %s  (%d signals)",
			stanceStyle(a.NetStance).Render(string(a.NetStance)), percent(a.Strength), len(a.Contributing)))
	}
	if b := d.Bound; b != nil {
		lines = append(lines, fmt.Sprintf("Risk bound  %s max value, %d max shares @ %s",
			money(b.MaxPositionValue), b.MaxShares, money(b.Price)))
	}
	if len(d.Orders) == 0 {
		lines = append(lines, mutedStyle.Render("No orders"))
	}
	for _, o := range d.Orders {
		lines = append(lines, "Order       "+actionStyle(o.Action).Render(strings.ToUpper(string(o.Action)))+
			fmt.Sprintf(" %d @ %s", o.Quantity, money(o.Price)))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

// Cycle prints every decision of a live date followed by the portfolio
// when one is given.
func Cycle(w io.Writer, c *app.Cycle, pf *models.Portfolio) {
	for _, d := range c.Decisions {
		Decision(w, d)
	}
	if pf != nil {
		Portfolio(w, pf, c.Prices)
	}
	fmt.Fprintf(w, "Total value %s\n", money(c.Value))
}

func Portfolio(w io.Writer, pf *models.Portfolio, prices map[string]decimal.Decimal) {
	fmt.Fprintln(w, sectionStyle.Render("Portfolio"))
	fmt.Fprintf(w, "Cash %s  Margin used %s  Realized P&L %s\n", money(pf.Cash), money(pf.MarginUsed), money(pf.RealizedPnL))
	if len(pf.Positions) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No open positions"))
		return
	}
	t := newTable("Ticker", "Quantity", "Avg cost", "Price", "Value")
	for _, ticker := range pf.Tickers() {
		pos := pf.Position(ticker)
		price, value := "-", "-"
		if p, ok := prices[ticker]; ok {
			price, value = money(p), money(pos.Value(p))
		}
		t.Row(ticker, strconv.FormatInt(pos.Quantity, 10), money(pos.AverageCost), price, value)
	}
	fmt.Fprintln(w, t.String())
}

// Backtest prints the summary metrics, the orders and any skipped cycles.
func Backtest(w io.Writer, r *models.BacktestResult) {
	fmt.Fprintln(w, titleStyle.Render("Backtest "+r.RunID))

	status := successStyle.Render(r.Status)
	if r.Status == consts.State_Failed {
		status = errorStyle.Render(r.Status + ": " + r.Error)
	}
	m := r.Metrics
	summary := []string{
		"Status        " + status,
		fmt.Sprintf("Dates         %d", len(r.Dates)),
	}
	if n := len(r.Values); n > 0 {
		summary = append(summary,
			fmt.Sprintf("Final value   %s", money(r.Values[n-1])),
			"Total return  "+percent(m.TotalReturn),
			fmt.Sprintf("Sharpe        %.2f", m.SharpeRatio),
			fmt.Sprintf("Sortino       %.2f", m.SortinoRatio),
			"Max drawdown  "+percent(m.MaxDrawdown)+maxDrawdownDate(m),
			fmt.Sprintf("Orders        %d", m.OrderCount),
			fmt.Sprintf("Exposure      long %s  short %s  gross %s", money(m.LongExposure), money(m.ShortExposure), money(m.GrossExposure)),
		)
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(summary, "\n")))

	if len(r.Orders) > 0 {
		fmt.Fprintln(w, sectionStyle.Render("Orders"))
		t := newTable("Date", "Ticker", "Action", "Quantity", "Price")
		for _, o := range r.Orders {
			if o.Action == models.ActionHold {
				continue
			}
			t.Row(o.Date.Format(models.DateLayout), o.Ticker, actionStyle(o.Action).Render(string(o.Action)),
				strconv.FormatInt(o.Quantity, 10), money(o.Price))
		}
		fmt.Fprintln(w, t.String())
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintln(w, sectionStyle.Render("Skipped cycles"))
		for _, s := range r.Skipped {
			fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("  %s %s: %s", s.Date.Format(models.DateLayout), s.Ticker, s.Reason)))
		}
	}
}

func maxDrawdownDate(m models.PerformanceMetrics) string {
	if m.MaxDrawdownDate.IsZero() {
		return ""
	}
	return " on " + m.MaxDrawdownDate.Format(models.DateLayout)
}

// Runs lists stored runs, newest first.
func Runs(w io.Writer, runs []sqlite.RunWithMeta) {
	if len(runs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No runs recorded"))
		return
	}
	t := newTable("Run", "Kind", "Name", "Status", "Created")
	for _, r := range runs {
		t.Row(r.ID, r.Kind, r.Name, r.Status, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(w, t.String())
}

// RunDetail prints one stored run with its decisions, orders and the last
// equity points.
func RunDetail(w io.Writer, run *sqlite.RunWithMeta, decisions []sqlite.DecisionRecord, orders []models.Order, equity []sqlite.EquityPoint) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s run %s", run.Kind, run.ID)))
	lines := []string{
		"Name     " + run.Name,
		"Status   " + run.Status,
		"Created  " + run.CreatedAt.Format("2006-01-02 15:04"),
	}
	if run.Error != "" {
		lines = append(lines, errorStyle.Render("Error    "+run.Error))
	}
	if run.MetricsJSON != "" && run.MetricsJSON != "{}" {
		lines = append(lines, "Metrics  "+run.MetricsJSON)
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))

	if len(decisions) > 0 {
		fmt.Fprintln(w, sectionStyle.Render("Decisions"))
		t := newTable("Date", "Ticker", "Stance", "Strength", "Failures")
		for _, d := range decisions {
			t.Row(d.Date.Format(models.DateLayout), d.Ticker, stanceStyle(models.Stance(d.Stance)).Render(d.Stance),
				percent(d.Strength), strconv.Itoa(d.Failures))
		}
		fmt.Fprintln(w, t.String())
	}
	if len(orders) > 0 {
		fmt.Fprintln(w, sectionStyle.Render("Orders"))
		t := newTable("Date", "Ticker", "Action", "Quantity", "Price")
		for _, o := range orders {
			t.Row(o.Date.Format(models.DateLayout), o.Ticker, actionStyle(o.Action).Render(string(o.Action)),
				strconv.FormatInt(o.Quantity, 10), money(o.Price))
		}
		fmt.Fprintln(w, t.String())
	}
	const tail = 10
	if len(equity) > 0 {
		fmt.Fprintln(w, sectionStyle.Render("Equity"))
		t := newTable("Date", "Value")
		for _, p := range equity[max(0, len(equity)-tail):] {
			t.Row(p.Date.Format(models.DateLayout), money(p.Value))
		}
		fmt.Fprintln(w, t.String())
	}
}

// Progress draws a single-line progress bar.
func Progress(w io.Writer, phase string, progress, total int) {
	if total <= 0 {
		return
	}
	const barWidth = 40
	filled := progress * barWidth / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Fprintf(w, "\r%s [%s] %d%% (%d/%d)", phase, bar, progress*100/total, progress, total)
	if progress >= total {
		fmt.Fprintln(w)
	}
}

func Error(w io.Writer, err error, context string) {
	fmt.Fprintln(w, errorStyle.Render("Error in "+context+":"))
	fmt.Fprintf(w, "   %v\n", err)
}

func Warning(w io.Writer, message string) {
	fmt.Fprintln(w, warnStyle.Render("Warning: "+message))
}

func Success(w io.Writer, message string) {
	fmt.Fprintln(w, successStyle.Render(message))
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
