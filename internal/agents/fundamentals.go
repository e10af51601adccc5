package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/dyike/CortexFund/consts"
	"github.com/dyike/CortexFund/models"
)

// FundamentalsAnalyst scores profitability, growth, balance sheet health
// and price ratios, one point each.
type FundamentalsAnalyst struct {
	*BaseAgent
}

func NewFundamentalsAnalyst() *FundamentalsAnalyst {
	return &FundamentalsAnalyst{BaseAgent: NewBaseAgent(consts.Fundamentals, consts.Agent_Fundamentals)}
}

func (a *FundamentalsAnalyst) Evaluate(ctx context.Context, ticker string, date time.Time, mc *models.MarketContext) (*models.Signal, error) {
	m, err := requireMetrics(mc)
	if err != nil {
		return nil, err
	}

	var sc scorecard
	sc.add(countTrue(m.ReturnOnEquity > 0.15, m.NetMargin > 0.20, m.OperatingMargin > 0.15)/3, 1,
		"profitability ROE %s, net margin %s, operating margin %s", pct(m.ReturnOnEquity), pct(m.NetMargin), pct(m.OperatingMargin))
	sc.add(countTrue(m.RevenueGrowth > 0.10, m.EarningsGrowth > 0.10)/2, 1,
		"growth revenue %s, earnings %s", pct(m.RevenueGrowth), pct(m.EarningsGrowth))
	sc.add(countTrue(m.CurrentRatio > 1.5, m.DebtToEquity > 0 && m.DebtToEquity < 0.5)/2, 1,
		"health current ratio %.2f, debt/equity %.2f", m.CurrentRatio, m.DebtToEquity)
	sc.add(countTrue(
		m.PriceToEarnings > 0 && m.PriceToEarnings < 25,
		m.PriceToBook > 0 && m.PriceToBook < 3,
		m.PriceToSales > 0 && m.PriceToSales < 5,
	)/3, 1, "ratios P/E %.1f, P/B %.1f, P/S %.1f", m.PriceToEarnings, m.PriceToBook, m.PriceToSales)

	stance, conf := sc.verdict(0.6, 0.35)
	return a.signal(ticker, date, stance, conf, sc.rationale()), nil
}

// ValuationAnalyst compares a Graham intrinsic value with the last close.
type ValuationAnalyst struct {
	*BaseAgent
	marginOfSafety float64
}

func NewValuationAnalyst() *ValuationAnalyst {
	return &ValuationAnalyst{
		BaseAgent:      NewBaseAgent(consts.Valuation, consts.Agent_Valuation),
		marginOfSafety: 0.15,
	}
}

func (a *ValuationAnalyst) Evaluate(ctx context.Context, ticker string, date time.Time, mc *models.MarketContext) (*models.Signal, error) {
	m, err := requireMetrics(mc)
	if err != nil {
		return nil, err
	}
	price, err := latestPrice(mc)
	if err != nil {
		return nil, err
	}
	if m.EarningsPerShare <= 0 {
		return a.signal(ticker, date, models.Bearish, 0.4, fmt.Sprintf("non-positive EPS %.2f leaves no earnings value", m.EarningsPerShare)), nil
	}

	intrinsic := grahamValue(m.EarningsPerShare, m.EarningsGrowth)
	if m.FreeCashFlowYield > 0 && m.MarketCap > 0 {
		// Blend with a perpetuity on free cash flow per share at a 10% hurdle.
		fcfValue := price * m.FreeCashFlowYield / 0.10
		intrinsic = (intrinsic + fcfValue) / 2
	}
	gap := (intrinsic - price) / price
	rationale := fmt.Sprintf("intrinsic %.2f vs price %.2f, gap %s", intrinsic, price, pct(gap))

	switch {
	case gap > a.marginOfSafety:
		return a.signal(ticker, date, models.Bullish, gap, rationale), nil
	case gap < -a.marginOfSafety:
		return a.signal(ticker, date, models.Bearish, -gap, rationale), nil
	default:
		return a.signal(ticker, date, models.Neutral, 1-absf(gap)/a.marginOfSafety*0.5, rationale), nil
	}
}

func countTrue(conds ...bool) float64 {
	n := 0.0
	for _, c := range conds {
		if c {
			n++
		}
	}
	return n
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
