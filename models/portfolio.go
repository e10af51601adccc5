package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Position quantity is signed: positive long, negative short.
type Position struct {
	Ticker      string          `json:"ticker"`
	Quantity    int64           `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
	// Margin posted against the short side of this position.
	Margin decimal.Decimal `json:"margin"`
}

func (p Position) IsLong() bool  { return p.Quantity > 0 }
func (p Position) IsShort() bool { return p.Quantity < 0 }

// Value is the signed market value at price.
func (p Position) Value(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Quantity))
}

type Portfolio struct {
	Cash              decimal.Decimal      `json:"cash"`
	MarginUsed        decimal.Decimal      `json:"margin_used"`
	MarginRequirement decimal.Decimal      `json:"margin_requirement"`
	Positions         map[string]*Position `json:"positions"`
	RealizedPnL       decimal.Decimal      `json:"realized_pnl"`
	Date              time.Time            `json:"date"`
}

func NewPortfolio(cash, marginRequirement decimal.Decimal) *Portfolio {
	return &Portfolio{
		Cash:              cash,
		MarginRequirement: marginRequirement,
		Positions:         make(map[string]*Position),
	}
}

// Position returns a copy of the ticker's position, or a flat one.
func (p *Portfolio) Position(ticker string) Position {
	if pos, ok := p.Positions[ticker]; ok && pos != nil {
		return *pos
	}
	return Position{Ticker: ticker}
}

func (p *Portfolio) Tickers() []string {
	out := make([]string, 0, len(p.Positions))
	for t := range p.Positions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (p *Portfolio) Clone() *Portfolio {
	cp := *p
	cp.Positions = make(map[string]*Position, len(p.Positions))
	for t, pos := range p.Positions {
		c := *pos
		cp.Positions[t] = &c
	}
	return &cp
}

// TotalValue marks every position to prices. Margin posted for shorts is
// still owned by the portfolio, so it counts towards the total.
func (p *Portfolio) TotalValue(prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	total := p.Cash.Add(p.MarginUsed)
	for ticker, pos := range p.Positions {
		price, ok := prices[ticker]
		if !ok {
			return decimal.Zero, &MissingMarketDataError{Ticker: ticker, Date: p.Date}
		}
		total = total.Add(pos.Value(price))
	}
	return total, nil
}

// Exposure returns long, short and gross notional exposure at prices.
func (p *Portfolio) Exposure(prices map[string]decimal.Decimal) (long, short, gross decimal.Decimal, err error) {
	for ticker, pos := range p.Positions {
		price, ok := prices[ticker]
		if !ok {
			return decimal.Zero, decimal.Zero, decimal.Zero, &MissingMarketDataError{Ticker: ticker, Date: p.Date}
		}
		v := pos.Value(price)
		if pos.IsLong() {
			long = long.Add(v)
		} else {
			short = short.Add(v.Abs())
		}
	}
	return long, short, long.Add(short), nil
}
