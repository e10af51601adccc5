package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceBar struct {
	Ticker string          `json:"ticker"`
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// FinancialMetrics holds the latest reported ratios. A zero field means the
// source did not report it.
type FinancialMetrics struct {
	Ticker            string  `json:"ticker"`
	ReportPeriod      string  `json:"report_period"`
	MarketCap         float64 `json:"market_cap"`
	PriceToEarnings   float64 `json:"price_to_earnings_ratio"`
	PriceToBook       float64 `json:"price_to_book_ratio"`
	PriceToSales      float64 `json:"price_to_sales_ratio"`
	PEG               float64 `json:"peg_ratio"`
	GrossMargin       float64 `json:"gross_margin"`
	OperatingMargin   float64 `json:"operating_margin"`
	NetMargin         float64 `json:"net_margin"`
	ReturnOnEquity    float64 `json:"return_on_equity"`
	ReturnOnAssets    float64 `json:"return_on_assets"`
	RevenueGrowth     float64 `json:"revenue_growth"`
	EarningsGrowth    float64 `json:"earnings_growth"`
	DebtToEquity      float64 `json:"debt_to_equity"`
	CurrentRatio      float64 `json:"current_ratio"`
	FreeCashFlowYield float64 `json:"free_cash_flow_yield"`
	EarningsPerShare  float64 `json:"earnings_per_share"`
	BookValuePerShare float64 `json:"book_value_per_share"`
}

type NewsItem struct {
	Ticker    string    `json:"ticker"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	Date      time.Time `json:"date"`
	Sentiment string    `json:"sentiment,omitempty"`
}

type InsiderTrade struct {
	Ticker          string    `json:"ticker"`
	Name            string    `json:"name"`
	TransactionDate time.Time `json:"transaction_date"`
	Shares          int64     `json:"transaction_shares"`
	Price           float64   `json:"transaction_price_per_share"`
}

// MarketContext is everything a producer may look at for one ticker/date.
// Prices only contains bars on or before Date.
type MarketContext struct {
	Ticker        string            `json:"ticker"`
	Date          time.Time         `json:"date"`
	Prices        []PriceBar        `json:"prices"`
	Metrics       *FinancialMetrics `json:"metrics,omitempty"`
	News          []NewsItem        `json:"news,omitempty"`
	InsiderTrades []InsiderTrade    `json:"insider_trades,omitempty"`
}

func (c *MarketContext) Closes() []float64 {
	out := make([]float64, len(c.Prices))
	for i, bar := range c.Prices {
		out[i], _ = bar.Close.Float64()
	}
	return out
}

func (c *MarketContext) LatestClose() (decimal.Decimal, bool) {
	if len(c.Prices) == 0 {
		return decimal.Zero, false
	}
	return c.Prices[len(c.Prices)-1].Close, true
}
