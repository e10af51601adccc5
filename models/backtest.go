package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PerformanceMetrics struct {
	TotalReturn     float64         `json:"total_return"`
	SharpeRatio     float64         `json:"sharpe_ratio"`
	SortinoRatio    float64         `json:"sortino_ratio"`
	MaxDrawdown     float64         `json:"max_drawdown"`
	MaxDrawdownDate time.Time       `json:"max_drawdown_date"`
	OrderCount      int             `json:"order_count"`
	LongExposure    decimal.Decimal `json:"long_exposure"`
	ShortExposure   decimal.Decimal `json:"short_exposure"`
	GrossExposure   decimal.Decimal `json:"gross_exposure"`
}

// BacktestResult grows while the simulator runs. Dates and Values stay
// aligned index by index.
type BacktestResult struct {
	RunID     string             `json:"run_id"`
	Status    string             `json:"status"`
	Error     string             `json:"error,omitempty"`
	Dates     []time.Time        `json:"dates"`
	Values    []decimal.Decimal  `json:"portfolio_value_series"`
	Orders    []Order            `json:"orders_emitted"`
	Skipped   []SkippedCycle     `json:"skipped_cycles,omitempty"`
	Metrics   PerformanceMetrics `json:"metrics"`
	Portfolio *Portfolio         `json:"portfolio,omitempty"`
}

// SkippedCycle records a ticker/date whose cycle was aborted without
// failing the run, e.g. because every producer failed.
type SkippedCycle struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
}
