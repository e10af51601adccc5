package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/models"
)

// TradingDaysPerYear annualizes daily Sharpe and Sortino ratios.
const TradingDaysPerYear = 252

// Performance summarizes an equity curve. The risk-free rate is zero.
// MaxDrawdown is a positive fraction of the preceding peak.
func Performance(dates []time.Time, values []decimal.Decimal) models.PerformanceMetrics {
	var m models.PerformanceMetrics
	if len(values) == 0 {
		return m
	}

	series := make([]float64, len(values))
	for i, v := range values {
		series[i], _ = v.Float64()
	}
	if series[0] > 0 {
		m.TotalReturn = series[len(series)-1]/series[0] - 1
	}

	returns := dailyReturns(series)
	mean := average(returns)
	if sd := stddev(returns, mean); sd > 0 {
		m.SharpeRatio = mean / sd * math.Sqrt(TradingDaysPerYear)
	}
	if dd := downsideDeviation(returns); dd > 0 {
		m.SortinoRatio = mean / dd * math.Sqrt(TradingDaysPerYear)
	}

	peak := series[0]
	for i, v := range series {
		if v > peak {
			peak = v
			continue
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
			if i < len(dates) {
				m.MaxDrawdownDate = dates[i]
			}
		}
	}
	return m
}

func dailyReturns(series []float64) []float64 {
	out := make([]float64, 0, len(series))
	for i := 1; i < len(series); i++ {
		if series[i-1] == 0 {
			continue
		}
		out = append(out, series[i]/series[i-1]-1)
	}
	return out
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation.
func stddev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func downsideDeviation(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		if x < 0 {
			ss += x * x
		}
	}
	return math.Sqrt(ss / float64(len(xs)))
}
