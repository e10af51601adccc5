package dataflows

import (
	"fmt"
	"math"

	"github.com/dyike/CortexFund/models"
)

// Indicators is a snapshot of the technical indicators at the last bar.
type Indicators struct {
	Close      float64
	EMA8       float64
	EMA21      float64
	SMA50      float64
	RSI14      float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	BollMiddle float64
	BollUpper  float64
	BollLower  float64
	ATR14      float64
	// Z-score of the close against the 20-bar mean.
	ZScore20 float64
	// Close-to-close return over the last 20 bars.
	Momentum20 float64
}

// MinBarsForIndicators is the history CalculateIndicators needs.
const MinBarsForIndicators = 35

// CalculateIndicators computes the indicator snapshot for bars, oldest first.
// SMA50 falls back to the full-history mean when fewer than 50 bars exist.
func CalculateIndicators(bars []models.PriceBar) (*Indicators, error) {
	if len(bars) < MinBarsForIndicators {
		return nil, fmt.Errorf("insufficient data for indicators: have %d bars, need %d", len(bars), MinBarsForIndicators)
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
	}
	last := len(closes) - 1

	out := &Indicators{Close: closes[last]}
	ema8, err := calculateEMAValues(closes, 8)
	if err != nil {
		return nil, err
	}
	ema21, err := calculateEMAValues(closes, 21)
	if err != nil {
		return nil, err
	}
	out.EMA8, out.EMA21 = ema8[len(ema8)-1], ema21[len(ema21)-1]
	out.SMA50 = calculateSMA(closes, min(50, len(closes)))

	if out.RSI14, err = calculateRSI(closes, 14); err != nil {
		return nil, err
	}
	if out.MACD, out.MACDSignal, out.MACDHist, err = calculateMACD(closes); err != nil {
		return nil, err
	}

	out.BollMiddle = calculateSMA(closes, 20)
	std := stddev(closes[len(closes)-20:])
	out.BollUpper = out.BollMiddle + 2*std
	out.BollLower = out.BollMiddle - 2*std
	if std > 0 {
		out.ZScore20 = (out.Close - out.BollMiddle) / std
	}
	if base := closes[last-20]; base != 0 {
		out.Momentum20 = out.Close/base - 1
	}
	if out.ATR14, err = calculateATR(bars, 14); err != nil {
		return nil, err
	}
	return out, nil
}

// calculateSMA averages the last period values.
func calculateSMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	return sum(values[len(values)-period:]) / float64(period)
}

// calculateEMAValues seeds the EMA with the first period's SMA.
func calculateEMAValues(values []float64, period int) ([]float64, error) {
	if len(values) < period {
		return nil, fmt.Errorf("insufficient data for EMA(%d) calculation", period)
	}

	multiplier := 2.0 / (float64(period) + 1.0)
	ema := sum(values[:period]) / float64(period)
	result := []float64{ema}
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		result = append(result, ema)
	}
	return result, nil
}

// calculateRSI uses Wilder smoothing and returns the latest value.
func calculateRSI(values []float64, period int) (float64, error) {
	if len(values) < period+1 {
		return 0, fmt.Errorf("insufficient data for RSI calculation")
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := math.Max(change, 0), math.Max(-change, 0)
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}

// calculateMACD returns the 12/26 MACD line, its 9-period signal and the histogram.
func calculateMACD(values []float64) (line, signal, hist float64, err error) {
	ema12, err := calculateEMAValues(values, 12)
	if err != nil {
		return 0, 0, 0, err
	}
	ema26, err := calculateEMAValues(values, 26)
	if err != nil {
		return 0, 0, 0, err
	}

	// ema12 starts 14 bars before ema26.
	offset := len(ema12) - len(ema26)
	macd := make([]float64, len(ema26))
	for i := range ema26 {
		macd[i] = ema12[i+offset] - ema26[i]
	}
	signals, err := calculateEMAValues(macd, 9)
	if err != nil {
		return 0, 0, 0, err
	}
	line = macd[len(macd)-1]
	signal = signals[len(signals)-1]
	return line, signal, line - signal, nil
}

// calculateATR averages the true range of the last period bars.
func calculateATR(bars []models.PriceBar, period int) (float64, error) {
	if len(bars) < period+1 {
		return 0, fmt.Errorf("insufficient data for ATR calculation")
	}

	total := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		high, _ := bars[i].High.Float64()
		low, _ := bars[i].Low.Float64()
		prevClose, _ := bars[i-1].Close.Float64()
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		total += tr
	}
	return total / float64(period), nil
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := sum(values) / float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
