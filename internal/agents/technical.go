package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dyike/CortexFund/consts"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/dataflows"
)

// TechnicalAnalyst blends trend, momentum and mean reversion votes.
type TechnicalAnalyst struct {
	*BaseAgent
}

func NewTechnicalAnalyst() *TechnicalAnalyst {
	return &TechnicalAnalyst{BaseAgent: NewBaseAgent(consts.Technical, consts.Agent_Technical)}
}

func (a *TechnicalAnalyst) Evaluate(ctx context.Context, ticker string, date time.Time, mc *models.MarketContext) (*models.Signal, error) {
	if mc == nil {
		return nil, fmt.Errorf("no market context")
	}
	ind, err := dataflows.CalculateIndicators(mc.Prices)
	if err != nil {
		return nil, err
	}

	type vote struct {
		name   string
		dir    float64
		weight float64
		note   string
	}
	var votes []vote

	// Trend: short EMA over long EMA, confirmed by MACD.
	trend := 0.0
	if ind.EMA8 > ind.EMA21 && ind.MACDHist > 0 {
		trend = 1
	} else if ind.EMA8 < ind.EMA21 && ind.MACDHist < 0 {
		trend = -1
	}
	votes = append(votes, vote{"trend", trend, 0.35, fmt.Sprintf("EMA8 %.2f vs EMA21 %.2f, MACD hist %.3f", ind.EMA8, ind.EMA21, ind.MACDHist)})

	// Momentum over the last 20 bars.
	momentum := 0.0
	if ind.Momentum20 > 0.05 {
		momentum = 1
	} else if ind.Momentum20 < -0.05 {
		momentum = -1
	}
	votes = append(votes, vote{"momentum", momentum, 0.25, "20-bar return " + pct(ind.Momentum20)})

	// Mean reversion: stretched prices tend to snap back.
	reversion := 0.0
	if ind.ZScore20 < -2 || ind.RSI14 < 30 {
		reversion = 1
	} else if ind.ZScore20 > 2 || ind.RSI14 > 70 {
		reversion = -1
	}
	votes = append(votes, vote{"mean_reversion", reversion, 0.25, fmt.Sprintf("z-score %.2f, RSI %.1f", ind.ZScore20, ind.RSI14)})

	// Volatility regime: calm markets favour the prevailing trend.
	volRatio := 0.0
	if ind.Close > 0 {
		volRatio = ind.ATR14 / ind.Close
	}
	regime := 0.0
	if volRatio < 0.02 {
		regime = trend
	}
	votes = append(votes, vote{"volatility", regime, 0.15, "ATR/price " + pct(volRatio)})

	score := 0.0
	notes := make([]string, 0, len(votes))
	for _, v := range votes {
		score += v.dir * v.weight
		notes = append(notes, v.name+": "+v.note)
	}

	stance := models.Neutral
	switch {
	case score > 0.2:
		stance = models.Bullish
	case score < -0.2:
		stance = models.Bearish
	}
	confidence := math.Abs(score)
	if stance == models.Neutral {
		confidence = 1 - math.Abs(score)/0.2*0.5
	}
	return a.signal(ticker, date, stance, confidence, strings.Join(notes, "; ")), nil
}
