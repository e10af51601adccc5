// Package agents holds the signal producers. Each investment philosophy is
// one Producer; the orchestrator fans out to all selected producers.
package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dyike/CortexFund/models"
)

// Producer evaluates one ticker on one date. Implementations must not
// touch the portfolio and must be safe for concurrent use.
type Producer interface {
	Name() string
	Evaluate(ctx context.Context, ticker string, date time.Time, mc *models.MarketContext) (*models.Signal, error)
}

type BaseAgent struct {
	name        string
	displayName string
}

func NewBaseAgent(name, displayName string) *BaseAgent {
	return &BaseAgent{name: name, displayName: displayName}
}

func (b *BaseAgent) Name() string        { return b.name }
func (b *BaseAgent) DisplayName() string { return b.displayName }

func (b *BaseAgent) signal(ticker string, date time.Time, stance models.Stance, confidence float64, rationale string) *models.Signal {
	return &models.Signal{
		Ticker:     ticker,
		Date:       models.Day(date),
		SourceID:   b.name,
		Stance:     stance,
		Confidence: math.Max(0, math.Min(1, confidence)),
		Rationale:  rationale,
	}
}

// scorecard accumulates points against a maximum and keeps the reasons.
type scorecard struct {
	score   float64
	max     float64
	reasons []string
}

func (s *scorecard) add(points, max float64, format string, args ...any) {
	s.score += points
	s.max += max
	s.reasons = append(s.reasons, fmt.Sprintf(format, args...))
}

func (s *scorecard) ratio() float64 {
	if s.max == 0 {
		return 0
	}
	return s.score / s.max
}

func (s *scorecard) rationale() string {
	return strings.Join(s.reasons, "; ")
}

// verdict maps the score ratio to a stance. Confidence grows with the
// distance from the neutral band.
func (s *scorecard) verdict(bullAt, bearAt float64) (models.Stance, float64) {
	r := s.ratio()
	switch {
	case r >= bullAt:
		return models.Bullish, 0.5 + 0.5*(r-bullAt)/math.Max(1-bullAt, 1e-9)
	case r <= bearAt:
		return models.Bearish, 0.5 + 0.5*(bearAt-r)/math.Max(bearAt, 1e-9)
	default:
		return models.Neutral, 0.5
	}
}

func requireMetrics(mc *models.MarketContext) (*models.FinancialMetrics, error) {
	if mc == nil || mc.Metrics == nil {
		return nil, fmt.Errorf("no financial metrics available")
	}
	return mc.Metrics, nil
}

func latestPrice(mc *models.MarketContext) (float64, error) {
	if mc == nil {
		return 0, fmt.Errorf("no market context")
	}
	p, ok := mc.LatestClose()
	if !ok {
		return 0, fmt.Errorf("no price history")
	}
	f, _ := p.Float64()
	return f, nil
}

// grahamValue is the intrinsic value estimate EPS * (8.5 + 2g), g in percent.
func grahamValue(eps, growth float64) float64 {
	g := math.Max(-5, math.Min(growth*100, 25))
	return eps * (8.5 + 2*g)
}

func pct(v float64) string { return fmt.Sprintf("%.1f%%", v*100) }
