// Package aggregator folds the signals of every producer for one ticker and
// date into a single consensus.
package aggregator

import (
	"math"

	"github.com/dyike/CortexFund/models"
)

const epsilon = 1e-9

// Aggregate computes the confidence-weighted vote of signals.
//
// All signals must share the first signal's ticker and date. A lone
// dissenter facing a majority of at least two opposing signals has its
// confidence capped at that majority's mean, so one loud voice cannot flip
// the consensus.
func Aggregate(signals []models.Signal) (*models.AggregatedSignal, error) {
	if len(signals) == 0 {
		return nil, models.ErrNoSignals
	}

	first := signals[0]
	for _, s := range signals {
		if s.Ticker != first.Ticker || !models.SameDay(s.Date, first.Date) {
			return nil, &models.MismatchedScopeError{
				WantTicker: first.Ticker,
				WantDate:   first.Date,
				GotTicker:  s.Ticker,
				GotDate:    s.Date,
				SourceID:   s.SourceID,
			}
		}
	}

	contributing := make([]models.Signal, len(signals))
	copy(contributing, signals)

	out := &models.AggregatedSignal{
		Ticker:       first.Ticker,
		Date:         models.Day(first.Date),
		Contributing: contributing,
	}

	if stance, ok := unanimous(signals); ok {
		out.NetStance = stance
		if stance != models.Neutral {
			out.Strength = clamp(meanConfidence(signals), 0, 1)
		}
		return out, nil
	}

	weights := effectiveConfidences(signals)
	sum := 0.0
	for i, s := range signals {
		sum += weights[i] * float64(s.Stance.Direction())
	}

	switch {
	case sum > epsilon:
		out.NetStance = models.Bullish
	case sum < -epsilon:
		out.NetStance = models.Bearish
	default:
		out.NetStance = models.Neutral
		return out, nil
	}
	out.Strength = clamp(math.Abs(sum)/float64(len(signals)), 0, 1)
	return out, nil
}

func unanimous(signals []models.Signal) (models.Stance, bool) {
	stance := signals[0].Stance
	for _, s := range signals[1:] {
		if s.Stance != stance {
			return "", false
		}
	}
	return stance, true
}

// effectiveConfidences applies the lone-dissenter cap and returns the
// confidence each signal votes with.
func effectiveConfidences(signals []models.Signal) []float64 {
	out := make([]float64, len(signals))
	var bulls, bears []int
	for i, s := range signals {
		out[i] = s.Confidence
		switch s.Stance {
		case models.Bullish:
			bulls = append(bulls, i)
		case models.Bearish:
			bears = append(bears, i)
		}
	}

	capDissent := func(dissent, majority []int) {
		if len(dissent) != 1 || len(majority) < 2 {
			return
		}
		mean := 0.0
		for _, i := range majority {
			mean += signals[i].Confidence
		}
		mean /= float64(len(majority))
		if out[dissent[0]] > mean {
			out[dissent[0]] = mean
		}
	}
	capDissent(bulls, bears)
	capDissent(bears, bulls)
	return out
}

func meanConfidence(signals []models.Signal) float64 {
	total := 0.0
	for _, s := range signals {
		total += s.Confidence
	}
	return total / float64(len(signals))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
