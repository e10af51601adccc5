package aggregator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexFund/models"
)

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func sig(source string, stance models.Stance, conf float64) models.Signal {
	return models.Signal{Ticker: "AAPL", Date: day, SourceID: source, Stance: stance, Confidence: conf}
}

func TestAggregateEmpty(t *testing.T) {
	_, err := Aggregate(nil)
	require.ErrorIs(t, err, models.ErrNoSignals)
}

func TestAggregateUnanimous(t *testing.T) {
	for _, stance := range []models.Stance{models.Bullish, models.Bearish, models.Neutral} {
		got, err := Aggregate([]models.Signal{
			sig("a", stance, 0.9),
			sig("b", stance, 0.3),
			sig("c", stance, 0.6),
		})
		require.NoError(t, err)
		assert.Equal(t, stance, got.NetStance)
		assert.LessOrEqual(t, got.Strength, 0.9)
		assert.Len(t, got.Contributing, 3)
	}
}

func TestAggregateWeightedVote(t *testing.T) {
	tests := []struct {
		name     string
		signals  []models.Signal
		stance   models.Stance
		strength float64
	}{
		{
			name:     "single signal decides alone",
			signals:  []models.Signal{sig("a", models.Bearish, 0.8)},
			stance:   models.Bearish,
			strength: 0.8,
		},
		{
			name:     "tie resolves to neutral",
			signals:  []models.Signal{sig("a", models.Bullish, 0.5), sig("b", models.Bearish, 0.5)},
			stance:   models.Neutral,
			strength: 0,
		},
		{
			name: "neutral votes dilute strength",
			signals: []models.Signal{
				sig("a", models.Bullish, 0.6),
				sig("b", models.Neutral, 0.9),
				sig("c", models.Neutral, 0.9),
			},
			stance:   models.Bullish,
			strength: 0.2,
		},
		{
			name: "lone dissenter is capped by the majority",
			signals: []models.Signal{
				sig("a", models.Bullish, 0.3),
				sig("b", models.Bullish, 0.3),
				sig("c", models.Bearish, 1.0),
			},
			stance:   models.Bullish,
			strength: 0.1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Aggregate(tt.signals)
			require.NoError(t, err)
			assert.Equal(t, tt.stance, got.NetStance)
			assert.InDelta(t, tt.strength, got.Strength, 1e-9)
		})
	}
}

func TestAggregateMismatchedScope(t *testing.T) {
	other := sig("b", models.Bullish, 0.5)
	other.Ticker = "MSFT"
	_, err := Aggregate([]models.Signal{sig("a", models.Bullish, 0.5), other})
	var scopeErr *models.MismatchedScopeError
	require.True(t, errors.As(err, &scopeErr))
	assert.Equal(t, "MSFT", scopeErr.GotTicker)

	later := sig("c", models.Bullish, 0.5)
	later.Date = day.AddDate(0, 0, 1)
	_, err = Aggregate([]models.Signal{sig("a", models.Bullish, 0.5), later})
	require.True(t, errors.As(err, &scopeErr))
}

func TestAggregateDoesNotAliasInput(t *testing.T) {
	in := []models.Signal{sig("a", models.Bullish, 0.5), sig("b", models.Bearish, 0.2)}
	got, err := Aggregate(in)
	require.NoError(t, err)
	in[0].Confidence = 0
	assert.Equal(t, 0.5, got.Contributing[0].Confidence)
}
