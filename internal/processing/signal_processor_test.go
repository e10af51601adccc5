package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexFund/models"
)

func TestParseJSONReply(t *testing.T) {
	sp := NewSignalProcessor()
	reply := "Here is my call:\n```json\n{\"signal\": \"bearish\", \"confidence\": 72, \"reasoning\": \"Margins are eroding.\"}\n```"

	v, err := sp.Parse(reply)
	require.NoError(t, err)
	assert.Equal(t, models.Bearish, v.Stance)
	assert.InDelta(t, 0.72, v.Confidence, 1e-9)
	assert.Equal(t, "Margins are eroding.", v.Reasoning)
}

func TestParseJSONReplyWithFractionalConfidence(t *testing.T) {
	v, err := NewSignalProcessor().Parse(`{"stance":"buy","confidence":"0.4","reasoning":{"moat":"wide"}}`)
	require.NoError(t, err)
	assert.Equal(t, models.Bullish, v.Stance)
	assert.InDelta(t, 0.4, v.Confidence, 1e-9)
	assert.Contains(t, v.Reasoning, "moat")
}

func TestParseFreeText(t *testing.T) {
	sp := NewSignalProcessor()
	v, err := sp.Parse("The company is undervalued with real growth potential. I would buy here. Confidence: 80%")
	require.NoError(t, err)
	assert.Equal(t, models.Bullish, v.Stance)
	assert.InDelta(t, 0.8, v.Confidence, 1e-9)
	assert.Contains(t, v.Reasoning, "undervalued")

	v, err = sp.Parse("Nothing decisive. Hold and wait for the next quarter.")
	require.NoError(t, err)
	assert.Equal(t, models.Neutral, v.Stance)
	assert.GreaterOrEqual(t, v.Confidence, 0.1)
	assert.LessOrEqual(t, v.Confidence, 1.0)
}

func TestParseEmpty(t *testing.T) {
	_, err := NewSignalProcessor().Parse("   ")
	require.Error(t, err)
}

func TestNormalizeConfidence(t *testing.T) {
	assert.Equal(t, 0.5, NormalizeConfidence(50))
	assert.Equal(t, 0.3, NormalizeConfidence(0.3))
	assert.Equal(t, 1.0, NormalizeConfidence(250))
	assert.Equal(t, 0.0, NormalizeConfidence(-3))
}
