package processing

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dyike/CortexFund/models"
)

// SignalProcessor turns a free-text analyst reply into a stance and confidence.
type SignalProcessor struct {
	buyPatterns     []*regexp.Regexp
	sellPatterns    []*regexp.Regexp
	holdPatterns    []*regexp.Regexp
	confidenceRegex *regexp.Regexp
}

// Verdict is the structured form of an analyst reply.
type Verdict struct {
	Stance     models.Stance `json:"signal"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning"`
}

func NewSignalProcessor() *SignalProcessor {
	return &SignalProcessor{
		buyPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(buy|purchase|long|bullish|positive|upward|invest)\b`),
			regexp.MustCompile(`(?i)\b(strong buy|recommended buy|buy recommendation)\b`),
			regexp.MustCompile(`(?i)\b(undervalued|oversold|growth potential|opportunity)\b`),
		},
		sellPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(sell|short|bearish|negative|downward|divest)\b`),
			regexp.MustCompile(`(?i)\b(strong sell|sell recommendation|avoid)\b`),
			regexp.MustCompile(`(?i)\b(overvalued|overbought|decline)\b`),
		},
		holdPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(hold|maintain|neutral|wait|sideways)\b`),
			regexp.MustCompile(`(?i)\b(no action|stay put|keep position)\b`),
		},
		confidenceRegex: regexp.MustCompile(`(?i)confidence[^0-9]{0,20}(\d+(?:\.\d+)?)\s*(%?)`),
	}
}

// Parse prefers a JSON object anywhere in the reply and falls back to
// keyword scoring when the model ignored the requested format.
func (sp *SignalProcessor) Parse(text string) (*Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty analyst reply")
	}
	if v, ok := parseJSONVerdict(text); ok {
		return v, nil
	}

	stance := sp.extractStance(text)
	confidence, ok := sp.extractConfidence(text)
	if !ok {
		confidence = sp.calculateConfidence(text, stance)
	}
	return &Verdict{
		Stance:     stance,
		Confidence: confidence,
		Reasoning:  sp.extractReasoning(text, stance),
	}, nil
}

func parseJSONVerdict(text string) (*Verdict, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var raw struct {
		Signal     string          `json:"signal"`
		Stance     string          `json:"stance"`
		Confidence json.RawMessage `json:"confidence"`
		Reasoning  json.RawMessage `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, false
	}
	label := raw.Signal
	if label == "" {
		label = raw.Stance
	}
	stance, ok := models.ParseStance(label)
	if !ok {
		return nil, false
	}

	conf, err := strconv.ParseFloat(strings.Trim(string(raw.Confidence), `" %`), 64)
	if err != nil {
		return nil, false
	}
	return &Verdict{
		Stance:     stance,
		Confidence: NormalizeConfidence(conf),
		Reasoning:  reasoningText(raw.Reasoning),
	}, true
}

// reasoningText accepts either a JSON string or an arbitrary JSON value.
func reasoningText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// NormalizeConfidence maps percentages onto [0,1].
func NormalizeConfidence(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (sp *SignalProcessor) extractStance(text string) models.Stance {
	buyScore := countMatches(sp.buyPatterns, text)
	sellScore := countMatches(sp.sellPatterns, text)
	holdScore := countMatches(sp.holdPatterns, text)

	if buyScore > sellScore && buyScore > holdScore {
		return models.Bullish
	} else if sellScore > buyScore && sellScore > holdScore {
		return models.Bearish
	}
	return models.Neutral
}

func (sp *SignalProcessor) extractConfidence(text string) (float64, bool) {
	m := sp.confidenceRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] == "%" {
		v /= 100
	}
	return NormalizeConfidence(v), true
}

// calculateConfidence scores the density of words backing the stance.
func (sp *SignalProcessor) calculateConfidence(text string, stance models.Stance) float64 {
	totalWords := len(strings.Fields(text))
	if totalWords == 0 {
		return 0.5
	}

	var relevant []*regexp.Regexp
	switch stance {
	case models.Bullish:
		relevant = sp.buyPatterns
	case models.Bearish:
		relevant = sp.sellPatterns
	default:
		relevant = sp.holdPatterns
	}

	confidence := float64(countMatches(relevant, text)) / float64(totalWords) * 10
	return max(0.1, min(1.0, confidence))
}

func (sp *SignalProcessor) extractReasoning(text string, stance models.Stance) string {
	actionWords := map[models.Stance][]string{
		models.Bullish: {"buy", "bullish", "positive", "growth", "opportunity", "undervalued"},
		models.Bearish: {"sell", "bearish", "negative", "risk", "decline", "overvalued"},
		models.Neutral: {"hold", "neutral", "wait", "maintain", "uncertain"},
	}

	var relevant []string
	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 10 {
			continue
		}
		lower := strings.ToLower(sentence)
		for _, word := range actionWords[stance] {
			if strings.Contains(lower, word) {
				relevant = append(relevant, sentence)
				break
			}
		}
		if len(relevant) >= 3 {
			break
		}
	}

	if len(relevant) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.Join(relevant, ". ")
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		n += len(p.FindAllString(text, -1))
	}
	return n
}
