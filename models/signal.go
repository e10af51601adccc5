package models

import (
	"fmt"
	"strings"
	"time"
)

type Stance string

const (
	Bullish Stance = "bullish"
	Bearish Stance = "bearish"
	Neutral Stance = "neutral"
)

// Direction maps bullish to +1, bearish to -1 and anything else to 0.
func (s Stance) Direction() int {
	switch s {
	case Bullish:
		return 1
	case Bearish:
		return -1
	default:
		return 0
	}
}

func (s Stance) Valid() bool {
	return s == Bullish || s == Bearish || s == Neutral
}

// ParseStance accepts the stance names plus the buy/sell/hold vocabulary
// LLM analysts tend to answer with.
func ParseStance(raw string) (Stance, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bullish", "buy", "long", "positive":
		return Bullish, true
	case "bearish", "sell", "short", "negative":
		return Bearish, true
	case "neutral", "hold", "none":
		return Neutral, true
	}
	return Neutral, false
}

// Signal is one producer's opinion on one ticker for one date.
type Signal struct {
	Ticker     string    `json:"ticker"`
	Date       time.Time `json:"date"`
	SourceID   string    `json:"source_id"`
	Stance     Stance    `json:"stance"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
}

func (s Signal) Validate() error {
	if s.Ticker == "" {
		return fmt.Errorf("signal from %s has no ticker", s.SourceID)
	}
	if !s.Stance.Valid() {
		return fmt.Errorf("signal from %s has unknown stance %q", s.SourceID, s.Stance)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal from %s has confidence %.4f outside [0,1]", s.SourceID, s.Confidence)
	}
	return nil
}

// AggregatedSignal is the consensus of every signal received for a ticker/date.
type AggregatedSignal struct {
	Ticker       string    `json:"ticker"`
	Date         time.Time `json:"date"`
	NetStance    Stance    `json:"net_stance"`
	Strength     float64   `json:"strength"`
	Contributing []Signal  `json:"contributing_signals"`
}

// Day truncates t to midnight UTC so dates compare by calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

const DateLayout = "2006-01-02"

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
