package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNoSignals    = errors.New("no signals to aggregate")
	ErrInvalidOrder = errors.New("invalid order")
)

// MismatchedScopeError means signals for different tickers or dates were
// handed to a single aggregation.
type MismatchedScopeError struct {
	WantTicker string
	WantDate   time.Time
	GotTicker  string
	GotDate    time.Time
	SourceID   string
}

func (e *MismatchedScopeError) Error() string {
	return fmt.Sprintf("signal from %s is scoped to %s/%s, expected %s/%s",
		e.SourceID, e.GotTicker, e.GotDate.Format(DateLayout), e.WantTicker, e.WantDate.Format(DateLayout))
}

type InsufficientFundsError struct {
	Ticker string
	Action Action
	Price  decimal.Decimal
	Cash   decimal.Decimal
	Reason string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s %s at %s (cash %s): %s",
		e.Action, e.Ticker, e.Price.String(), e.Cash.StringFixed(2), e.Reason)
}

// ProducerError wraps the failure of a single signal producer.
type ProducerError struct {
	SourceID string
	Ticker   string
	Date     time.Time
	Err      error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("producer %s failed for %s on %s: %v", e.SourceID, e.Ticker, e.Date.Format(DateLayout), e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

type MissingMarketDataError struct {
	Ticker string
	Date   time.Time
}

func (e *MissingMarketDataError) Error() string {
	return fmt.Sprintf("no market price for %s on %s", e.Ticker, e.Date.Format(DateLayout))
}
