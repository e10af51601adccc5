package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionShort Action = "short"
	ActionCover Action = "cover"
	ActionHold  Action = "hold"
)

// RiskBound caps how much exposure a ticker may carry after the cycle.
type RiskBound struct {
	Ticker           string          `json:"ticker"`
	Date             time.Time       `json:"date"`
	Price            decimal.Decimal `json:"price"`
	MaxPositionValue decimal.Decimal `json:"max_position_value"`
	MaxShares        int64           `json:"max_shares"`
	Rationale        string          `json:"rationale"`
}

type Order struct {
	Ticker   string          `json:"ticker"`
	Date     time.Time       `json:"date"`
	Action   Action          `json:"action"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

func HoldOrder(ticker string, date time.Time, price decimal.Decimal) Order {
	return Order{Ticker: ticker, Date: date, Action: ActionHold, Price: price}
}

// Notional is quantity * price.
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

func (o Order) String() string {
	if o.Action == ActionHold {
		return fmt.Sprintf("%s %s hold", o.Date.Format(DateLayout), o.Ticker)
	}
	return fmt.Sprintf("%s %s %s %d @ %s", o.Date.Format(DateLayout), o.Ticker, o.Action, o.Quantity, o.Price.StringFixed(2))
}
