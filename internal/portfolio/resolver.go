// Package portfolio turns risk-bounded signals into orders and is the only
// code allowed to mutate a models.Portfolio.
package portfolio

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/models"
)

// Resolve sizes the orders that move the ticker's position toward
// bound.MaxPositionValue * signal.Strength in the signal's direction.
//
// Share counts are truncated toward zero so rounding never exceeds the
// bound. A long to short flip (or the reverse) yields two orders: the close,
// then the open sized from the cash left after the close. Buys and shorts
// are shrunk to what the portfolio can afford; the only hard failure is a
// non-positive price on a directional signal.
func Resolve(bound *models.RiskBound, signal *models.AggregatedSignal, portfolio *models.Portfolio, price decimal.Decimal) ([]models.Order, error) {
	ticker, date := signal.Ticker, signal.Date
	hold := []models.Order{models.HoldOrder(ticker, date, price)}

	dir := int64(signal.NetStance.Direction())
	if dir == 0 {
		return hold, nil
	}
	if !price.IsPositive() {
		return nil, &models.InsufficientFundsError{
			Ticker: ticker,
			Action: models.ActionHold,
			Price:  price,
			Cash:   portfolio.Cash,
			Reason: "price must be positive to size an order",
		}
	}

	strength := decimal.NewFromFloat(signal.Strength)
	targetShares := bound.MaxPositionValue.Mul(strength).Div(price).Truncate(0).IntPart()
	target := dir * targetShares
	current := portfolio.Position(ticker).Quantity
	if target == current {
		return hold, nil
	}

	s := &sizer{ticker: ticker, date: date, price: price, book: portfolio.Clone()}
	switch {
	case current > 0 && target < 0:
		s.leg(models.ActionSell, current)
		s.leg(models.ActionShort, -target)
	case current < 0 && target > 0:
		s.leg(models.ActionCover, -current)
		s.leg(models.ActionBuy, target)
	case target > current && current >= 0:
		s.leg(models.ActionBuy, target-current)
	case target < current && current > 0:
		s.leg(models.ActionSell, current-target)
	case target < current:
		s.leg(models.ActionShort, current-target)
	default:
		s.leg(models.ActionCover, target-current)
	}

	if len(s.orders) == 0 {
		return hold, nil
	}
	return s.orders, nil
}

// sizer applies each leg to a scratch copy of the portfolio so the next leg
// is sized from the cash the previous one left behind.
type sizer struct {
	ticker string
	date   time.Time
	price  decimal.Decimal
	book   *models.Portfolio
	orders []models.Order
}

func (s *sizer) leg(action models.Action, qty int64) {
	switch action {
	case models.ActionBuy:
		qty = min(qty, s.affordableBuy())
	case models.ActionShort:
		qty = min(qty, s.affordableShort())
	}
	if qty <= 0 {
		return
	}
	order := models.Order{Ticker: s.ticker, Date: s.date, Action: action, Quantity: qty, Price: s.price}
	if err := Apply(order, s.book); err != nil {
		return
	}
	s.orders = append(s.orders, order)
}

func (s *sizer) affordableBuy() int64 {
	if !s.book.Cash.IsPositive() {
		return 0
	}
	return s.book.Cash.Div(s.price).Floor().IntPart()
}

func (s *sizer) affordableShort() int64 {
	if !s.book.MarginRequirement.IsPositive() {
		return math.MaxInt64
	}
	if !s.book.Cash.IsPositive() {
		return 0
	}
	return s.book.Cash.Div(s.book.MarginRequirement.Mul(s.price)).Floor().IntPart()
}
