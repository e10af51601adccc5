package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/models"
)

// Apply books order against p. Holds and zero quantities leave p untouched.
//
// Opening or adding to a position re-weights the average cost. Reducing one
// realizes profit into RealizedPnL and keeps the average cost. Shorts post
// MarginRequirement * notional from cash; covers release it pro rata.
func Apply(order models.Order, p *models.Portfolio) error {
	if order.Action == models.ActionHold || order.Quantity == 0 {
		return nil
	}
	if order.Quantity < 0 {
		return fmt.Errorf("%w: negative quantity %d", models.ErrInvalidOrder, order.Quantity)
	}
	if !order.Price.IsPositive() {
		return fmt.Errorf("%w: non-positive price %s", models.ErrInvalidOrder, order.Price)
	}

	pos := p.Position(order.Ticker)
	qty := decimal.NewFromInt(order.Quantity)
	notional := order.Notional()

	switch order.Action {
	case models.ActionBuy:
		if pos.IsShort() {
			return fmt.Errorf("%w: buy %s while short, cover first", models.ErrInvalidOrder, order.Ticker)
		}
		if notional.GreaterThan(p.Cash) {
			return &models.InsufficientFundsError{Ticker: order.Ticker, Action: order.Action, Price: order.Price, Cash: p.Cash, Reason: "buy exceeds cash"}
		}
		pos.AverageCost = weightedCost(pos.AverageCost, pos.Quantity, order.Price, order.Quantity)
		pos.Quantity += order.Quantity
		p.Cash = p.Cash.Sub(notional)

	case models.ActionSell:
		if pos.Quantity < order.Quantity {
			return fmt.Errorf("%w: sell %d %s with only %d held", models.ErrInvalidOrder, order.Quantity, order.Ticker, pos.Quantity)
		}
		p.Cash = p.Cash.Add(notional)
		p.RealizedPnL = p.RealizedPnL.Add(order.Price.Sub(pos.AverageCost).Mul(qty))
		pos.Quantity -= order.Quantity

	case models.ActionShort:
		if pos.IsLong() {
			return fmt.Errorf("%w: short %s while long, sell first", models.ErrInvalidOrder, order.Ticker)
		}
		margin := notional.Mul(p.MarginRequirement)
		if margin.GreaterThan(p.Cash) {
			return &models.InsufficientFundsError{Ticker: order.Ticker, Action: order.Action, Price: order.Price, Cash: p.Cash, Reason: "margin exceeds cash"}
		}
		pos.AverageCost = weightedCost(pos.AverageCost, -pos.Quantity, order.Price, order.Quantity)
		pos.Quantity -= order.Quantity
		pos.Margin = pos.Margin.Add(margin)
		p.MarginUsed = p.MarginUsed.Add(margin)
		p.Cash = p.Cash.Add(notional).Sub(margin)

	case models.ActionCover:
		held := -pos.Quantity
		if held < order.Quantity {
			return fmt.Errorf("%w: cover %d %s with only %d short", models.ErrInvalidOrder, order.Quantity, order.Ticker, held)
		}
		released := pos.Margin
		if order.Quantity < held {
			released = pos.Margin.Mul(qty).Div(decimal.NewFromInt(held))
		}
		pos.Margin = pos.Margin.Sub(released)
		p.MarginUsed = p.MarginUsed.Sub(released)
		p.Cash = p.Cash.Add(released).Sub(notional)
		p.RealizedPnL = p.RealizedPnL.Add(pos.AverageCost.Sub(order.Price).Mul(qty))
		pos.Quantity += order.Quantity

	default:
		return fmt.Errorf("%w: unknown action %q", models.ErrInvalidOrder, order.Action)
	}

	if pos.Quantity == 0 {
		delete(p.Positions, order.Ticker)
		return nil
	}
	if p.Positions == nil {
		p.Positions = make(map[string]*models.Position)
	}
	pos.Ticker = order.Ticker
	p.Positions[order.Ticker] = &pos
	return nil
}

func weightedCost(avg decimal.Decimal, held int64, price decimal.Decimal, added int64) decimal.Decimal {
	total := held + added
	if total == 0 {
		return decimal.Zero
	}
	cost := avg.Mul(decimal.NewFromInt(held)).Add(price.Mul(decimal.NewFromInt(added)))
	return cost.Div(decimal.NewFromInt(total))
}
