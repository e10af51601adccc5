package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/models"
)

// Limits are the exposure constraints applied to every bound.
type Limits struct {
	// Fraction of total portfolio value allowed in one ticker.
	MaxPositionPct decimal.Decimal `json:"max_position_pct"`
	// Cap on long plus short notional as a fraction of total value.
	MaxExposurePct decimal.Decimal `json:"max_portfolio_exposure_pct"`
	// Fraction of a short's notional held back as margin.
	MarginRequirement decimal.Decimal `json:"margin_requirement"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxPositionPct:    decimal.NewFromFloat(0.2),
		MaxExposurePct:    decimal.NewFromInt(1),
		MarginRequirement: decimal.NewFromFloat(0.5),
	}
}

func (l Limits) Validate() error {
	one := decimal.NewFromInt(1)
	var errs []error
	if !l.MaxPositionPct.IsPositive() || l.MaxPositionPct.GreaterThan(one) {
		errs = append(errs, fmt.Errorf("max_position_pct must be in (0,1], got %s", l.MaxPositionPct))
	}
	if !l.MaxExposurePct.IsPositive() {
		errs = append(errs, fmt.Errorf("max_portfolio_exposure_pct must be positive, got %s", l.MaxExposurePct))
	}
	if l.MarginRequirement.IsNegative() || l.MarginRequirement.GreaterThan(one) {
		errs = append(errs, fmt.Errorf("margin_requirement must be in [0,1], got %s", l.MarginRequirement))
	}
	return errors.Join(errs...)
}

type Manager struct {
	limits Limits
}

func NewManager(limits Limits) (*Manager, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}
	return &Manager{limits: limits}, nil
}

func (m *Manager) Limits() Limits { return m.limits }

func (m *Manager) Bound(signal *models.AggregatedSignal, portfolio *models.Portfolio, prices map[string]decimal.Decimal) (*models.RiskBound, error) {
	return Bound(signal, portfolio, prices, m.limits)
}

// Bound returns how much exposure signal.Ticker may carry once the cycle
// completes. It never mutates portfolio.
//
// A position held against the signal's direction counts as freed capital,
// since the resolver closes it before opening the new side.
func Bound(signal *models.AggregatedSignal, portfolio *models.Portfolio, prices map[string]decimal.Decimal, limits Limits) (*models.RiskBound, error) {
	price, ok := prices[signal.Ticker]
	if !ok {
		return nil, &models.MissingMarketDataError{Ticker: signal.Ticker, Date: signal.Date}
	}
	bound := &models.RiskBound{
		Ticker: signal.Ticker,
		Date:   signal.Date,
		Price:  price,
	}

	dir := signal.NetStance.Direction()
	if dir == 0 {
		bound.MaxPositionValue = decimal.Zero
		bound.Rationale = "neutral consensus: no new exposure allowed"
		return bound, nil
	}
	if !price.IsPositive() {
		bound.MaxPositionValue = decimal.Zero
		bound.Rationale = fmt.Sprintf("non-positive price %s", price)
		return bound, nil
	}

	total, err := portfolio.TotalValue(prices)
	if err != nil {
		return nil, err
	}
	if !total.IsPositive() {
		bound.MaxPositionValue = decimal.Zero
		bound.Rationale = fmt.Sprintf("portfolio value %s leaves no capital", total.StringFixed(2))
		return bound, nil
	}
	_, _, gross, err := portfolio.Exposure(prices)
	if err != nil {
		return nil, err
	}

	pos := portfolio.Position(signal.Ticker)
	current := pos.Value(price).Abs()
	sameDir, freed := decimal.Zero, decimal.Zero
	if pos.Quantity*int64(dir) > 0 {
		sameDir = current
	} else {
		freed = current
	}

	positionLimit := total.Mul(limits.MaxPositionPct)
	available := decimal.Max(decimal.Zero, positionLimit.Sub(sameDir))
	grossRoom := decimal.Max(decimal.Zero, total.Mul(limits.MaxExposurePct).Sub(gross).Add(freed))
	available = decimal.Min(available, grossRoom)

	bound.MaxPositionValue = decimal.Min(sameDir.Add(available), positionLimit)
	bound.MaxShares = bound.MaxPositionValue.Div(price).Floor().IntPart()
	bound.Rationale = fmt.Sprintf(
		"total %s, position limit %s, current %s, gross %s, gross room %s",
		total.StringFixed(2), positionLimit.StringFixed(2), current.StringFixed(2), gross.StringFixed(2), grossRoom.StringFixed(2),
	)
	return bound, nil
}
