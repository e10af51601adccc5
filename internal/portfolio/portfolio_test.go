package portfolio

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexFund/internal/risk"
	"github.com/dyike/CortexFund/models"
)

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func order(action models.Action, qty int64, price float64) models.Order {
	return models.Order{Ticker: "AAPL", Date: day, Action: action, Quantity: qty, Price: d(price)}
}

func bullish(strength float64) *models.AggregatedSignal {
	return &models.AggregatedSignal{Ticker: "AAPL", Date: day, NetStance: models.Bullish, Strength: strength}
}

func bearish(strength float64) *models.AggregatedSignal {
	return &models.AggregatedSignal{Ticker: "AAPL", Date: day, NetStance: models.Bearish, Strength: strength}
}

func TestApplyHoldIsIdempotent(t *testing.T) {
	p := models.NewPortfolio(d(100000), d(0.5))
	require.NoError(t, Apply(order(models.ActionBuy, 10, 100), p))
	before := p.Clone()

	require.NoError(t, Apply(order(models.ActionHold, 0, 100), p))
	require.NoError(t, Apply(order(models.ActionBuy, 0, 100), p))
	assert.Equal(t, before, p)
}

func TestApplyRoundTripRestoresCash(t *testing.T) {
	p := models.NewPortfolio(d(100000), d(0.5))
	require.NoError(t, Apply(order(models.ActionBuy, 37, 123.45), p))
	require.NoError(t, Apply(order(models.ActionSell, 37, 123.45), p))

	assert.True(t, p.Cash.Equal(d(100000)), "cash %s", p.Cash)
	assert.True(t, p.RealizedPnL.IsZero())
	assert.Empty(t, p.Positions)

	require.NoError(t, Apply(order(models.ActionShort, 20, 50), p))
	require.NoError(t, Apply(order(models.ActionCover, 20, 50), p))
	assert.True(t, p.Cash.Equal(d(100000)), "cash %s", p.Cash)
	assert.True(t, p.MarginUsed.IsZero())
	assert.Empty(t, p.Positions)
}

func TestApplyMarkToMarketAcrossDates(t *testing.T) {
	p := models.NewPortfolio(d(100000), d(0.5))
	require.NoError(t, Apply(order(models.ActionBuy, 10, 100), p))
	assert.True(t, p.Cash.Equal(d(99000)))
	assert.True(t, p.Positions["AAPL"].AverageCost.Equal(d(100)))

	v, err := p.TotalValue(map[string]decimal.Decimal{"AAPL": d(110)})
	require.NoError(t, err)
	assert.True(t, v.Equal(d(100100)), "value %s", v)
}

func TestApplyWeightedAverageAndRealizedPnL(t *testing.T) {
	p := models.NewPortfolio(d(100000), d(0.5))
	require.NoError(t, Apply(order(models.ActionBuy, 10, 100), p))
	require.NoError(t, Apply(order(models.ActionBuy, 10, 120), p))
	assert.True(t, p.Positions["AAPL"].AverageCost.Equal(d(110)))

	require.NoError(t, Apply(order(models.ActionSell, 5, 130), p))
	assert.True(t, p.RealizedPnL.Equal(d(100)))
	assert.True(t, p.Positions["AAPL"].AverageCost.Equal(d(110)))
	assert.Equal(t, int64(15), p.Positions["AAPL"].Quantity)
}

func TestApplyShortAndCoverMargin(t *testing.T) {
	p := models.NewPortfolio(d(10000), d(0.5))
	require.NoError(t, Apply(order(models.ActionShort, 10, 100), p))
	assert.True(t, p.Cash.Equal(d(10500)), "cash %s", p.Cash)
	assert.True(t, p.MarginUsed.Equal(d(500)))
	assert.Equal(t, int64(-10), p.Positions["AAPL"].Quantity)

	v, err := p.TotalValue(map[string]decimal.Decimal{"AAPL": d(100)})
	require.NoError(t, err)
	assert.True(t, v.Equal(d(10000)))

	require.NoError(t, Apply(order(models.ActionCover, 4, 90), p))
	assert.True(t, p.MarginUsed.Equal(d(300)))
	assert.True(t, p.RealizedPnL.Equal(d(40)))
	assert.True(t, p.Cash.Equal(d(10340)), "cash %s", p.Cash)
	assert.Equal(t, int64(-6), p.Positions["AAPL"].Quantity)
}

func TestApplyRejectsInconsistentOrders(t *testing.T) {
	p := models.NewPortfolio(d(1000), d(0.5))
	require.ErrorIs(t, Apply(order(models.ActionSell, 1, 10), p), models.ErrInvalidOrder)
	require.ErrorIs(t, Apply(order(models.ActionCover, 1, 10), p), models.ErrInvalidOrder)
	require.ErrorIs(t, Apply(order(models.ActionBuy, 1, 0), p), models.ErrInvalidOrder)

	var funds *models.InsufficientFundsError
	require.True(t, errors.As(Apply(order(models.ActionBuy, 11, 100), p), &funds))
	assert.True(t, p.Cash.Equal(d(1000)))
}

func TestResolveShrinksToAffordable(t *testing.T) {
	p := models.NewPortfolio(d(500), d(0.5))
	bound := &models.RiskBound{Ticker: "AAPL", Date: day, Price: d(100), MaxPositionValue: d(10000), MaxShares: 100}

	orders, err := Resolve(bound, bullish(1), p, d(100))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.ActionBuy, orders[0].Action)
	assert.Equal(t, int64(5), orders[0].Quantity)
	assert.True(t, p.Cash.Equal(d(500)), "resolve must not mutate")
}

func TestResolveRoundsTowardZero(t *testing.T) {
	p := models.NewPortfolio(d(100000), d(0.5))
	bound := &models.RiskBound{Ticker: "AAPL", Date: day, MaxPositionValue: d(20000), MaxShares: 133}

	orders, err := Resolve(bound, bullish(0.8), p, d(150))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(106), orders[0].Quantity)
	assert.True(t, orders[0].Notional().LessThanOrEqual(d(20000)))

	orders, err = Resolve(bound, bearish(0.8), p, d(150))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.ActionShort, orders[0].Action)
	assert.Equal(t, int64(106), orders[0].Quantity)
}

func TestResolveHold(t *testing.T) {
	p := models.NewPortfolio(d(100000), d(0.5))
	p.Positions["AAPL"] = &models.Position{Ticker: "AAPL", Quantity: 50, AverageCost: d(100)}
	neutral := &models.AggregatedSignal{Ticker: "AAPL", Date: day, NetStance: models.Neutral}

	orders, err := Resolve(&models.RiskBound{Ticker: "AAPL"}, neutral, p, d(100))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.ActionHold, orders[0].Action)

	// Already at target.
	bound := &models.RiskBound{Ticker: "AAPL", MaxPositionValue: d(5000), MaxShares: 50}
	orders, err = Resolve(bound, bullish(1), p, d(100))
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, orders[0].Action)
}

func TestResolveReducesAndCovers(t *testing.T) {
	p := models.NewPortfolio(d(100000), d(0.5))
	p.Positions["AAPL"] = &models.Position{Ticker: "AAPL", Quantity: 100, AverageCost: d(100)}
	bound := &models.RiskBound{Ticker: "AAPL", MaxPositionValue: d(10000), MaxShares: 100}

	orders, err := Resolve(bound, bullish(0.5), p, d(100))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.ActionSell, orders[0].Action)
	assert.Equal(t, int64(50), orders[0].Quantity)

	p.Positions["AAPL"] = &models.Position{Ticker: "AAPL", Quantity: -100, AverageCost: d(100), Margin: d(5000)}
	p.MarginUsed = d(5000)
	orders, err = Resolve(bound, bearish(0.25), p, d(100))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.ActionCover, orders[0].Action)
	assert.Equal(t, int64(75), orders[0].Quantity)
}

func TestResolveFlipIsCloseThenOpen(t *testing.T) {
	p := models.NewPortfolio(d(1000), d(0.5))
	p.Positions["AAPL"] = &models.Position{Ticker: "AAPL", Quantity: 90, AverageCost: d(100)}
	bound := &models.RiskBound{Ticker: "AAPL", MaxPositionValue: d(5000), MaxShares: 50}

	orders, err := Resolve(bound, bearish(1), p, d(100))
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, models.ActionSell, orders[0].Action)
	assert.Equal(t, int64(90), orders[0].Quantity)
	assert.Equal(t, models.ActionShort, orders[1].Action)
	assert.Equal(t, int64(50), orders[1].Quantity)

	for _, o := range orders {
		require.NoError(t, Apply(o, p))
	}
	assert.Equal(t, int64(-50), p.Positions["AAPL"].Quantity)
	assert.True(t, p.Positions["AAPL"].AverageCost.Equal(d(100)))
}

func TestResolveNonPositivePrice(t *testing.T) {
	p := models.NewPortfolio(d(1000), d(0.5))
	_, err := Resolve(&models.RiskBound{Ticker: "AAPL", MaxPositionValue: d(100)}, bullish(1), p, decimal.Zero)
	var funds *models.InsufficientFundsError
	require.True(t, errors.As(err, &funds))
}

func TestBoundedOrdersKeepExposureUnderCap(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.MaxPositionPct = d(0.4)
	limits.MaxExposurePct = d(0.5)
	p := models.NewPortfolio(d(100000), limits.MarginRequirement)
	prices := map[string]decimal.Decimal{"AAPL": d(97), "MSFT": d(310), "NVDA": d(45)}

	for i, ticker := range []string{"AAPL", "MSFT", "NVDA"} {
		sig := &models.AggregatedSignal{Ticker: ticker, Date: day, NetStance: models.Bullish, Strength: 1}
		if i == 1 {
			sig.NetStance = models.Bearish
		}
		bound, err := risk.Bound(sig, p, prices, limits)
		require.NoError(t, err)
		orders, err := Resolve(bound, sig, p, prices[ticker])
		require.NoError(t, err)
		for _, o := range orders {
			require.NoError(t, Apply(o, p))
		}

		total, err := p.TotalValue(prices)
		require.NoError(t, err)
		_, _, gross, err := p.Exposure(prices)
		require.NoError(t, err)
		assert.True(t, gross.LessThanOrEqual(total.Mul(limits.MaxExposurePct)), "gross %s total %s", gross, total)
		assert.True(t, p.Cash.GreaterThanOrEqual(decimal.Zero))
	}
}
