package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/dyike/CortexFund/consts"
	"github.com/dyike/CortexFund/models"
)

// WarrenBuffettAgent buys durable, conservatively financed businesses
// trading below intrinsic value.
type WarrenBuffettAgent struct {
	*BaseAgent
}

func NewWarrenBuffettAgent() *WarrenBuffettAgent {
	return &WarrenBuffettAgent{BaseAgent: NewBaseAgent(consts.WarrenBuffett, consts.Agent_WarrenBuffett)}
}

func (a *WarrenBuffettAgent) Evaluate(ctx context.Context, ticker string, date time.Time, mc *models.MarketContext) (*models.Signal, error) {
	m, err := requireMetrics(mc)
	if err != nil {
		return nil, err
	}
	price, err := latestPrice(mc)
	if err != nil {
		return nil, err
	}

	var sc scorecard
	sc.add(countTrue(m.ReturnOnEquity > 0.15), 1, "ROE %s", pct(m.ReturnOnEquity))
	sc.add(countTrue(m.DebtToEquity > 0 && m.DebtToEquity < 0.5), 1, "debt/equity %.2f", m.DebtToEquity)
	sc.add(countTrue(m.OperatingMargin > 0.15), 1, "operating margin %s", pct(m.OperatingMargin))
	sc.add(countTrue(m.CurrentRatio > 1.5), 1, "current ratio %.2f", m.CurrentRatio)
	sc.add(countTrue(m.GrossMargin > 0.4), 1, "gross margin %s suggests pricing power", pct(m.GrossMargin))

	if m.EarningsPerShare > 0 {
		intrinsic := grahamValue(m.EarningsPerShare, m.EarningsGrowth)
		mos := (intrinsic - price) / intrinsic
		points := 0.0
		switch {
		case mos > 0.3:
			points = 3
		case mos > 0:
			points = 1
		}
		sc.add(points, 3, "margin of safety %s on intrinsic %.2f", pct(mos), intrinsic)
	} else {
		sc.add(0, 3, "no positive earnings to value")
	}

	stance, conf := sc.verdict(0.7, 0.3)
	return a.signal(ticker, date, stance, conf, sc.rationale()), nil
}

// CathieWoodAgent chases disruptive growth and tolerates rich multiples.
type CathieWoodAgent struct {
	*BaseAgent
}

func NewCathieWoodAgent() *CathieWoodAgent {
	return &CathieWoodAgent{BaseAgent: NewBaseAgent(consts.CathieWood, consts.Agent_CathieWood)}
}

func (a *CathieWoodAgent) Evaluate(ctx context.Context, ticker string, date time.Time, mc *models.MarketContext) (*models.Signal, error) {
	m, err := requireMetrics(mc)
	if err != nil {
		return nil, err
	}

	var sc scorecard
	points := 0.0
	switch {
	case m.RevenueGrowth > 0.5:
		points = 3
	case m.RevenueGrowth > 0.2:
		points = 2
	case m.RevenueGrowth > 0.1:
		points = 1
	}
	sc.add(points, 3, "revenue growth %s", pct(m.RevenueGrowth))
	sc.add(countTrue(m.GrossMargin > 0.5), 1, "gross margin %s", pct(m.GrossMargin))
	sc.add(countTrue(m.EarningsGrowth > 0.15), 1, "earnings growth %s", pct(m.EarningsGrowth))
	sc.add(countTrue(m.OperatingMargin > m.GrossMargin*0.2), 1, "operating leverage, margin %s", pct(m.OperatingMargin))

	if len(mc.Prices) > 20 {
		closes := mc.Closes()
		last, base := closes[len(closes)-1], closes[len(closes)-21]
		if base > 0 {
			mom := last/base - 1
			sc.add(countTrue(mom > 0), 1, "20-bar momentum %s", pct(mom))
		}
	}

	stance, conf := sc.verdict(0.6, 0.3)
	return a.signal(ticker, date, stance, conf, sc.rationale()), nil
}

// MichaelBurryAgent hunts deep value: cheap on free cash flow and book,
// insiders buying, headlines gloomy.
type MichaelBurryAgent struct {
	*BaseAgent
}

func NewMichaelBurryAgent() *MichaelBurryAgent {
	return &MichaelBurryAgent{BaseAgent: NewBaseAgent(consts.MichaelBurry, consts.Agent_MichaelBurry)}
}

func (a *MichaelBurryAgent) Evaluate(ctx context.Context, ticker string, date time.Time, mc *models.MarketContext) (*models.Signal, error) {
	m, err := requireMetrics(mc)
	if err != nil {
		return nil, err
	}

	var sc scorecard
	points := 0.0
	switch {
	case m.FreeCashFlowYield >= 0.15:
		points = 4
	case m.FreeCashFlowYield >= 0.12:
		points = 3
	case m.FreeCashFlowYield >= 0.08:
		points = 2
	}
	sc.add(points, 4, "FCF yield %s", pct(m.FreeCashFlowYield))
	sc.add(2*countTrue(m.PriceToBook > 0 && m.PriceToBook < 1), 2, "P/B %.2f", m.PriceToBook)
	sc.add(countTrue(m.DebtToEquity > 0 && m.DebtToEquity < 0.5), 1, "debt/equity %.2f", m.DebtToEquity)

	var bought, sold int64
	for _, t := range mc.InsiderTrades {
		if t.Shares > 0 {
			bought += t.Shares
		} else {
			sold -= t.Shares
		}
	}
	sc.add(countTrue(bought > sold && bought > 0), 1, "insiders net %d shares", bought-sold)

	negative := 0
	for _, n := range mc.News {
		if classifyHeadline(n) == models.Bearish {
			negative++
		}
	}
	// Contrarian: bad press on a cheap name is an opportunity.
	sc.add(countTrue(negative >= 3), 1, "%d negative headlines", negative)

	stance, conf := sc.verdict(0.6, 0.25)
	return a.signal(ticker, date, stance, conf, sc.rationale()), nil
}

// PeterLynchAgent wants growth at a reasonable price, judged by PEG.
type PeterLynchAgent struct {
	*BaseAgent
}

func NewPeterLynchAgent() *PeterLynchAgent {
	return &PeterLynchAgent{BaseAgent: NewBaseAgent(consts.PeterLynch, consts.Agent_PeterLynch)}
}

func (a *PeterLynchAgent) Evaluate(ctx context.Context, ticker string, date time.Time, mc *models.MarketContext) (*models.Signal, error) {
	m, err := requireMetrics(mc)
	if err != nil {
		return nil, err
	}

	peg := m.PEG
	if peg == 0 && m.PriceToEarnings > 0 && m.EarningsGrowth > 0 {
		peg = m.PriceToEarnings / (m.EarningsGrowth * 100)
	}

	var sc scorecard
	points := 0.0
	switch {
	case peg > 0 && peg < 1:
		points = 3
	case peg > 0 && peg < 2:
		points = 1
	}
	sc.add(points, 3, "PEG %.2f", peg)
	sc.add(countTrue(m.EarningsGrowth > 0.15), 1, "earnings growth %s", pct(m.EarningsGrowth))
	sc.add(countTrue(m.RevenueGrowth > 0.1), 1, "revenue growth %s", pct(m.RevenueGrowth))
	sc.add(countTrue(m.DebtToEquity > 0 && m.DebtToEquity < 0.8), 1, "debt/equity %.2f", m.DebtToEquity)

	stance, conf := sc.verdict(0.65, 0.3)
	if peg <= 0 {
		return a.signal(ticker, date, models.Neutral, 0.3, fmt.Sprintf("PEG unavailable; %s", sc.rationale())), nil
	}
	return a.signal(ticker, date, stance, conf, sc.rationale()), nil
}
