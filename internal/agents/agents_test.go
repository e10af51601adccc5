package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexFund/consts"
	"github.com/dyike/CortexFund/models"
)

var day = time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

func bars(n int, start, step float64) []models.PriceBar {
	out := make([]models.PriceBar, n)
	for i := range out {
		c := start + step*float64(i)
		out[i] = models.PriceBar{
			Ticker: "AAPL",
			Date:   day.AddDate(0, 0, i-n+1),
			Open:   decimal.NewFromFloat(c),
			High:   decimal.NewFromFloat(c * 1.005),
			Low:    decimal.NewFromFloat(c * 0.995),
			Close:  decimal.NewFromFloat(c),
			Volume: 1000,
		}
	}
	return out
}

func qualityCompany() *models.FinancialMetrics {
	return &models.FinancialMetrics{
		Ticker:            "AAPL",
		PriceToEarnings:   12,
		PriceToBook:       0.9,
		PriceToSales:      2,
		PEG:               0.6,
		GrossMargin:       0.55,
		OperatingMargin:   0.3,
		NetMargin:         0.25,
		ReturnOnEquity:    0.3,
		RevenueGrowth:     0.25,
		EarningsGrowth:    0.2,
		DebtToEquity:      0.3,
		CurrentRatio:      2,
		FreeCashFlowYield: 0.16,
		EarningsPerShare:  10,
		MarketCap:         1e9,
	}
}

func TestRuleProducersOnStrongCompany(t *testing.T) {
	mc := &models.MarketContext{Ticker: "AAPL", Date: day, Prices: bars(60, 50, 0.5), Metrics: qualityCompany()}

	for _, p := range []Producer{
		NewWarrenBuffettAgent(),
		NewCathieWoodAgent(),
		NewMichaelBurryAgent(),
		NewPeterLynchAgent(),
		NewFundamentalsAnalyst(),
		NewValuationAnalyst(),
	} {
		t.Run(p.Name(), func(t *testing.T) {
			sig, err := p.Evaluate(context.Background(), "AAPL", day, mc)
			require.NoError(t, err)
			require.NoError(t, sig.Validate())
			assert.Equal(t, models.Bullish, sig.Stance)
			assert.Equal(t, p.Name(), sig.SourceID)
			assert.NotEmpty(t, sig.Rationale)
		})
	}
}

func TestFundamentalProducersNeedMetrics(t *testing.T) {
	mc := &models.MarketContext{Ticker: "AAPL", Date: day, Prices: bars(60, 50, 0.5)}
	for _, p := range []Producer{NewWarrenBuffettAgent(), NewFundamentalsAnalyst(), NewValuationAnalyst()} {
		_, err := p.Evaluate(context.Background(), "AAPL", day, mc)
		require.Error(t, err, p.Name())
	}
}

func TestTechnicalAnalyst(t *testing.T) {
	ta := NewTechnicalAnalyst()

	_, err := ta.Evaluate(context.Background(), "AAPL", day, &models.MarketContext{Prices: bars(10, 100, 1)})
	require.Error(t, err)

	sig, err := ta.Evaluate(context.Background(), "AAPL", day, &models.MarketContext{Prices: bars(60, 100, -1)})
	require.NoError(t, err)
	require.NoError(t, sig.Validate())
	assert.NotEqual(t, models.Bullish, sig.Stance)
}

func TestSentimentAnalyst(t *testing.T) {
	sa := NewSentimentAnalyst()
	mc := &models.MarketContext{
		News: []models.NewsItem{
			{Title: "Apple shares surge after record quarter"},
			{Title: "Analysts upgrade Apple on strong iPhone demand"},
			{Title: "Apple faces EU probe"},
		},
		InsiderTrades: []models.InsiderTrade{{Shares: 1000}, {Shares: -50}},
	}
	sig, err := sa.Evaluate(context.Background(), "AAPL", day, mc)
	require.NoError(t, err)
	assert.Equal(t, models.Bullish, sig.Stance)
	assert.InDelta(t, (0.3+1.4)/2.7, sig.Confidence, 1e-9)

	sig, err = sa.Evaluate(context.Background(), "AAPL", day, &models.MarketContext{})
	require.NoError(t, err)
	assert.Equal(t, models.Neutral, sig.Stance)
}

type fakeChatModel struct {
	reply string
	err   error
	seen  []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.seen = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestLLMProducer(t *testing.T) {
	fake := &fakeChatModel{reply: `{"signal":"bearish","confidence":65,"reasoning":"Too expensive."}`}
	producers, err := Build([]string{consts.WarrenBuffett, consts.Technical}, fake)
	require.NoError(t, err)
	require.Len(t, producers, 2)

	llm, ok := producers[0].(*LLMProducer)
	require.True(t, ok)
	_, ok = producers[1].(*TechnicalAnalyst)
	require.True(t, ok)

	mc := &models.MarketContext{Ticker: "AAPL", Date: day, Prices: bars(60, 50, 0.5), Metrics: qualityCompany()}
	sig, err := llm.Evaluate(context.Background(), "AAPL", day, mc)
	require.NoError(t, err)
	assert.Equal(t, models.Bearish, sig.Stance)
	assert.InDelta(t, 0.65, sig.Confidence, 1e-9)
	assert.Equal(t, consts.WarrenBuffett, sig.SourceID)
	require.Len(t, fake.seen, 2)
	assert.Contains(t, fake.seen[0].Content, consts.Agent_WarrenBuffett)
	assert.Contains(t, fake.seen[0].Content, "margin of safety")

	fake.err = errors.New("rate limited")
	_, err = llm.Evaluate(context.Background(), "AAPL", day, mc)
	require.Error(t, err)
}

func TestBuild(t *testing.T) {
	producers, err := Build(AnalystIDs(), nil)
	require.NoError(t, err)
	assert.Len(t, producers, len(Catalogue))

	producers, err = Build([]string{consts.Technical, consts.Technical}, nil)
	require.NoError(t, err)
	assert.Len(t, producers, 1)

	_, err = Build([]string{"jim_cramer"}, nil)
	require.Error(t, err)
	_, err = Build(nil, nil)
	require.Error(t, err)
}
