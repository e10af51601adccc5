package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dyike/CortexFund/consts"
	"github.com/dyike/CortexFund/models"
)

var (
	positiveWords = []string{"beat", "beats", "surge", "soar", "record", "upgrade", "growth", "strong", "rally", "gain", "profit", "buy"}
	negativeWords = []string{"miss", "misses", "plunge", "fall", "downgrade", "lawsuit", "weak", "loss", "cut", "probe", "recall", "sell"}
)

// SentimentAnalyst weighs insider activity against news headline tone.
type SentimentAnalyst struct {
	*BaseAgent
	insiderWeight float64
	newsWeight    float64
}

func NewSentimentAnalyst() *SentimentAnalyst {
	return &SentimentAnalyst{
		BaseAgent:     NewBaseAgent(consts.Sentiment, consts.Agent_Sentiment),
		insiderWeight: 0.3,
		newsWeight:    0.7,
	}
}

func (a *SentimentAnalyst) Evaluate(ctx context.Context, ticker string, date time.Time, mc *models.MarketContext) (*models.Signal, error) {
	if mc == nil {
		return nil, fmt.Errorf("no market context")
	}

	var insiderBull, insiderBear float64
	for _, t := range mc.InsiderTrades {
		switch {
		case t.Shares > 0:
			insiderBull++
		case t.Shares < 0:
			insiderBear++
		}
	}
	var newsBull, newsBear float64
	for _, n := range mc.News {
		switch classifyHeadline(n) {
		case models.Bullish:
			newsBull++
		case models.Bearish:
			newsBear++
		}
	}

	bull := insiderBull*a.insiderWeight + newsBull*a.newsWeight
	bear := insiderBear*a.insiderWeight + newsBear*a.newsWeight
	total := float64(len(mc.InsiderTrades))*a.insiderWeight + float64(len(mc.News))*a.newsWeight
	rationale := fmt.Sprintf("insiders %d buys / %d sells, news %d positive / %d negative of %d",
		int(insiderBull), int(insiderBear), int(newsBull), int(newsBear), len(mc.News))

	if total == 0 {
		return a.signal(ticker, date, models.Neutral, 0, "no news or insider activity"), nil
	}
	switch {
	case bull > bear:
		return a.signal(ticker, date, models.Bullish, bull/total, rationale), nil
	case bear > bull:
		return a.signal(ticker, date, models.Bearish, bear/total, rationale), nil
	default:
		return a.signal(ticker, date, models.Neutral, 0.5, rationale), nil
	}
}

// classifyHeadline trusts a provider-supplied sentiment, otherwise counts
// tone words in the title.
func classifyHeadline(n models.NewsItem) models.Stance {
	if s, ok := models.ParseStance(n.Sentiment); ok && n.Sentiment != "" {
		return s
	}
	title := strings.ToLower(n.Title)
	score := 0
	for _, w := range strings.FieldsFunc(title, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		for _, p := range positiveWords {
			if w == p {
				score++
			}
		}
		for _, q := range negativeWords {
			if w == q {
				score--
			}
		}
	}
	switch {
	case score > 0:
		return models.Bullish
	case score < 0:
		return models.Bearish
	default:
		return models.Neutral
	}
}
