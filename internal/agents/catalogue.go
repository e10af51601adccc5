package agents

import (
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/dyike/CortexFund/consts"
)

// Analyst describes a selectable producer.
type Analyst struct {
	ID          string
	DisplayName string
	Description string
	// Persona analysts are investor characters an LLM can voice.
	Persona bool
	New     func() Producer
}

var Catalogue = []Analyst{
	{
		ID: consts.WarrenBuffett, DisplayName: consts.Agent_WarrenBuffett, Persona: true,
		Description: "The Oracle of Omaha. Seeks wonderful companies at a fair price.",
		New:         func() Producer { return NewWarrenBuffettAgent() },
	},
	{
		ID: consts.CathieWood, DisplayName: consts.Agent_CathieWood, Persona: true,
		Description: "The Queen of Growth Investing. Believes in the power of innovation and disruption.",
		New:         func() Producer { return NewCathieWoodAgent() },
	},
	{
		ID: consts.MichaelBurry, DisplayName: consts.Agent_MichaelBurry, Persona: true,
		Description: "The Big Short contrarian. Hunts for deep value.",
		New:         func() Producer { return NewMichaelBurryAgent() },
	},
	{
		ID: consts.PeterLynch, DisplayName: consts.Agent_PeterLynch, Persona: true,
		Description: "Practical investor who seeks ten-baggers in everyday businesses.",
		New:         func() Producer { return NewPeterLynchAgent() },
	},
	{
		ID: consts.Technical, DisplayName: consts.Agent_Technical,
		Description: "Chart pattern specialist. Focuses on trend, momentum and mean reversion.",
		New:         func() Producer { return NewTechnicalAnalyst() },
	},
	{
		ID: consts.Fundamentals, DisplayName: consts.Agent_Fundamentals,
		Description: "Financial statement specialist. Scores profitability, growth and health.",
		New:         func() Producer { return NewFundamentalsAnalyst() },
	},
	{
		ID: consts.Sentiment, DisplayName: consts.Agent_Sentiment,
		Description: "Market sentiment specialist. Reads insider activity and news tone.",
		New:         func() Producer { return NewSentimentAnalyst() },
	},
	{
		ID: consts.Valuation, DisplayName: consts.Agent_Valuation,
		Description: "Company valuation specialist. Compares intrinsic value with price.",
		New:         func() Producer { return NewValuationAnalyst() },
	},
}

func Lookup(id string) (Analyst, bool) {
	for _, a := range Catalogue {
		if a.ID == id {
			return a, true
		}
	}
	return Analyst{}, false
}

// AnalystIDs lists every known analyst in catalogue order.
func AnalystIDs() []string {
	ids := make([]string, len(Catalogue))
	for i, a := range Catalogue {
		ids[i] = a.ID
	}
	return ids
}

// Build instantiates the producers for ids. When chatModel is non-nil the
// persona analysts are voiced by it.
func Build(ids []string, chatModel model.BaseChatModel) ([]Producer, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no analysts selected")
	}
	seen := make(map[string]bool, len(ids))
	producers := make([]Producer, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		a, ok := Lookup(id)
		if !ok {
			return nil, fmt.Errorf("unknown analyst %q", id)
		}
		p := a.New()
		if a.Persona && chatModel != nil {
			llm, err := NewLLMProducer(p, a.DisplayName, a.Description, chatModel)
			if err != nil {
				return nil, err
			}
			p = llm
		}
		producers = append(producers, p)
	}
	return producers, nil
}
