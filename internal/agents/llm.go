package agents

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/CortexFund/config"
	"github.com/dyike/CortexFund/internal/processing"
	"github.com/dyike/CortexFund/models"
)

//go:embed prompts
var promptFiles embed.FS

func loadPrompt(name string) (string, error) {
	content, err := promptFiles.ReadFile(fmt.Sprintf("prompts/%s.md", name))
	if err != nil {
		return "", fmt.Errorf("failed to load prompt %s: %w", name, err)
	}
	return string(content), nil
}

// NewChatModel builds the chat model selected by cfg.LLMProvider.
func NewChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "deepseek", "":
		if cfg.DeepSeekAPIKey == "" {
			return nil, fmt.Errorf("deepseek provider selected but DEEPSEEK_API_KEY is empty")
		}
		return deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    cfg.DeepSeekAPIKey,
			Model:     cfg.QuickThinkLLM,
			MaxTokens: cfg.MaxTokens,
		})
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY is empty")
		}
		maxTokens := cfg.MaxTokens
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   cfg.BackendURL,
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.QuickThinkLLM,
			MaxTokens: &maxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
}

// LLMProducer lets a chat model make the final call for a persona. The
// persona's rule-based analysis is handed to the model as findings.
type LLMProducer struct {
	*BaseAgent
	rules      Producer
	philosophy string
	chatModel  model.BaseChatModel
	template   prompt.ChatTemplate
	processor  *processing.SignalProcessor
}

func NewLLMProducer(rules Producer, displayName, philosophy string, chatModel model.BaseChatModel) (*LLMProducer, error) {
	system, err := loadPrompt("persona")
	if err != nil {
		return nil, err
	}
	format, err := loadPrompt("format")
	if err != nil {
		return nil, err
	}
	// format.md contains literal braces, so it is passed in as a template
	// value rather than template text.
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage("{request}"),
	)
	return &LLMProducer{
		BaseAgent:  NewBaseAgent(rules.Name(), displayName),
		rules:      rules,
		philosophy: philosophy + "\n\n" + format,
		chatModel:  chatModel,
		template:   tpl,
		processor:  processing.NewSignalProcessor(),
	}, nil
}

func (p *LLMProducer) Evaluate(ctx context.Context, ticker string, date time.Time, mc *models.MarketContext) (*models.Signal, error) {
	findings := "none available"
	if base, err := p.rules.Evaluate(ctx, ticker, date, mc); err == nil {
		findings = fmt.Sprintf("%s (confidence %.0f%%): %s", base.Stance, base.Confidence*100, base.Rationale)
	}

	msgs, err := p.template.Format(ctx, map[string]any{
		"persona":    p.DisplayName(),
		"ticker":     ticker,
		"date":       date.Format(models.DateLayout),
		"philosophy": p.philosophy,
		"findings":   findings,
		"snapshot":   snapshot(mc),
		"request":    fmt.Sprintf("Give your signal for %s.", ticker),
	})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}

	reply, err := p.chatModel.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if reply == nil {
		return nil, fmt.Errorf("empty reply from model")
	}
	verdict, err := p.processor.Parse(reply.Content)
	if err != nil {
		return nil, err
	}
	return p.signal(ticker, date, verdict.Stance, verdict.Confidence, verdict.Reasoning), nil
}

func snapshot(mc *models.MarketContext) string {
	if mc == nil {
		return "no market data"
	}
	var b strings.Builder
	if n := len(mc.Prices); n > 0 {
		first, last := mc.Prices[0], mc.Prices[n-1]
		fmt.Fprintf(&b, "%d daily bars from %s to %s, close %s -> %s\n",
			n, first.Date.Format(models.DateLayout), last.Date.Format(models.DateLayout),
			first.Close.StringFixed(2), last.Close.StringFixed(2))
	}
	if m := mc.Metrics; m != nil {
		fmt.Fprintf(&b, "P/E %.1f, P/B %.1f, ROE %s, net margin %s, revenue growth %s, debt/equity %.2f\n",
			m.PriceToEarnings, m.PriceToBook, pct(m.ReturnOnEquity), pct(m.NetMargin), pct(m.RevenueGrowth), m.DebtToEquity)
	}
	for i, n := range mc.News {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", n.Date.Format(models.DateLayout), n.Title)
	}
	return b.String()
}
