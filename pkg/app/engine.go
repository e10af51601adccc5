package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/config"
	"github.com/dyike/CortexFund/internal/agents"
	"github.com/dyike/CortexFund/internal/backtest"
	"github.com/dyike/CortexFund/internal/graph"
	"github.com/dyike/CortexFund/internal/risk"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/dataflows"
	"github.com/dyike/CortexFund/pkg/metrics"
)

// Engine is one immutable assembly of data sources, producers and the
// decision pipeline for a given config.
type Engine struct {
	Config  config.Config
	BuiltAt time.Time
	Version uint64

	Data         dataflows.MarketData
	Producers    []agents.Producer
	Limits       risk.Limits
	Orchestrator *graph.Orchestrator

	logger  zerolog.Logger
	metrics *metrics.Registry
}

var engineSeq atomic.Uint64

// Deps are the process-wide collaborators shared by every engine build.
// Data and ChatModel override what the config would select.
type Deps struct {
	Logger    zerolog.Logger
	Metrics   *metrics.Registry
	Data      dataflows.MarketData
	ChatModel model.BaseChatModel
}

func BuildEngine(cfg config.Config) (*Engine, error) {
	return Deps{Logger: zerolog.Nop()}.Build(cfg)
}

func (d Deps) Build(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ctx := context.Background()

	data := d.Data
	if data == nil {
		p, err := dataflows.NewProvider(&cfg, d.Logger)
		if err != nil {
			return nil, err
		}
		data = p
	}

	chat := d.ChatModel
	if chat == nil && cfg.UseLLMPersonas {
		m, err := agents.NewChatModel(ctx, &cfg)
		if err != nil {
			return nil, err
		}
		chat = m
	}
	producers, err := agents.Build(cfg.Analysts, chat)
	if err != nil {
		return nil, err
	}

	limits := LimitsFromConfig(cfg)
	riskMgr, err := risk.NewManager(limits)
	if err != nil {
		return nil, err
	}
	orch, err := graph.NewOrchestrator(ctx, producers, riskMgr,
		graph.WithProducerTimeout(cfg.ProducerTimeout()),
		graph.WithLogger(d.Logger),
		graph.WithMetrics(d.Metrics),
	)
	if err != nil {
		return nil, err
	}

	return &Engine{
		Config:       cfg,
		BuiltAt:      time.Now(),
		Version:      engineSeq.Add(1),
		Data:         data,
		Producers:    producers,
		Limits:       limits,
		Orchestrator: orch,
		logger:       d.Logger,
		metrics:      d.Metrics,
	}, nil
}

func LimitsFromConfig(cfg config.Config) risk.Limits {
	return risk.Limits{
		MaxPositionPct:    decimal.NewFromFloat(cfg.MaxPositionPct),
		MaxExposurePct:    decimal.NewFromFloat(cfg.MaxExposurePct),
		MarginRequirement: decimal.NewFromFloat(cfg.MarginRequirement),
	}
}

// NewPortfolio returns a flat portfolio funded per the config.
func (e *Engine) NewPortfolio() *models.Portfolio {
	return models.NewPortfolio(decimal.NewFromFloat(e.Config.InitialCash), e.Limits.MarginRequirement)
}

// Simulator wires a backtest over this engine's pipeline and data.
func (e *Engine) Simulator(cfg backtest.Config, opts ...backtest.Option) (*backtest.Simulator, error) {
	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = e.Config.LookbackDays
	}
	opts = append([]backtest.Option{backtest.WithLogger(e.logger), backtest.WithMetrics(e.metrics)}, opts...)
	return backtest.NewSimulator(cfg, e.Orchestrator, e.Data, opts...)
}

// Cycle is the outcome of one live decision date.
type Cycle struct {
	Date      time.Time                  `json:"date"`
	Decisions []*graph.Decision          `json:"decisions"`
	Prices    map[string]decimal.Decimal `json:"prices"`
	Value     decimal.Decimal            `json:"value"`
}

// Decide runs one live cycle per ticker on date against pf. Each ticker is
// priced at its latest close on or before date. Cycles without signals are
// reported through the returned decision and do not stop the others.
func (e *Engine) Decide(ctx context.Context, tickers []string, date time.Time, pf *models.Portfolio) (*Cycle, error) {
	if len(tickers) == 0 {
		return nil, errors.New("at least one ticker is required")
	}
	date = models.Day(date)
	lookback := e.Config.LookbackDays

	held := append([]string(nil), tickers...)
	for _, t := range pf.Tickers() {
		if !containsTicker(held, t) {
			held = append(held, t)
		}
	}

	book := dataflows.NewHistoryBook()
	if err := book.Load(ctx, e.Data, held, date.AddDate(0, 0, -lookback), date); err != nil {
		return nil, err
	}
	cycle := &Cycle{Date: date, Prices: make(map[string]decimal.Decimal, len(held))}
	for _, t := range held {
		bars := book.Window(t, date, lookback)
		if len(bars) == 0 {
			return nil, &models.MissingMarketDataError{Ticker: t, Date: date}
		}
		cycle.Prices[t] = bars[len(bars)-1].Close
	}

	for _, t := range tickers {
		dec, err := e.Orchestrator.Decide(ctx, &graph.Request{
			Ticker:    t,
			Date:      date,
			Context:   dataflows.BuildContext(ctx, e.Data, book, t, date, lookback, e.logger),
			Portfolio: pf,
			Prices:    cycle.Prices,
		})
		var funds *models.InsufficientFundsError
		switch {
		case err == nil:
		case errors.Is(err, models.ErrNoSignals), errors.As(err, &funds):
			e.logger.Warn().Err(err).Str("ticker", t).Msg("cycle skipped")
		default:
			return cycle, err
		}
		if dec != nil {
			cycle.Decisions = append(cycle.Decisions, dec)
		}
	}

	pf.Date = date
	value, err := pf.TotalValue(cycle.Prices)
	if err != nil {
		return cycle, err
	}
	cycle.Value = value
	return cycle, nil
}

func containsTicker(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
