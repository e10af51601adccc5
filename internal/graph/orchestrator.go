// Package graph wires producers, aggregator, risk manager and portfolio
// manager into one eino graph run per ticker per date.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/consts"
	"github.com/dyike/CortexFund/internal/agents"
	"github.com/dyike/CortexFund/internal/aggregator"
	"github.com/dyike/CortexFund/internal/portfolio"
	"github.com/dyike/CortexFund/internal/risk"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/metrics"
)

const DefaultProducerTimeout = 30 * time.Second

// Request is the input of one decision cycle. Prices must hold the closing
// price of Ticker and of every ticker held in Portfolio.
type Request struct {
	Ticker    string
	Date      time.Time
	Context   *models.MarketContext
	Portfolio *models.Portfolio
	Prices    map[string]decimal.Decimal
}

// Decision is the record of one cycle.
type Decision struct {
	Ticker    string                   `json:"ticker"`
	Date      time.Time                `json:"date"`
	Signals   []models.Signal          `json:"signals"`
	Failures  []*models.ProducerError  `json:"-"`
	Aggregate *models.AggregatedSignal `json:"aggregate,omitempty"`
	Bound     *models.RiskBound        `json:"risk_bound,omitempty"`
	Orders    []models.Order           `json:"orders"`
}

// outcome is what a producer node hands to the aggregator.
type outcome struct {
	signal *models.Signal
	err    *models.ProducerError
}

// cycle flows through the sequential stages. A non-nil err short-circuits
// the remaining stages.
type cycle struct {
	req      *Request
	decision *Decision
	err      error
}

type Option func(*Orchestrator)

func WithProducerTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCallbacks adds eino callback handlers to every run, e.g. for tracing.
func WithCallbacks(handlers ...callbacks.Handler) Option {
	return func(o *Orchestrator) { o.handlers = append(o.handlers, handlers...) }
}

type Orchestrator struct {
	producers []agents.Producer
	risk      *risk.Manager
	timeout   time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Registry
	handlers  []callbacks.Handler

	runnable compose.Runnable[*Request, *cycle]
	// Cycles share the portfolio, so they run one at a time.
	mu sync.Mutex
}

func NewOrchestrator(ctx context.Context, producers []agents.Producer, riskMgr *risk.Manager, opts ...Option) (*Orchestrator, error) {
	if len(producers) == 0 {
		return nil, errors.New("at least one producer is required")
	}
	if riskMgr == nil {
		return nil, errors.New("risk manager is required")
	}

	o := &Orchestrator{
		producers: producers,
		risk:      riskMgr,
		timeout:   DefaultProducerTimeout,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.handlers = append(o.handlers, NewLoggerCallback(o.logger))

	r, err := o.compile(ctx)
	if err != nil {
		return nil, err
	}
	o.runnable = r
	return o, nil
}

func (o *Orchestrator) Producers() []agents.Producer { return o.producers }

func (o *Orchestrator) compile(ctx context.Context) (compose.Runnable[*Request, *cycle], error) {
	g := compose.NewGraph[*Request, *cycle]()

	// The request travels to the aggregator beside the producer outputs.
	passthrough := func(_ context.Context, req *Request) (map[string]any, error) {
		return map[string]any{consts.Input: req}, nil
	}

	// 决策节点
	stages := []struct {
		name string
		node *compose.Lambda
	}{
		{consts.Input, compose.InvokableLambda(passthrough)},
		{consts.Aggregator, compose.InvokableLambda(o.aggregate)},
		{consts.RiskManager, compose.InvokableLambda(o.bound)},
		{consts.PortfolioManager, compose.InvokableLambda(o.resolve)},
	}
	reserved := make(map[string]bool, len(stages))
	for _, st := range stages {
		if err := g.AddLambdaNode(st.name, st.node, compose.WithNodeName(st.name)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", st.name, err)
		}
		reserved[st.name] = true
	}

	// 分析师并行节点
	seen := make(map[string]bool, len(o.producers))
	for _, p := range o.producers {
		name := p.Name()
		if reserved[name] || seen[name] {
			return nil, fmt.Errorf("duplicate or reserved producer name %q", name)
		}
		seen[name] = true
		if err := g.AddLambdaNode(name, compose.InvokableLambda(o.produce(p)), compose.WithNodeName(name)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", name, err)
		}
		if err := g.AddEdge(compose.START, name); err != nil {
			return nil, err
		}
		if err := g.AddEdge(name, consts.Aggregator); err != nil {
			return nil, err
		}
	}

	edges := [][2]string{
		{compose.START, consts.Input},
		{consts.Input, consts.Aggregator},
		{consts.Aggregator, consts.RiskManager},
		{consts.RiskManager, consts.PortfolioManager},
		{consts.PortfolioManager, compose.END},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s -> %s: %w", e[0], e[1], err)
		}
	}

	return g.Compile(ctx,
		compose.WithGraphName(consts.GraphName),
		compose.WithNodeTriggerMode(compose.AllPredecessor),
	)
}

// Decide runs one cycle for req.Ticker and applies the resulting orders to
// req.Portfolio. Producer failures are recorded on the decision, never
// returned; the error is reserved for cycles that cannot complete.
func (o *Orchestrator) Decide(ctx context.Context, req *Request) (*Decision, error) {
	if req == nil || req.Portfolio == nil || req.Ticker == "" {
		return nil, errors.New("decision request needs a ticker and a portfolio")
	}
	if _, ok := req.Prices[req.Ticker]; !ok {
		return nil, &models.MissingMarketDataError{Ticker: req.Ticker, Date: req.Date}
	}
	req.Date = models.Day(req.Date)

	o.mu.Lock()
	defer o.mu.Unlock()

	out, err := o.runnable.Invoke(ctx, req, compose.WithCallbacks(o.handlers...))
	if err != nil {
		o.metrics.RecordCycle("error")
		return nil, fmt.Errorf("decision graph for %s: %w", req.Ticker, err)
	}
	if out.err != nil {
		o.metrics.RecordCycle("aborted")
		return out.decision, out.err
	}

	o.metrics.RecordCycle("ok")
	for _, ord := range out.decision.Orders {
		o.metrics.RecordOrder(string(ord.Action))
	}
	o.logger.Info().
		Str("ticker", req.Ticker).
		Str("date", req.Date.Format(models.DateLayout)).
		Str("stance", string(out.decision.Aggregate.NetStance)).
		Float64("strength", out.decision.Aggregate.Strength).
		Int("signals", len(out.decision.Signals)).
		Int("failures", len(out.decision.Failures)).
		Int("orders", len(out.decision.Orders)).
		Msg("cycle complete")
	return out.decision, nil
}

// produce runs p under the producer timeout. A slow producer is abandoned,
// not waited for.
func (o *Orchestrator) produce(p agents.Producer) func(context.Context, *Request) (map[string]any, error) {
	name := p.Name()
	return func(ctx context.Context, req *Request) (map[string]any, error) {
		pctx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		started := time.Now()
		done := make(chan outcome, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- outcome{err: o.producerError(name, req, fmt.Errorf("panic: %v", r))}
				}
			}()
			sig, err := p.Evaluate(pctx, req.Ticker, req.Date, req.Context)
			switch {
			case err != nil:
				done <- outcome{err: o.producerError(name, req, err)}
			case sig == nil:
				done <- outcome{err: o.producerError(name, req, errors.New("returned no signal"))}
			default:
				if verr := sig.Validate(); verr != nil {
					done <- outcome{err: o.producerError(name, req, verr)}
					return
				}
				done <- outcome{signal: sig}
			}
		}()

		var res outcome
		select {
		case res = <-done:
		case <-pctx.Done():
			res = outcome{err: o.producerError(name, req, pctx.Err())}
		}
		o.metrics.ObserveProducer(name, time.Since(started), res.err != nil)
		if res.err != nil {
			o.logger.Warn().Err(res.err.Err).Str("producer", name).Str("ticker", req.Ticker).Msg("producer excluded")
		}
		return map[string]any{name: res}, nil
	}
}

func (o *Orchestrator) producerError(name string, req *Request, err error) *models.ProducerError {
	return &models.ProducerError{SourceID: name, Ticker: req.Ticker, Date: req.Date, Err: err}
}

// aggregate collects producer outputs in configuration order so the
// contributing signals are reproducible.
func (o *Orchestrator) aggregate(_ context.Context, in map[string]any) (*cycle, error) {
	req, ok := in[consts.Input].(*Request)
	if !ok {
		return nil, errors.New("aggregator input is missing the request")
	}
	c := &cycle{req: req, decision: &Decision{Ticker: req.Ticker, Date: req.Date}}

	for _, p := range o.producers {
		res, ok := in[p.Name()].(outcome)
		if !ok {
			continue
		}
		if res.err != nil {
			c.decision.Failures = append(c.decision.Failures, res.err)
			continue
		}
		c.decision.Signals = append(c.decision.Signals, *res.signal)
	}

	agg, err := aggregator.Aggregate(c.decision.Signals)
	if err != nil {
		c.err = err
		return c, nil
	}
	c.decision.Aggregate = agg
	return c, nil
}

func (o *Orchestrator) bound(_ context.Context, c *cycle) (*cycle, error) {
	if c.err != nil {
		return c, nil
	}
	b, err := o.risk.Bound(c.decision.Aggregate, c.req.Portfolio, c.req.Prices)
	if err != nil {
		c.err = err
		return c, nil
	}
	c.decision.Bound = b
	return c, nil
}

func (o *Orchestrator) resolve(_ context.Context, c *cycle) (*cycle, error) {
	if c.err != nil {
		return c, nil
	}
	price := c.req.Prices[c.req.Ticker]
	orders, err := portfolio.Resolve(c.decision.Bound, c.decision.Aggregate, c.req.Portfolio, price)
	if err != nil {
		c.err = err
		return c, nil
	}
	for _, ord := range orders {
		if err := portfolio.Apply(ord, c.req.Portfolio); err != nil {
			c.err = fmt.Errorf("apply %s: %w", ord, err)
			return c, nil
		}
		c.decision.Orders = append(c.decision.Orders, ord)
	}
	return c, nil
}
