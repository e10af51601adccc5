// Package metrics exposes the decision pipeline's Prometheus collectors.
// A nil *Registry is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	Cycles           *prometheus.CounterVec
	ProducerFailures *prometheus.CounterVec
	ProducerLatency  *prometheus.HistogramVec
	Orders           *prometheus.CounterVec
	PortfolioValue   prometheus.Gauge
	SimulatedDates   prometheus.Counter
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexfund_cycles_total",
				Help: "Decision cycles by outcome",
			},
			[]string{"outcome"},
		),
		ProducerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexfund_producer_failures_total",
				Help: "Signal producer failures excluded from aggregation",
			},
			[]string{"producer"},
		),
		ProducerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortexfund_producer_duration_seconds",
				Help:    "Time spent in each signal producer",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"producer"},
		),
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexfund_orders_total",
				Help: "Orders emitted by action",
			},
			[]string{"action"},
		),
		PortfolioValue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cortexfund_portfolio_value",
				Help: "Last marked-to-market portfolio value",
			},
		),
		SimulatedDates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cortexfund_simulated_dates_total",
				Help: "Trading dates processed by the backtest simulator",
			},
		),
	}
	r.reg.MustRegister(r.Cycles, r.ProducerFailures, r.ProducerLatency, r.Orders, r.PortfolioValue, r.SimulatedDates)
	return r
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) ObserveProducer(name string, elapsed time.Duration, failed bool) {
	if r == nil {
		return
	}
	r.ProducerLatency.WithLabelValues(name).Observe(elapsed.Seconds())
	if failed {
		r.ProducerFailures.WithLabelValues(name).Inc()
	}
}

func (r *Registry) RecordCycle(outcome string) {
	if r == nil {
		return
	}
	r.Cycles.WithLabelValues(outcome).Inc()
}

func (r *Registry) RecordOrder(action string) {
	if r == nil {
		return
	}
	r.Orders.WithLabelValues(action).Inc()
}

func (r *Registry) RecordValuation(value float64) {
	if r == nil {
		return
	}
	r.PortfolioValue.Set(value)
	r.SimulatedDates.Inc()
}
