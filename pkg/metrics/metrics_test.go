package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRecords(t *testing.T) {
	r := NewRegistry()
	r.ObserveProducer("technical", 10*time.Millisecond, true)
	r.ObserveProducer("technical", 5*time.Millisecond, false)
	r.RecordOrder("buy")
	r.RecordCycle("ok")
	r.RecordValuation(100100)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.ProducerFailures.WithLabelValues("technical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Orders.WithLabelValues("buy")))
	assert.Equal(t, 100100.0, testutil.ToFloat64(r.PortfolioValue))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "cortexfund_orders_total")
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveProducer("x", time.Second, true)
		r.RecordCycle("ok")
		r.RecordOrder("sell")
		r.RecordValuation(1)
	})
}
