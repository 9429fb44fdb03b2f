package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersRejected.Inc()
	prom.Metrics.OrdersFilled.Inc()
	prom.Metrics.Liquidations.Inc()
	prom.Metrics.TicksProcessed.Inc()
	prom.Metrics.FeedReconnects.Inc()

	assertCounter(t, prom.ordersPlaced, 1)
	assertCounter(t, prom.ordersRejected, 1)
	assertCounter(t, prom.ordersFilled, 1)
	assertCounter(t, prom.liquidations, 1)
	assertCounter(t, prom.ticksProcessed, 1)
	assertCounter(t, prom.feedReconnects, 1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
