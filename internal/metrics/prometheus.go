package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "trade_sim"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry       *prometheus.Registry
	ordersPlaced   prometheus.Counter
	ordersRejected prometheus.Counter
	ordersFilled   prometheus.Counter
	liquidations   prometheus.Counter
	ticksProcessed prometheus.Counter
	feedReconnects prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders accepted into the ledger.",
	})
	ordersRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_rejected_total",
		Help:      "Total number of orders rejected at validation.",
	})
	ordersFilled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_filled_total",
		Help:      "Total number of order fills.",
	})
	liquidations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "liquidations_total",
		Help:      "Total number of forced position liquidations.",
	})
	ticksProcessed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "ticks_processed_total",
		Help:      "Total number of price ticks applied to the ledger.",
	})
	feedReconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "feed_reconnects_total",
		Help:      "Total number of market feed reconnects.",
	})

	registry.MustRegister(ordersPlaced, ordersRejected, ordersFilled, liquidations, ticksProcessed, feedReconnects)

	m := &Metrics{
		OrdersPlaced:   promCounter{ordersPlaced},
		OrdersRejected: promCounter{ordersRejected},
		OrdersFilled:   promCounter{ordersFilled},
		Liquidations:   promCounter{liquidations},
		TicksProcessed: promCounter{ticksProcessed},
		FeedReconnects: promCounter{feedReconnects},
	}

	return &Prometheus{
		Metrics:        m,
		registry:       registry,
		ordersPlaced:   ordersPlaced,
		ordersRejected: ordersRejected,
		ordersFilled:   ordersFilled,
		liquidations:   liquidations,
		ticksProcessed: ticksProcessed,
		feedReconnects: feedReconnects,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
