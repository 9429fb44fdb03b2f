package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced   Counter
	OrdersRejected Counter
	OrdersFilled   Counter
	Liquidations   Counter
	TicksProcessed Counter
	FeedReconnects Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:   n,
		OrdersRejected: n,
		OrdersFilled:   n,
		Liquidations:   n,
		TicksProcessed: n,
		FeedReconnects: n,
	}
}
