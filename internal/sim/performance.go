package sim

// updatePerformance folds one executed order into the running metrics.
// Callers hold l.mu. Liquidated orders count toward totals and volume but
// not toward filledOrders.
func (l *Ledger) updatePerformance(o Order, pnl, fee float64) {
	p := &l.perf
	p.TotalOrders++
	if o.Status == StatusFilled {
		p.FilledOrders++
	}
	p.TotalFees = Round8(p.TotalFees + fee)
	p.GrossPnl = Round8(p.GrossPnl + pnl)
	p.NetPnl = Round8(p.GrossPnl - p.TotalFees)
	if o.ExecutionPrice > 0 {
		p.TotalVolume = Round8(p.TotalVolume + o.ExecutionPrice*o.Qty)
	}
	p.WinRate = l.winRate(p.FilledOrders)
	if p.FilledOrders > 0 {
		p.AvgOrderSize = Round8(p.TotalVolume / float64(p.FilledOrders))
	} else {
		p.AvgOrderSize = 0
	}
}

// winRate is the share of filled orders currently in profit against the
// latest traded price of their symbol. An order with no known price for its
// symbol counts as not profitable.
func (l *Ledger) winRate(filled int) float64 {
	if filled == 0 {
		return 0
	}
	profitable := 0
	for i := range l.orders {
		o := &l.orders[i]
		if o.Status != StatusFilled || o.ExecutionPrice <= 0 {
			continue
		}
		ltp := l.prices[o.Symbol]
		if (o.Side == SideLong && ltp > o.ExecutionPrice) ||
			(o.Side == SideShort && ltp < o.ExecutionPrice) {
			profitable++
		}
	}
	return Round8(float64(profitable) / float64(filled) * 100)
}
