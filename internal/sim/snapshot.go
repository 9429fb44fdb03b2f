package sim

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/aditya-23140/trade-sim/internal/state"
)

const snapshotKey = "simulator:snapshot"

// snapshot is the persisted account state. Market prices and the trading
// mode are deliberately left out: prices are re-learned from the feed and
// the mode is a session choice.
type snapshot struct {
	USDTBalance      float64             `json:"usdtBalance"`
	SpotBalances     map[string]float64  `json:"spotBalances"`
	FuturesPositions map[string]Position `json:"futuresPositions"`
	Orders           []Order             `json:"orders"`
	Performance      Performance         `json:"performanceData"`
	CurrencyMode     string              `json:"currencyMode"`
	USDToINRRate     float64             `json:"usdToInrRate"`
}

// Save writes the current account state to the store.
func (l *Ledger) Save(ctx context.Context, store state.Store) error {
	l.mu.Lock()
	snap := snapshot{
		USDTBalance:      l.usdtBalance,
		SpotBalances:     make(map[string]float64, len(l.spotBalances)),
		FuturesPositions: make(map[string]Position, len(l.positions)),
		Orders:           make([]Order, len(l.orders)),
		Performance:      l.perf,
		CurrencyMode:     l.currencyMode,
		USDToINRRate:     l.usdToInrRate,
	}
	for asset, qty := range l.spotBalances {
		snap.SpotBalances[asset] = qty
	}
	for sym, pos := range l.positions {
		snap.FuturesPositions[sym] = *pos
	}
	copy(snap.Orders, l.orders)
	l.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return store.Set(ctx, snapshotKey, string(raw))
}

// Restore loads a previously saved snapshot. A missing or unreadable
// snapshot leaves the ledger at its defaults and is not an error.
func (l *Ledger) Restore(ctx context.Context, store state.Store) error {
	raw, ok, err := store.Get(ctx, snapshotKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		l.log.Warn("discarding corrupt snapshot", zap.Error(err))
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.usdtBalance = snap.USDTBalance
	l.spotBalances = snap.SpotBalances
	if l.spotBalances == nil {
		l.spotBalances = map[string]float64{quoteAsset: l.startBalance}
	}
	l.positions = make(map[string]*Position, len(snap.FuturesPositions))
	for sym, pos := range snap.FuturesPositions {
		p := pos
		l.positions[sym] = &p
	}
	l.orders = snap.Orders
	l.perf = snap.Performance
	if snap.CurrencyMode == "USD" || snap.CurrencyMode == "INR" {
		l.currencyMode = snap.CurrencyMode
	}
	if snap.USDToINRRate > 0 {
		l.usdToInrRate = snap.USDToINRRate
	}
	return nil
}

// Wipe removes the persisted snapshot, used together with Reset.
func (l *Ledger) Wipe(ctx context.Context, store state.Store) error {
	return store.Delete(ctx, snapshotKey)
}
