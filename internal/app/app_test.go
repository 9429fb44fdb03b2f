package app

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aditya-23140/trade-sim/internal/alerts"
	"github.com/aditya-23140/trade-sim/internal/binance/ws"
	"github.com/aditya-23140/trade-sim/internal/config"
	"github.com/aditya-23140/trade-sim/internal/market"
	"github.com/aditya-23140/trade-sim/internal/metrics"
	"github.com/aditya-23140/trade-sim/internal/server"
	"github.com/aditya-23140/trade-sim/internal/sim"
	"github.com/aditya-23140/trade-sim/internal/state"
)

func newTestApp(t *testing.T) (*App, *state.Memory) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Sim.StartingBalance = 2000
	cfg.Sim.DefaultSymbol = "SOLUSDT"
	cfg.Sim.DefaultLeverage = 10
	cfg.Sim.MaxLeverage = 100
	cfg.Sim.CandleInterval = "1m"
	cfg.Sim.CandleHistory = 100
	cfg.Server.OrderViewCap = 50

	log := zap.NewNop()
	store := state.NewMemory()
	wsClient := ws.New("ws://unused", 10*time.Millisecond, log)
	feed := market.NewFeed(nil, wsClient, "1m", 100, log)
	hub := server.NewHub(log)
	go hub.Run(context.Background())

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		ledger:   sim.NewLedger(2000, 10, 100, log),
		feed:     feed,
		hub:      hub,
		metrics:  metrics.NewNoop(),
		notifier: alerts.NewNotifier(alerts.NewTelegram(config.TelegramConfig{}, log), log),
		symbol:   "SOLUSDT",
	}
	return a, store
}

func TestPlaceOrderPersistsSnapshot(t *testing.T) {
	a, store := newTestApp(t)
	ctx := context.Background()
	a.ledger.ApplyTick("SOLUSDT", 100)

	order, err := a.PlaceOrder(ctx, sim.OrderParams{Symbol: "SOLUSDT", Type: sim.OrderTypeMarket, Side: sim.SideLong, Qty: 1})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.Status != sim.StatusFilled {
		t.Fatalf("order status = %s, want FILLED", order.Status)
	}

	_, ok, err := store.Get(ctx, "simulator:snapshot")
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if !ok {
		t.Fatalf("mutation did not persist a snapshot")
	}
}

func TestHandleTickFillsRestingLimit(t *testing.T) {
	a, store := newTestApp(t)
	ctx := context.Background()

	order, err := a.PlaceOrder(ctx, sim.OrderParams{Symbol: "SOLUSDT", Type: sim.OrderTypeLimit, Side: sim.SideLong, Qty: 1, LimitPrice: 100})
	if err != nil {
		t.Fatalf("place limit: %v", err)
	}
	a.handleTick(ctx, market.Tick{Symbol: "SOLUSDT", Price: 99.5, At: time.Now()})

	for _, o := range a.ledger.Orders(0) {
		if o.ID == order.ID && o.Status != sim.StatusFilled {
			t.Fatalf("limit order status = %s, want FILLED", o.Status)
		}
	}
	if _, ok, _ := store.Get(ctx, "simulator:snapshot"); !ok {
		t.Fatalf("tick mutation did not persist a snapshot")
	}
}

func TestResetWipesSnapshot(t *testing.T) {
	a, store := newTestApp(t)
	ctx := context.Background()
	a.ledger.ApplyTick("SOLUSDT", 100)
	if _, err := a.PlaceOrder(ctx, sim.OrderParams{Symbol: "SOLUSDT", Type: sim.OrderTypeMarket, Side: sim.SideLong, Qty: 1}); err != nil {
		t.Fatalf("place order: %v", err)
	}

	if err := a.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "simulator:snapshot"); ok {
		t.Fatalf("reset left snapshot behind")
	}
	if a.ledger.USDTBalance() != 2000 {
		t.Fatalf("balance after reset = %v, want 2000", a.ledger.USDTBalance())
	}
}

func TestSetSymbolSwitchesWatch(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	if err := a.SetSymbol(ctx, "btcusdt"); err != nil {
		t.Fatalf("set symbol: %v", err)
	}
	if got := a.State().Symbol; got != "BTCUSDT" {
		t.Fatalf("state symbol = %s, want BTCUSDT", got)
	}
	if err := a.SetSymbol(ctx, ""); err == nil {
		t.Fatalf("empty symbol must be rejected")
	}
}

func TestStateView(t *testing.T) {
	a, _ := newTestApp(t)
	a.ledger.ApplyTick("SOLUSDT", 100)

	view := a.State()
	if view.Mode != sim.ModeFutures {
		t.Fatalf("mode = %s, want FUTURES", view.Mode)
	}
	if view.LastPrice != 100 {
		t.Fatalf("last price = %v, want 100", view.LastPrice)
	}
	if view.Leverage != 10 || view.USDTBalance != 2000 {
		t.Fatalf("unexpected view: %+v", view)
	}
}
