package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aditya-23140/trade-sim/internal/alerts"
	"github.com/aditya-23140/trade-sim/internal/binance/rest"
	"github.com/aditya-23140/trade-sim/internal/binance/ws"
	"github.com/aditya-23140/trade-sim/internal/config"
	"github.com/aditya-23140/trade-sim/internal/market"
	"github.com/aditya-23140/trade-sim/internal/metrics"
	"github.com/aditya-23140/trade-sim/internal/server"
	"github.com/aditya-23140/trade-sim/internal/sim"
	"github.com/aditya-23140/trade-sim/internal/state"
	"github.com/aditya-23140/trade-sim/internal/state/sqlite"
	"github.com/aditya-23140/trade-sim/internal/timescale"
)

// App wires the simulator together and owns the run loop: feed ticks flow
// into the ledger, each mutation batch is snapshotted and pushed to the hub
// before the next event is handled.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    state.Store
	ledger   *sim.Ledger
	rest     *rest.Client
	feed     *market.Feed
	hub      *server.Hub
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	notifier *alerts.Notifier
	tsdb     *timescale.Writer

	mu     sync.Mutex
	symbol string
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	restClient := rest.New(cfg.Binance.RESTBaseURL, cfg.Binance.RESTTimeout, log)
	wsClient := ws.New(cfg.Binance.SpotWSBaseURL, cfg.Binance.ReconnectDelay, log)
	feed := market.NewFeed(restClient, wsClient, cfg.Sim.CandleInterval, cfg.Sim.CandleHistory, log)
	ledger := sim.NewLedger(cfg.Sim.StartingBalance, cfg.Sim.DefaultLeverage, cfg.Sim.MaxLeverage, log)

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	wsClient.OnReconnect(m.FeedReconnects.Inc)

	tsdb, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, err
	}

	telegram := alerts.NewTelegram(cfg.Telegram, log)

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		ledger:   ledger,
		rest:     restClient,
		feed:     feed,
		hub:      server.NewHub(log),
		metrics:  m,
		prom:     prom,
		notifier: alerts.NewNotifier(telegram, log),
		tsdb:     tsdb,
		symbol:   strings.ToUpper(cfg.Sim.DefaultSymbol),
	}, nil
}

// Run restores persisted state, starts the feed, hub and HTTP server, and
// then consumes feed events until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	if a.tsdb != nil {
		defer a.tsdb.Close()
	}

	if err := a.ledger.Restore(ctx, a.store); err != nil {
		a.log.Warn("snapshot restore failed", zap.Error(err))
	}

	go a.hub.Run(ctx)
	a.feed.Start(ctx)
	a.tsdb.Start(ctx)

	if err := a.feed.Watch(ctx, a.symbol); err != nil {
		a.log.Warn("symbol watch failed", zap.String("symbol", a.symbol), zap.Error(err))
	}

	srv := server.New(a, a.hub, a.cfg.Server.Addr, a.cfg.Server.AllowedOrigin, a.log)
	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.Run(ctx)
	}()
	if a.prom != nil {
		go func() {
			errCh <- a.runMetricsServer(ctx)
		}()
	}

	a.log.Info("simulator running",
		zap.String("symbol", a.symbol),
		zap.String("addr", a.cfg.Server.Addr),
		zap.Float64("starting_balance", a.cfg.Sim.StartingBalance))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				return err
			}
		case tick := <-a.feed.Ticks():
			a.handleTick(ctx, tick)
		case candle := <-a.feed.Klines():
			a.handleKline(candle)
		}
	}
}

func (a *App) runMetricsServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           a.prom.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleTick applies one price observation: limit evaluation, liquidation
// check, snapshot and pushes all complete before the next tick is read.
func (a *App) handleTick(ctx context.Context, tick market.Tick) {
	events := a.ledger.ApplyTick(tick.Symbol, tick.Price)
	a.metrics.TicksProcessed.Inc()
	a.hub.Broadcast("tick", map[string]any{
		"symbol": tick.Symbol,
		"price":  tick.Price,
		"time":   tick.At,
	})
	if len(events) > 0 {
		a.afterMutation(ctx, events)
	}
}

func (a *App) handleKline(candle market.Candle) {
	a.hub.Broadcast("kline", candle)
	if candle.Closed && a.tsdb != nil {
		a.tsdb.EnqueueCandle(timescale.Candle{
			Symbol:   candle.Symbol,
			Interval: candle.Interval,
			Start:    candle.OpenTime,
			Open:     candle.Open,
			High:     candle.High,
			Low:      candle.Low,
			Close:    candle.Close,
			Volume:   candle.Volume,
		})
	}
}

// afterMutation persists and publishes the outcome of a mutation batch.
func (a *App) afterMutation(ctx context.Context, events []sim.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case sim.EventOrderFilled:
			a.metrics.OrdersFilled.Inc()
		case sim.EventLiquidation:
			a.metrics.Liquidations.Inc()
		}
		a.hub.Broadcast("event", ev)
	}
	if err := a.ledger.Save(ctx, a.store); err != nil {
		a.log.Warn("snapshot save failed", zap.Error(err))
	}
	a.hub.Broadcast("state", a.State())
	a.notifier.HandleEvents(ctx, events)
	a.enqueueEquity()
}

func (a *App) enqueueEquity() {
	if a.tsdb == nil {
		return
	}
	summary := a.ledger.Summary()
	openOrders := 0
	for _, o := range a.ledger.Orders(0) {
		if o.Status == sim.StatusOpen {
			openOrders++
		}
	}
	a.tsdb.EnqueueEquity(timescale.EquitySnapshot{
		Time:          time.Now().UTC(),
		Mode:          string(a.ledger.Mode()),
		USDTBalance:   a.ledger.USDTBalance(),
		Equity:        summary.Equity,
		MarginUsed:    summary.MarginUsed,
		UnrealizedPnl: summary.UnrealizedPnl,
		OpenPositions: len(a.ledger.Positions()),
		OpenOrders:    openOrders,
	})
}

// PlaceOrder implements server.Core.
func (a *App) PlaceOrder(ctx context.Context, params sim.OrderParams) (sim.Order, error) {
	order, events, err := a.ledger.PlaceOrder(params)
	if err != nil {
		a.metrics.OrdersRejected.Inc()
		return sim.Order{}, err
	}
	a.metrics.OrdersPlaced.Inc()
	a.afterMutation(ctx, events)
	return order, nil
}

func (a *App) CancelOrder(ctx context.Context, id string) (sim.Order, error) {
	order, ok := a.ledger.CancelOrder(id)
	if !ok {
		return sim.Order{}, fmt.Errorf("order %s: %w", id, server.ErrNotFound)
	}
	var events []sim.Event
	if order.Status == sim.StatusCanceled {
		o := order
		events = append(events, sim.Event{Kind: sim.EventOrderCanceled, Symbol: order.Symbol, Order: &o})
	}
	a.afterMutation(ctx, events)
	return order, nil
}

func (a *App) ClosePosition(ctx context.Context, symbol string, qty float64) error {
	events, err := a.ledger.ClosePosition(symbol, qty)
	if err != nil {
		return err
	}
	a.afterMutation(ctx, events)
	return nil
}

func (a *App) SellAll(ctx context.Context, symbol string) error {
	events, err := a.ledger.SellAll(symbol)
	if err != nil {
		return err
	}
	a.afterMutation(ctx, events)
	return nil
}

// Reset restores starting balances and removes the persisted snapshot.
func (a *App) Reset(ctx context.Context) error {
	a.ledger.Reset()
	if err := a.ledger.Wipe(ctx, a.store); err != nil {
		a.log.Warn("snapshot wipe failed", zap.Error(err))
	}
	a.hub.Broadcast("state", a.State())
	return nil
}

func (a *App) SetLeverage(n int) error {
	if err := a.ledger.SetLeverage(n); err != nil {
		return err
	}
	a.hub.Broadcast("state", a.State())
	return nil
}

func (a *App) SetMode(ctx context.Context, mode string) error {
	if err := a.ledger.SetMode(sim.Mode(strings.ToUpper(mode))); err != nil {
		return err
	}
	a.hub.Broadcast("state", a.State())
	return nil
}

// SetSymbol switches the watched market. The old subscription is dropped but
// its cached prices stay valid for open positions.
func (a *App) SetSymbol(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return sim.ErrSymbolRequired
	}
	a.mu.Lock()
	old := a.symbol
	a.symbol = symbol
	a.mu.Unlock()
	if old == symbol {
		return nil
	}
	if err := a.feed.Watch(ctx, symbol); err != nil {
		return err
	}
	// Keep streaming symbols that still carry a position or resting order so
	// their liquidation and trigger checks stay live.
	if !a.symbolInUse(old) {
		if err := a.feed.Unwatch(ctx, old); err != nil {
			a.log.Warn("unwatch failed", zap.String("symbol", old), zap.Error(err))
		}
	}
	a.hub.Broadcast("state", a.State())
	return nil
}

func (a *App) symbolInUse(symbol string) bool {
	if _, ok := a.ledger.Positions()[symbol]; ok {
		return true
	}
	for _, o := range a.ledger.Orders(0) {
		if o.Symbol == symbol && o.Status == sim.StatusOpen {
			return true
		}
	}
	return false
}

func (a *App) SetCurrency(ctx context.Context, mode string, rate float64) error {
	if err := a.ledger.SetCurrency(strings.ToUpper(mode), rate); err != nil {
		return err
	}
	if err := a.ledger.Save(ctx, a.store); err != nil {
		a.log.Warn("snapshot save failed", zap.Error(err))
	}
	a.hub.Broadcast("state", a.State())
	return nil
}

// State implements server.Core.
func (a *App) State() server.State {
	a.mu.Lock()
	symbol := a.symbol
	a.mu.Unlock()

	currencyMode, rate := a.ledger.Currency()
	lastPrice, _ := a.ledger.LastPrice(symbol)
	return server.State{
		Mode:          a.ledger.Mode(),
		Symbol:        symbol,
		Leverage:      a.ledger.Leverage(),
		USDTBalance:   a.ledger.USDTBalance(),
		SpotBalances:  a.ledger.Balances(),
		Positions:     a.ledger.Positions(),
		Orders:        a.ledger.Orders(a.cfg.Server.OrderViewCap),
		Performance:   a.ledger.Performance(),
		Summary:       a.ledger.Summary(),
		LastPrice:     lastPrice,
		CurrencyMode:  currencyMode,
		USDToINRRate:  rate,
		FeedConnected: a.feed.Connected(),
	}
}

// History serves candles from the feed cache when possible, falling back to
// a REST fetch for other symbols or intervals.
func (a *App) History(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if interval == "" {
		interval = a.cfg.Sim.CandleInterval
	}
	if interval == a.cfg.Sim.CandleInterval {
		if cached := a.feed.Candles(symbol); len(cached) > 0 {
			if limit > 0 && limit < len(cached) {
				cached = cached[len(cached)-limit:]
			}
			return cached, nil
		}
	}
	if limit <= 0 {
		limit = a.cfg.Sim.CandleHistory
	}
	klines, err := a.rest.Klines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	candles := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, market.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
			Closed:   true,
		})
	}
	return candles, nil
}
