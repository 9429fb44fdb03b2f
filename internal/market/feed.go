package market

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aditya-23140/trade-sim/internal/binance/rest"
	"github.com/aditya-23140/trade-sim/internal/binance/ws"
)

// staleAfter is how long the feed may go without a message before it
// reports itself disconnected.
const staleAfter = 10 * time.Second

// Feed merges the Binance kline REST backfill with the live trade and kline
// streams for the watched symbols. Ticks are delivered on a buffered channel
// with a single consumer; a full channel drops the tick rather than stalling
// the read loop.
type Feed struct {
	rest     *rest.Client
	ws       *ws.Client
	interval string
	history  int
	log      *zap.Logger

	mu         sync.RWMutex
	lastPrices map[string]float64
	candles    map[string][]Candle
	lastMsg    time.Time

	ticks   chan Tick
	candleC chan Candle
}

func NewFeed(restClient *rest.Client, wsClient *ws.Client, interval string, history int, log *zap.Logger) *Feed {
	if interval == "" {
		interval = "1m"
	}
	if history <= 0 {
		history = 500
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		rest:       restClient,
		ws:         wsClient,
		interval:   interval,
		history:    history,
		log:        log,
		lastPrices: make(map[string]float64),
		candles:    make(map[string][]Candle),
		ticks:      make(chan Tick, 256),
		candleC:    make(chan Candle, 64),
	}
}

// Start launches the stream read loop. It returns immediately; the loop
// reconnects on its own until ctx is canceled.
func (f *Feed) Start(ctx context.Context) {
	go func() {
		_ = f.ws.Run(ctx, f.handleMessage)
	}()
}

// Watch backfills candle history for a symbol and subscribes to its trade
// and kline streams.
func (f *Feed) Watch(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(symbol)
	if f.rest != nil {
		klines, err := f.rest.Klines(ctx, symbol, f.interval, f.history)
		if err != nil {
			f.log.Warn("kline backfill failed", zap.String("symbol", symbol), zap.Error(err))
		} else {
			candles := make([]Candle, 0, len(klines))
			for _, k := range klines {
				candles = append(candles, Candle{
					Symbol:   symbol,
					Interval: f.interval,
					OpenTime: time.UnixMilli(k.OpenTime).UTC(),
					Open:     k.Open,
					High:     k.High,
					Low:      k.Low,
					Close:    k.Close,
					Volume:   k.Volume,
					Closed:   true,
				})
			}
			f.mu.Lock()
			f.candles[symbol] = candles
			if n := len(candles); n > 0 {
				f.lastPrices[symbol] = candles[n-1].Close
			}
			f.mu.Unlock()
		}
	}
	return f.ws.Subscribe(ctx, tradeStream(symbol), klineStream(symbol, f.interval))
}

// Unwatch drops the live subscriptions for a symbol. Cached candles and the
// last price stay available for reads.
func (f *Feed) Unwatch(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(symbol)
	return f.ws.Unsubscribe(ctx, tradeStream(symbol), klineStream(symbol, f.interval))
}

// Ticks is the live trade price channel. Read it from one goroutine.
func (f *Feed) Ticks() <-chan Tick {
	return f.ticks
}

// Klines delivers every candle update; Closed marks a completed interval.
func (f *Feed) Klines() <-chan Candle {
	return f.candleC
}

func (f *Feed) LastPrice(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.lastPrices[strings.ToUpper(symbol)]
	return price, ok
}

// Candles returns the cached history for a symbol, oldest first.
func (f *Feed) Candles(symbol string) []Candle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cached := f.candles[strings.ToUpper(symbol)]
	out := make([]Candle, len(cached))
	copy(out, cached)
	return out
}

// Connected reports whether the feed has seen a message recently.
func (f *Feed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.lastMsg.IsZero() && time.Since(f.lastMsg) < staleAfter
}

func (f *Feed) handleMessage(msg json.RawMessage) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		f.log.Debug("ws decode error", zap.Error(err))
		return
	}
	// Combined streams wrap the event in a data envelope.
	if data, ok := payload["data"].(map[string]any); ok {
		payload = data
	}

	f.mu.Lock()
	f.lastMsg = time.Now()
	f.mu.Unlock()

	switch payload["e"] {
	case "trade":
		f.handleTrade(payload)
	case "kline":
		f.handleKline(payload)
	}
}

func (f *Feed) handleTrade(payload map[string]any) {
	symbol := stringFromAny(payload["s"])
	price, ok := floatFromAny(payload["p"])
	if symbol == "" || !ok || price <= 0 {
		return
	}
	f.mu.Lock()
	f.lastPrices[symbol] = price
	f.mu.Unlock()

	select {
	case f.ticks <- Tick{Symbol: symbol, Price: price, At: time.Now().UTC()}:
	default:
		f.log.Debug("tick channel full, dropping", zap.String("symbol", symbol))
	}
}

func (f *Feed) handleKline(payload map[string]any) {
	symbol := stringFromAny(payload["s"])
	k, ok := payload["k"].(map[string]any)
	if symbol == "" || !ok {
		return
	}
	openTime, _ := floatFromAny(k["t"])
	open, _ := floatFromAny(k["o"])
	high, _ := floatFromAny(k["h"])
	low, _ := floatFromAny(k["l"])
	cls, _ := floatFromAny(k["c"])
	volume, _ := floatFromAny(k["v"])
	closed, _ := k["x"].(bool)

	candle := Candle{
		Symbol:   symbol,
		Interval: stringFromAny(k["i"]),
		OpenTime: time.UnixMilli(int64(openTime)).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   volume,
		Closed:   closed,
	}

	f.mu.Lock()
	f.upsertCandle(symbol, candle)
	f.mu.Unlock()

	select {
	case f.candleC <- candle:
	default:
	}
}

// upsertCandle replaces the in-progress candle for the same open time or
// appends a new one, trimming to the history cap. Callers hold f.mu.
func (f *Feed) upsertCandle(symbol string, candle Candle) {
	cached := f.candles[symbol]
	if n := len(cached); n > 0 && cached[n-1].OpenTime.Equal(candle.OpenTime) {
		cached[n-1] = candle
	} else {
		cached = append(cached, candle)
		if len(cached) > f.history {
			cached = cached[len(cached)-f.history:]
		}
	}
	f.candles[symbol] = cached
}

func tradeStream(symbol string) string {
	return strings.ToLower(symbol) + "@trade"
}

func klineStream(symbol, interval string) string {
	return strings.ToLower(symbol) + "@kline_" + interval
}
