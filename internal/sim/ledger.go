package sim

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrSymbolRequired     = errors.New("symbol is required")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrLimitPriceRequired = errors.New("limit price must be > 0")
	ErrNoMarketPrice      = errors.New("no market price available")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNoPosition         = errors.New("no open position")
	ErrNotFutures         = errors.New("not in futures mode")
	ErrNotSpot            = errors.New("not in spot mode")
	ErrInvalidLeverage    = errors.New("invalid leverage")
)

const quoteAsset = "USDT"

// Ledger is the simulator aggregate: open orders, futures positions, spot
// balances and the running performance ledger. All mutations run under one
// mutex so a price tick fully resolves limit evaluation and the liquidation
// check before the next event is handled.
type Ledger struct {
	log *zap.Logger

	mu           sync.Mutex
	mode         Mode
	leverage     int
	maxLeverage  int
	startBalance float64
	usdtBalance  float64
	spotBalances map[string]float64
	positions    map[string]*Position
	orders       []Order
	perf         Performance
	prices       map[string]float64
	currencyMode string
	usdToInrRate float64
	idSeq        uint64
}

type OrderParams struct {
	Symbol     string
	Type       OrderType
	Side       Side
	Qty        float64
	LimitPrice float64
}

func NewLedger(startBalance float64, leverage, maxLeverage int, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	if leverage < 1 {
		leverage = 1
	}
	if maxLeverage < leverage {
		maxLeverage = leverage
	}
	return &Ledger{
		log:          log,
		mode:         ModeFutures,
		leverage:     leverage,
		maxLeverage:  maxLeverage,
		startBalance: startBalance,
		usdtBalance:  startBalance,
		spotBalances: map[string]float64{quoteAsset: startBalance},
		positions:    make(map[string]*Position),
		prices:       make(map[string]float64),
		currencyMode: "USD",
		usdToInrRate: 83.5,
		idSeq:        uint64(time.Now().UnixNano()),
	}
}

// PlaceOrder validates and admits an order. MARKET orders execute in the
// same step; LIMIT orders rest until a tick satisfies their trigger. A
// rejected order is never added to history.
func (l *Ledger) PlaceOrder(p OrderParams) (Order, []Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	symbol := normalizeSymbol(p.Symbol)
	if symbol == "" {
		return Order{}, nil, ErrSymbolRequired
	}
	if p.Qty <= 0 {
		return Order{}, nil, ErrInvalidQuantity
	}
	if p.Type == OrderTypeLimit && p.LimitPrice <= 0 {
		return Order{}, nil, ErrLimitPriceRequired
	}
	refPrice := p.LimitPrice
	if p.Type == OrderTypeMarket {
		refPrice = l.prices[symbol]
		if refPrice <= 0 {
			return Order{}, nil, ErrNoMarketPrice
		}
	}

	order := Order{
		ID:        l.uid("o_"),
		Symbol:    symbol,
		Type:      p.Type,
		Side:      p.Side,
		Qty:       p.Qty,
		Status:    StatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	if p.Type == OrderTypeLimit {
		order.Price = p.LimitPrice
	}

	if err := l.validateFunds(order, refPrice); err != nil {
		return Order{}, nil, err
	}

	l.prepend(order)
	events := []Event{{Kind: EventOrderPlaced, Symbol: symbol, Order: orderCopy(order)}}

	if p.Type == OrderTypeMarket {
		if l.mode == ModeFutures {
			events = append(events, l.executeFutures(order.ID, refPrice)...)
		} else {
			events = append(events, l.executeSpot(order.ID, refPrice)...)
		}
	}
	placed, _ := l.findOrder(order.ID)
	return placed, events, nil
}

// ApplyTick records the latest traded price for a symbol, then evaluates
// resting limit orders and the liquidation condition against it.
func (l *Ledger) ApplyTick(symbol string, price float64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	symbol = normalizeSymbol(symbol)
	if symbol == "" || price <= 0 {
		return nil
	}
	l.prices[symbol] = price

	var events []Event

	var triggered []string
	for _, o := range l.orders {
		if o.Status != StatusOpen || o.Type != OrderTypeLimit || o.Symbol != symbol {
			continue
		}
		if (o.Side == SideLong && price <= o.Price) || (o.Side == SideShort && price >= o.Price) {
			triggered = append(triggered, o.ID)
		}
	}
	for _, id := range triggered {
		order, ok := l.findOrder(id)
		if !ok || order.Status != StatusOpen {
			continue
		}
		if err := l.validateFunds(order, price); err != nil {
			l.setStatus(id, StatusCanceled)
			l.log.Warn("limit order canceled on trigger", zap.String("order_id", id), zap.Error(err))
			canceled, _ := l.findOrder(id)
			events = append(events, Event{Kind: EventOrderCanceled, Symbol: symbol, Message: err.Error(), Order: orderCopy(canceled)})
			continue
		}
		if l.mode == ModeFutures {
			events = append(events, l.executeFutures(id, price)...)
		} else {
			events = append(events, l.executeSpot(id, price)...)
		}
	}

	if l.mode == ModeFutures {
		if pos, ok := l.positions[symbol]; ok {
			breached := (pos.Side == SideLong && price <= pos.LiquidationPrice) ||
				(pos.Side == SideShort && price >= pos.LiquidationPrice)
			if breached {
				events = append(events, l.liquidate(pos))
			}
		}
	}
	return events
}

// validateFunds checks whether the order can settle at execPrice. It never
// mutates state; failures carry a user-facing shortfall description.
func (l *Ledger) validateFunds(order Order, execPrice float64) error {
	notional := execPrice * order.Qty
	futures := l.mode == ModeFutures
	fee := Fee(order.Type, notional, futures)

	if futures {
		margin := RequiredMargin(notional, l.leverage)
		required := Round8(margin + fee)
		if l.usdtBalance < required {
			return fmt.Errorf("insufficient USDT balance: required %.2f USDT (%.2f margin + %.6f fee), available %.2f USDT: %w",
				required, margin, fee, l.usdtBalance, ErrInsufficientFunds)
		}
		return nil
	}
	if order.Side == SideLong {
		required := Round8(notional + fee)
		available := l.spotBalances[quoteAsset]
		if available < required {
			return fmt.Errorf("insufficient USDT balance: required %.2f USDT (%.2f notional + %.6f fee), available %.2f USDT: %w",
				required, notional, fee, available, ErrInsufficientFunds)
		}
		return nil
	}
	base := baseAsset(order.Symbol)
	available := l.spotBalances[base]
	if available < order.Qty {
		return fmt.Errorf("insufficient %s balance: required %.8f, available %.8f: %w",
			base, order.Qty, available, ErrInsufficientFunds)
	}
	return nil
}

// executeFutures fills the order against the futures account. An opposite
// position on the same symbol is fully closed first (auto-flip); a same-side
// position grows with a notional-weighted average entry.
func (l *Ledger) executeFutures(orderID string, execPrice float64) []Event {
	order, ok := l.findOrder(orderID)
	if !ok {
		return nil
	}
	notional := execPrice * order.Qty
	fee := Fee(order.Type, notional, true)
	margin := RequiredMargin(notional, l.leverage)

	if err := l.validateFunds(order, execPrice); err != nil {
		l.setStatus(orderID, StatusCanceled)
		canceled, _ := l.findOrder(orderID)
		return []Event{{Kind: EventOrderCanceled, Symbol: order.Symbol, Message: err.Error(), Order: orderCopy(canceled)}}
	}

	var events []Event
	pos := l.positions[order.Symbol]
	if pos != nil && pos.Side != order.Side {
		events = append(events, l.closePositionAt(pos, execPrice, "auto_close_", EventPositionClosed))
		pos = nil
	}

	if pos != nil {
		newQty := Round8(pos.Qty + order.Qty)
		newAvg := Round8((pos.AvgEntry*pos.Qty + execPrice*order.Qty) / newQty)
		newMargin := Round8(pos.Margin + margin)
		pos.Qty = newQty
		pos.AvgEntry = newAvg
		pos.Margin = newMargin
		pos.Leverage = l.leverage
		pos.LiquidationPrice = LiquidationPrice(newAvg, newQty, pos.Side, newMargin)
		pos.TotalFees = Round8(pos.TotalFees + fee)
	} else {
		l.positions[order.Symbol] = &Position{
			Symbol:           order.Symbol,
			Side:             order.Side,
			Qty:              order.Qty,
			AvgEntry:         execPrice,
			Leverage:         l.leverage,
			Margin:           margin,
			LiquidationPrice: LiquidationPrice(execPrice, order.Qty, order.Side, margin),
			TotalFees:        fee,
		}
	}

	l.usdtBalance = Round8(l.usdtBalance - margin - fee)
	filled := l.fill(orderID, execPrice, fee, quoteAsset)
	l.updatePerformance(filled, 0, fee)
	events = append(events, Event{Kind: EventOrderFilled, Symbol: order.Symbol, Order: orderCopy(filled)})
	return events
}

// executeSpot settles a spot fill: buys spend USDT and credit the base
// asset, sells spend the base asset and credit USDT net of fee.
func (l *Ledger) executeSpot(orderID string, execPrice float64) []Event {
	order, ok := l.findOrder(orderID)
	if !ok {
		return nil
	}
	if err := l.validateFunds(order, execPrice); err != nil {
		l.setStatus(orderID, StatusCanceled)
		canceled, _ := l.findOrder(orderID)
		return []Event{{Kind: EventOrderCanceled, Symbol: order.Symbol, Message: err.Error(), Order: orderCopy(canceled)}}
	}

	base := baseAsset(order.Symbol)
	notional := execPrice * order.Qty
	fee := Fee(order.Type, notional, false)

	feeAsset := quoteAsset
	if order.Side == SideLong {
		feeAsset = base
		l.spotBalances[quoteAsset] = Round8(l.spotBalances[quoteAsset] - notional - fee)
		l.spotBalances[base] = Round8(l.spotBalances[base] + order.Qty)
	} else {
		l.spotBalances[base] = Round8(l.spotBalances[base] - order.Qty)
		l.spotBalances[quoteAsset] = Round8(l.spotBalances[quoteAsset] + notional - fee)
	}

	filled := l.fill(orderID, execPrice, fee, feeAsset)
	l.updatePerformance(filled, 0, fee)
	return []Event{{Kind: EventOrderFilled, Symbol: order.Symbol, Order: orderCopy(filled)}}
}

// closePositionAt fully closes a position at the given price, realizing its
// PnL, returning its margin and charging a market closing fee.
func (l *Ledger) closePositionAt(pos *Position, price float64, idPrefix string, kind EventKind) Event {
	pnl := positionPnl(pos, price)
	closeFee := Fee(OrderTypeMarket, price*pos.Qty, true)
	l.usdtBalance = Round8(l.usdtBalance + pos.Margin + pnl - closeFee)

	closeOrder := Order{
		ID:             l.uid(idPrefix),
		Symbol:         pos.Symbol,
		Type:           OrderTypeMarket,
		Side:           opposite(pos.Side),
		Qty:            pos.Qty,
		Status:         StatusFilled,
		CreatedAt:      time.Now().UTC(),
		ExecutionPrice: price,
		Fee:            closeFee,
		FeeAsset:       quoteAsset,
	}
	l.prepend(closeOrder)
	l.updatePerformance(closeOrder, pnl, closeFee)
	delete(l.positions, pos.Symbol)
	return Event{Kind: kind, Symbol: pos.Symbol, Order: orderCopy(closeOrder), Pnl: pnl}
}

// liquidate force-closes a position at its liquidation price (not the tick
// price). The margin is forfeited; a zero-fee LIQUIDATED order is recorded.
func (l *Ledger) liquidate(pos *Position) Event {
	pnl := positionPnl(pos, pos.LiquidationPrice)
	l.usdtBalance = Round8(l.usdtBalance + pnl)

	liqOrder := Order{
		ID:             l.uid("liq_"),
		Symbol:         pos.Symbol,
		Type:           OrderTypeMarket,
		Side:           opposite(pos.Side),
		Qty:            pos.Qty,
		Status:         StatusLiquidated,
		CreatedAt:      time.Now().UTC(),
		ExecutionPrice: pos.LiquidationPrice,
		Fee:            0,
		FeeAsset:       quoteAsset,
	}
	l.prepend(liqOrder)
	l.updatePerformance(liqOrder, pnl, 0)
	delete(l.positions, pos.Symbol)

	msg := fmt.Sprintf("%s %s position liquidated at %s", pos.Symbol, pos.Side, strconv.FormatFloat(pos.LiquidationPrice, 'f', -1, 64))
	l.log.Info("position liquidated",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("liquidation_price", pos.LiquidationPrice),
		zap.Float64("pnl", pnl))
	return Event{Kind: EventLiquidation, Symbol: pos.Symbol, Message: msg, Order: orderCopy(liqOrder), Pnl: pnl}
}

// ClosePosition closes qty of the symbol's futures position at the latest
// traded price; qty <= 0 closes the whole position.
func (l *Ledger) ClosePosition(symbol string, qty float64) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mode != ModeFutures {
		return nil, ErrNotFutures
	}
	symbol = normalizeSymbol(symbol)
	pos, ok := l.positions[symbol]
	if !ok {
		return nil, ErrNoPosition
	}
	price := l.prices[symbol]
	if price <= 0 {
		return nil, ErrNoMarketPrice
	}

	closeQty := qty
	if closeQty <= 0 || closeQty > pos.Qty {
		closeQty = pos.Qty
	}
	closeFee := Fee(OrderTypeMarket, price*closeQty, true)
	if l.usdtBalance < closeFee {
		return nil, fmt.Errorf("insufficient balance for closing fee %.6f USDT: %w", closeFee, ErrInsufficientFunds)
	}

	if closeQty >= pos.Qty {
		return []Event{l.closePositionAt(pos, price, "close_", EventPositionClosed)}, nil
	}

	pnl := Round8(partialPnl(pos, price, closeQty))
	marginReturn := Round8(pos.Margin * closeQty / pos.Qty)
	l.usdtBalance = Round8(l.usdtBalance + marginReturn + pnl - closeFee)

	closeOrder := Order{
		ID:             l.uid("close_"),
		Symbol:         symbol,
		Type:           OrderTypeMarket,
		Side:           opposite(pos.Side),
		Qty:            closeQty,
		Status:         StatusFilled,
		CreatedAt:      time.Now().UTC(),
		ExecutionPrice: price,
		Fee:            closeFee,
		FeeAsset:       quoteAsset,
	}
	l.prepend(closeOrder)
	l.updatePerformance(closeOrder, pnl, closeFee)

	pos.Qty = Round8(pos.Qty - closeQty)
	pos.Margin = Round8(pos.Margin - marginReturn)
	pos.RealizedPnl = Round8(pos.RealizedPnl + pnl)
	pos.TotalFees = Round8(pos.TotalFees + closeFee)
	pos.LiquidationPrice = LiquidationPrice(pos.AvgEntry, pos.Qty, pos.Side, pos.Margin)

	return []Event{{Kind: EventPositionClosed, Symbol: symbol, Order: orderCopy(closeOrder), Pnl: pnl}}, nil
}

// CancelOrder transitions an OPEN order to CANCELED. Canceling a non-OPEN
// order is a no-op; no funds move since none were reserved.
func (l *Ledger) CancelOrder(id string) (Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.findOrder(id)
	if !ok {
		return Order{}, false
	}
	if order.Status != StatusOpen {
		return order, true
	}
	l.setStatus(id, StatusCanceled)
	order, _ = l.findOrder(id)
	return order, true
}

// SellAll market-sells the entire base-asset balance for a symbol.
func (l *Ledger) SellAll(symbol string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mode != ModeSpot {
		return nil, ErrNotSpot
	}
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrSymbolRequired
	}
	price := l.prices[symbol]
	if price <= 0 {
		return nil, ErrNoMarketPrice
	}
	qty := l.spotBalances[baseAsset(symbol)]
	if qty <= 0 {
		return nil, fmt.Errorf("no %s balance to sell: %w", baseAsset(symbol), ErrInsufficientFunds)
	}

	order := Order{
		ID:        l.uid("sell_"),
		Symbol:    symbol,
		Type:      OrderTypeMarket,
		Side:      SideShort,
		Qty:       qty,
		Status:    StatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	l.prepend(order)
	return l.executeSpot(order.ID, price), nil
}

// Reset restores the ledger to its initial state.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.usdtBalance = l.startBalance
	l.spotBalances = map[string]float64{quoteAsset: l.startBalance}
	l.positions = make(map[string]*Position)
	l.orders = nil
	l.perf = Performance{}
}

func (l *Ledger) SetLeverage(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 1 || n > l.maxLeverage {
		return fmt.Errorf("leverage must be between 1 and %d: %w", l.maxLeverage, ErrInvalidLeverage)
	}
	l.leverage = n
	return nil
}

func (l *Ledger) Leverage() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leverage
}

func (l *Ledger) SetMode(mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if mode != ModeFutures && mode != ModeSpot {
		return fmt.Errorf("unknown trading mode %q", mode)
	}
	l.mode = mode
	return nil
}

func (l *Ledger) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

func (l *Ledger) SetCurrency(mode string, rate float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if mode != "USD" && mode != "INR" {
		return fmt.Errorf("unknown currency mode %q", mode)
	}
	if rate <= 0 {
		return errors.New("currency rate must be > 0")
	}
	l.currencyMode = mode
	l.usdToInrRate = rate
	return nil
}

func (l *Ledger) Currency() (string, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currencyMode, l.usdToInrRate
}

func (l *Ledger) LastPrice(symbol string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	price, ok := l.prices[normalizeSymbol(symbol)]
	return price, ok
}

// Summary derives account metrics from open positions marked to the latest
// known prices. Positions without a price contribute no unrealized PnL.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	var marginUsed, unrealized float64
	for _, pos := range l.positions {
		marginUsed += pos.Margin
		if price, ok := l.prices[pos.Symbol]; ok && price > 0 {
			unrealized += positionPnl(pos, price)
		}
	}
	s := Summary{
		Available:     l.usdtBalance,
		MarginUsed:    Round8(marginUsed),
		UnrealizedPnl: Round8(unrealized),
		Equity:        Round8(l.usdtBalance + unrealized),
	}
	if s.MarginUsed > 0 {
		s.MarginRatio = Round8(s.Equity / s.MarginUsed)
	}
	return s
}

// Orders returns up to limit newest-first history entries; limit <= 0 means
// the full history.
func (l *Ledger) Orders(limit int) []Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.orders)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Order, n)
	copy(out, l.orders[:n])
	return out
}

func (l *Ledger) Positions() map[string]Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Position, len(l.positions))
	for sym, pos := range l.positions {
		out[sym] = *pos
	}
	return out
}

func (l *Ledger) Balances() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.spotBalances))
	for asset, qty := range l.spotBalances {
		out[asset] = qty
	}
	return out
}

func (l *Ledger) USDTBalance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usdtBalance
}

func (l *Ledger) Performance() Performance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perf
}

func (l *Ledger) prepend(order Order) {
	l.orders = append([]Order{order}, l.orders...)
}

func (l *Ledger) findOrder(id string) (Order, bool) {
	for i := range l.orders {
		if l.orders[i].ID == id {
			return l.orders[i], true
		}
	}
	return Order{}, false
}

func (l *Ledger) setStatus(id string, status OrderStatus) {
	for i := range l.orders {
		if l.orders[i].ID == id {
			l.orders[i].Status = status
			return
		}
	}
}

func (l *Ledger) fill(id string, execPrice, fee float64, feeAsset string) Order {
	for i := range l.orders {
		if l.orders[i].ID == id {
			l.orders[i].Status = StatusFilled
			l.orders[i].ExecutionPrice = execPrice
			l.orders[i].Fee = fee
			l.orders[i].FeeAsset = feeAsset
			return l.orders[i]
		}
	}
	return Order{}
}

func (l *Ledger) uid(prefix string) string {
	l.idSeq++
	return prefix + strconv.FormatUint(l.idSeq, 36)
}

func positionPnl(pos *Position, price float64) float64 {
	return partialPnl(pos, price, pos.Qty)
}

func partialPnl(pos *Position, price, qty float64) float64 {
	if pos.Side == SideLong {
		return Round8((price - pos.AvgEntry) * qty)
	}
	return Round8((pos.AvgEntry - price) * qty)
}

func opposite(side Side) Side {
	if side == SideLong {
		return SideShort
	}
	return SideLong
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func baseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, quoteAsset)
}

func orderCopy(o Order) *Order {
	c := o
	return &c
}
