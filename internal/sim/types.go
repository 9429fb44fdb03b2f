package sim

import "time"

type OrderType string

type Side string

type OrderStatus string

type Mode string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

const (
	StatusOpen       OrderStatus = "OPEN"
	StatusFilled     OrderStatus = "FILLED"
	StatusCanceled   OrderStatus = "CANCELED"
	StatusLiquidated OrderStatus = "LIQUIDATED"
)

const (
	ModeFutures Mode = "FUTURES"
	ModeSpot    Mode = "SPOT"
)

// Order is append-only history: status transitions OPEN -> FILLED, CANCELED
// or LIQUIDATED; entries are never removed.
type Order struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Type           OrderType   `json:"type"`
	Side           Side        `json:"side"`
	Price          float64     `json:"price,omitempty"`
	Qty            float64     `json:"qty"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"timestamp"`
	ExecutionPrice float64     `json:"executionPrice,omitempty"`
	Fee            float64     `json:"fee,omitempty"`
	FeeAsset       string      `json:"feeAsset,omitempty"`
}

// Position is the single futures position held for a symbol. Margin stays
// positive for the position's whole lifetime; a fully closed or liquidated
// position is removed, not zeroed.
type Position struct {
	Symbol           string  `json:"symbol"`
	Side             Side    `json:"side"`
	Qty              float64 `json:"qty"`
	AvgEntry         float64 `json:"avgEntry"`
	Leverage         int     `json:"leverage"`
	Margin           float64 `json:"margin"`
	RealizedPnl      float64 `json:"realizedPnl"`
	LiquidationPrice float64 `json:"liquidationPrice"`
	TotalFees        float64 `json:"totalFees"`
}

type Performance struct {
	TotalOrders  int     `json:"totalOrders"`
	FilledOrders int     `json:"filledOrders"`
	TotalFees    float64 `json:"totalFees"`
	GrossPnl     float64 `json:"grossPnl"`
	NetPnl       float64 `json:"netPnl"`
	WinRate      float64 `json:"winRate"`
	TotalVolume  float64 `json:"totalVolume"`
	AvgOrderSize float64 `json:"avgOrderSize"`
}

// Summary is a derived read model, recomputed from ledger state on demand.
type Summary struct {
	Available     float64 `json:"available"`
	MarginUsed    float64 `json:"marginUsed"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	Equity        float64 `json:"equity"`
	MarginRatio   float64 `json:"marginRatio"`
}

type EventKind string

const (
	EventOrderPlaced    EventKind = "ORDER_PLACED"
	EventOrderFilled    EventKind = "ORDER_FILLED"
	EventOrderCanceled  EventKind = "ORDER_CANCELED"
	EventPositionClosed EventKind = "POSITION_CLOSED"
	EventLiquidation    EventKind = "LIQUIDATION"
)

// Event describes a ledger mutation for downstream consumers (push hub,
// alerts, metrics). Liquidation events always carry a user-facing message.
type Event struct {
	Kind    EventKind `json:"kind"`
	Symbol  string    `json:"symbol"`
	Message string    `json:"message,omitempty"`
	Order   *Order    `json:"order,omitempty"`
	Pnl     float64   `json:"pnl,omitempty"`
}
