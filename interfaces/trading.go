package interfaces

import (
	"context"
	"time"
)

// Order sides accepted by the gateway.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order types accepted by the gateway.
const (
	OrderTypeMarket       = "market"
	OrderTypeLimit        = "limit"
	OrderTypeStop         = "stop"
	OrderTypeTrailingStop = "trailing_stop"
)

// TerminalStatuses are the order statuses that will never change again.
// Reconciliation skips rows in any of these states.
var TerminalStatuses = []string{"filled", "canceled", "rejected", "replaced", "expired"}

// IsTerminalStatus reports whether an order status is final.
func IsTerminalStatus(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// OrderGateway is the only boundary that talks to the broker's remote API.
type OrderGateway interface {
	SubmitOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	ListOrders(ctx context.Context, status string) ([]*Order, error)
	CancelAllOrders(ctx context.Context) error
	GetPositions(ctx context.Context) ([]*Position, error)
	CloseAllPositions(ctx context.Context) error
	GetAccount(ctx context.Context) (*Account, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)

	// IsMarketOpenRemote asks the broker's clock, as opposed to the local
	// market-calendar gate.
	IsMarketOpenRemote(ctx context.Context) (bool, error)
}

// OrderLedger is the persisted store of orders and daily position snapshots,
// keyed by broker-assigned identifiers.
type OrderLedger interface {
	CreateOrder(order *Order) error
	UpdateOrder(order *Order) error
	GetOrder(orderID string) (*Order, error)
	GetOpenOrders() ([]*Order, error)
	GetByParentID(parentID string) ([]*Order, error)
	ListOrdersByDate(day time.Time) ([]*Order, error)
	UpsertPosition(runDate time.Time, pos *Position) error
	ListPositionsByDate(runDate time.Time) ([]*Position, error)
}

// NotificationSink delivers operator notifications. Implementations are
// fire-and-forget: a failed delivery must never abort the caller.
type NotificationSink interface {
	Notify(message string)
	ErrNotify(message string)
}

// Strategy is the capability the day orchestrator drives during the trading
// window. Variants are selected at construction time.
type Strategy interface {
	Name() string
	InitData(ctx context.Context) error
	Run(ctx context.Context) error
}

// OrderRequest describes an order submission to the gateway.
type OrderRequest struct {
	Symbol      string
	Side        string // "buy" or "sell"
	Qty         float64
	Type        string // "market", "limit", "stop", "trailing_stop"
	TimeInForce string // "day", "gtc"
	LimitPrice  *float64
	StopPrice   *float64
	// Bracket legs; both set means the order is submitted as a bracket.
	TakeProfit *float64
	StopLoss   *float64
	// Trailing stop distance in percent.
	TrailPercent *float64
}

// Order is the gateway's view of an order, SDK-free so that services and the
// ledger stay testable. Nullable broker numerics are already coerced to 0.00
// by the gateway.
type Order struct {
	ID             string
	ParentID       string // == ID for a standalone order, entry id for bracket legs
	Symbol         string
	Side           string
	Qty            float64
	Type           string
	TimeInForce    string
	OrderClass     string
	Status         string
	LimitPrice     float64
	StopPrice      float64
	TrailPercent   float64
	TrailPrice     float64
	FilledQty      float64
	FilledAvgPrice float64
	HWM            float64
	ReplacedBy     string
	ExtendedHours  bool
	SubmittedAt    time.Time
	FilledAt       *time.Time
	CanceledAt     *time.Time
	ExpiredAt      *time.Time
	ReplacedAt     *time.Time
	FailedAt       *time.Time
	Legs           []Order
}

// Position is a snapshot of a single holding at the broker.
type Position struct {
	Symbol         string
	Side           string // "long" or "short"
	Qty            float64
	AvgEntryPrice  float64
	CurrentPrice   float64
	LastdayPrice   float64
	MarketValue    float64
	UnrealizedPL   float64
	UnrealizedPLPC float64
}

// Account is a snapshot of the brokerage account's financial metrics.
type Account struct {
	ID             string
	Cash           float64
	PortfolioValue float64
	BuyingPower    float64
	Equity         float64
}
