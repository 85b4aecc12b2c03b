package strategy

import (
	"context"

	"github.com/mitchivanov/waverider/pkg/exchanges/common"
)

// Gateway is the slice of the exchange session a strategy drives. The
// concrete implementation is the per-bot spot client.
type Gateway interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (*common.OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOpen(ctx context.Context, symbol string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (string, error)
	GetAccountBalances(ctx context.Context) ([]common.Balance, error)
	GetSymbolFilters(ctx context.Context, symbol string) (*common.SymbolFilters, error)
}

// PriceSource exposes the latest sampled price for the bot's symbol.
type PriceSource interface {
	Current() (float64, bool)
	WaitForPrice(ctx context.Context) (float64, error)
	Stop()
}

// Notifier relays user-facing events to connected clients.
type Notifier interface {
	Notify(notificationType string, botID int64, payload any)
}

// Strategy is one bot's execution engine.
type Strategy interface {
	// Execute runs the strategy loop until Stop is called or ctx ends.
	Execute(ctx context.Context) error
	// Stop tears the strategy down: cancel open orders, clear state,
	// close the logger. Idempotent.
	Stop(ctx context.Context) error
	// Status derives a fresh snapshot for the fan-out layer.
	Status(ctx context.Context) Status
	BotID() int64
	Type() string
}

// ActiveOrderView is one live order as shown in status snapshots.
type ActiveOrderView struct {
	OrderID   string  `json:"order_id"`
	OrderType string  `json:"order_type"`
	IsInitial bool    `json:"is_initial"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
}

// Status is the snapshot served to status subscribers.
type Status struct {
	BotID                int64             `json:"bot_id"`
	Type                 string            `json:"type"`
	Symbol               string            `json:"symbol"`
	Running              bool              `json:"running"`
	CurrentPrice         float64           `json:"current_price"`
	InitialPrice         float64           `json:"initial_price"`
	Deviation            float64           `json:"deviation"`
	RealizedProfitA      float64           `json:"realized_profit_a"`
	RealizedProfitB      float64           `json:"realized_profit_b"`
	TotalProfitUSDT      float64           `json:"total_profit_usdt"`
	UnrealizedProfitA    float64           `json:"unrealized_profit_a"`
	UnrealizedProfitB    float64           `json:"unrealized_profit_b"`
	ActiveOrdersCount    int               `json:"active_orders_count"`
	CompletedTradesCount int               `json:"completed_trades_count"`
	ActiveOrders         []ActiveOrderView `json:"active_orders"`
	InitialParameters    any               `json:"initial_parameters"`
}
