package db

import "time"

// Bot is the identity row for a running (or stopped) strategy instance.
type Bot struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"` // grid | indexfund | sellbot
	Symbol    string    `json:"symbol"`
	APIKey    string    `json:"-"`
	APISecret string    `json:"-"`
	Testnet   bool      `json:"testnet"`
	Status    string    `json:"status"` // active | inactive
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveOrder mirrors an order the exchange is believed to still hold open.
type ActiveOrder struct {
	BotID     int64     `json:"bot_id"`
	OrderID   string    `json:"order_id"`   // exchange-assigned
	OrderType string    `json:"order_type"` // buy | sell
	IsInitial bool      `json:"is_initial"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderRecord is the append-only lifecycle record of a single order.
type OrderRecord struct {
	BotID     int64     `json:"bot_id"`
	OrderID   string    `json:"order_id"`
	OrderType string    `json:"order_type"`
	IsInitial bool      `json:"is_initial"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Status    string    `json:"status"` // OPEN | FILLED | CANCELED
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Trade is a two-legged trade: an initial fill paired with its counter order.
type Trade struct {
	ID          int64     `json:"id"`
	BotID       int64     `json:"bot_id"`
	TradeType   string    `json:"trade_type"` // BUY_SELL | SELL_BUY
	BuyPrice    float64   `json:"buy_price"`
	SellPrice   float64   `json:"sell_price"`
	Quantity    float64   `json:"quantity"`
	Profit      float64   `json:"profit"`
	ProfitAsset string    `json:"profit_asset"`
	Status      string    `json:"status"` // OPEN | CLOSED
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Order lifecycle states as persisted in order_history.
const (
	OrderStatusOpen     = "OPEN"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
)

// Trade lifecycle states.
const (
	TradeStatusOpen   = "OPEN"
	TradeStatusClosed = "CLOSED"
)

// Bot status values.
const (
	BotStatusActive   = "active"
	BotStatusInactive = "inactive"
)
