package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types. The grid engine only places limits.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// Raw exchange order statuses the engine dispatches on.
const (
	StatusNew            = "NEW"
	StatusPartial        = "PARTIALLY_FILLED"
	StatusFilled         = "FILLED"
	StatusCanceled       = "CANCELED"
	StatusRejected       = "REJECTED"
	StatusExpired        = "EXPIRED"
	StatusExpiredInMatch = "EXPIRED_IN_MATCH"
)

// OrderAck is the exchange's acknowledgement of a placement, surfaced
// verbatim so the caller can decide on retries.
type OrderAck struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
	Status        string
	Price         float64
	OrigQty       float64
}

// Balance is one asset's free/locked split.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// SymbolFilters are the placement constraints published in exchangeInfo.
// Decimal counts are derived from the tick/step strings so rounding uses
// the exchange-dictated precision.
type SymbolFilters struct {
	BaseAsset     string
	QuoteAsset    string
	MinPrice      float64
	MaxPrice      float64
	TickSize      float64
	PriceDecimals int
	MinQty        float64
	MaxQty        float64
	StepSize      float64
	QtyDecimals   int
	MinNotional   float64
	MaxNotional   float64
}
