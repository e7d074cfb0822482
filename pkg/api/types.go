package api

// API request/response types for REST endpoints and WebSocket messages.
// Amounts are decimal strings in the asset's smallest unit; *Display fields scale them by the
// asset's decimals for humans.

// ==============================
// REST Response Types
// ==============================

// AssetInfo describes a registered asset
type AssetInfo struct {
	Symbol   string `json:"symbol"`
	Token    string `json:"token"` // external token handle
	Decimals int32  `json:"decimals"`
	Base     bool   `json:"base"` // prices are denominated in the base asset
}

// OrderInfo is a resting (or just-matched) order
type OrderInfo struct {
	ID               string `json:"id"`
	Trader           string `json:"trader"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"` // "buy" or "sell"
	Price            string `json:"price"`
	Amount           string `json:"amount"`
	Filled           string `json:"filled"`
	Remaining        string `json:"remaining"`
	AmountDisplay    string `json:"amountDisplay"`
	RemainingDisplay string `json:"remainingDisplay"`
	Timestamp        int64  `json:"timestamp"` // Unix milliseconds
}

// TradeInfo is one fill
type TradeInfo struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	TakerOrderID  string `json:"takerOrderId"`
	MakerOrderID  string `json:"makerOrderId"`
	Taker         string `json:"taker"`
	Maker         string `json:"maker"`
	Side          string `json:"side"` // taker side
	Price         string `json:"price"`
	Amount        string `json:"amount"`
	AmountDisplay string `json:"amountDisplay"`
	Timestamp     int64  `json:"timestamp"`
}

// PriceLevel aggregates remaining quantity at one price
type PriceLevel struct {
	Price  string `json:"price"`
	Size   string `json:"size"`
	Orders int    `json:"orders"`
}

type BookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // high to low
	Asks      []PriceLevel `json:"asks"` // low to high
	Timestamp int64        `json:"timestamp"`
}

type BalanceInfo struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Balance string `json:"balance"`
	Display string `json:"display"`
}

// OrderResult is the response to an order submission
type OrderResult struct {
	Order   OrderInfo   `json:"order"`
	Kind    string      `json:"kind"` // "limit" or "market"
	Trades  []TradeInfo `json:"trades"`
	Rested  bool        `json:"rested"`
	Evicted []string    `json:"evicted,omitempty"` // maker orders dropped as unfunded
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// REST Request Types
// ==============================

// TransferRequest is the payload for POST /api/v1/deposit and /api/v1/withdraw
type TransferRequest struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

// LimitOrderRequest is the payload for POST /api/v1/orders/limit
type LimitOrderRequest struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
	Side   string `json:"side"`
}

// MarketOrderRequest is the payload for POST /api/v1/orders/market
type MarketOrderRequest struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Side   string `json:"side"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades:BAT", "book:BAT"]
}

// WSAck confirms a subscription change
type WSAck struct {
	Type     string   `json:"type"` // "subscribed" or "unsubscribed"
	Channels []string `json:"channels"`
}

// TradeUpdate is broadcast on "trades:<symbol>" when a trade executes
type TradeUpdate struct {
	Type  string    `json:"type"` // "trade"
	Trade TradeInfo `json:"trade"`
}

// BookUpdate is broadcast on "book:<symbol>" after a submission changes the book
type BookUpdate struct {
	Type string       `json:"type"` // "book"
	Book BookSnapshot `json:"book"`
}
