package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/ledger"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/orderbook"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// CreateAccountRequest is the payload for POST /api/v1/accounts
type CreateAccountRequest struct {
	ID ledger.AccountID `json:"id"`
}

// AmountRequest is the payload for deposits and withdrawals
type AmountRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// TransferRequest is the payload for POST /api/v1/transfers
type TransferRequest struct {
	From   ledger.AccountID `json:"from"`
	To     ledger.AccountID `json:"to"`
	Asset  string           `json:"asset"`
	Amount decimal.Decimal  `json:"amount"`
}

// ==============================
// REST Response Types
// ==============================

// BalanceInfo is the balance of one asset
type BalanceInfo struct {
	Account ledger.AccountID `json:"account"`
	Asset   string           `json:"asset"`
	Balance decimal.Decimal  `json:"balance"`
}

// TxResponse is returned by deposit, withdraw and transfer
type TxResponse struct {
	Tx      ledger.TxRecord `json:"tx"`
	Balance decimal.Decimal `json:"balance"` // source balance after the operation
}

// PlaceOrderResponse is returned by POST /api/v1/orders
type PlaceOrderResponse struct {
	OrderID   orderbook.OrderID `json:"orderId"`
	Status    orderbook.Status  `json:"status"`
	Trades    []orderbook.Trade `json:"trades"`
	Resting   decimal.Decimal   `json:"resting"`
	Unmatched decimal.Decimal   `json:"unmatched"`
	// Halted is the settlement failure that stopped matching, if any
	Halted *ErrorResponse `json:"halted,omitempty"`
	// UnfundedCancelled names resting orders dropped because their owner
	// could not pay
	UnfundedCancelled []orderbook.OrderID `json:"unfundedCancelled,omitempty"`
}

// ErrorResponse is returned for all errors. Error is the taxonomy kind.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orderbook:BTC-USD", "trades:BTC-USD"]
}

// OrderbookUpdate is broadcast after every change to a book
type OrderbookUpdate struct {
	Type      string            `json:"type"` // "orderbook"
	Symbol    string            `json:"symbol"`
	Bids      []orderbook.Level `json:"bids"`
	Asks      []orderbook.Level `json:"asks"`
	Timestamp int64             `json:"timestamp"`
}

// TradeUpdate is broadcast when a trade executes
type TradeUpdate struct {
	Type      string          `json:"type"` // "trade"
	Symbol    string          `json:"symbol"`
	Seq       uint64          `json:"seq"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Side      orderbook.Side  `json:"side"` // aggressor side
	Timestamp int64           `json:"timestamp"`
}
