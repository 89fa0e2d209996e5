package exchange

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/ledger"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/orderbook"
)

// PlaceOrderRequest is a limit order as submitted by a caller.
type PlaceOrderRequest struct {
	Account  ledger.AccountID `json:"account"`
	Side     orderbook.Side   `json:"side"`
	Symbol   string           `json:"symbol"`
	Price    decimal.Decimal  `json:"price"`
	Quantity decimal.Decimal  `json:"quantity"`
}

// PlaceOrderResult reports what one submission did.
//
// Settlement failures are not returned as errors: trades settled before the
// failure stand, Halt carries the failure and Unmatched the quantity that was
// neither traded nor left resting.
type PlaceOrderResult struct {
	OrderID orderbook.OrderID `json:"orderId"`
	Order   orderbook.Order   `json:"order"`
	Trades  []orderbook.Trade `json:"trades"`

	// Resting is the quantity left in the book.
	Resting   decimal.Decimal `json:"resting"`
	Unmatched decimal.Decimal `json:"unmatched"`
	Halt      error           `json:"-"`

	// SelfTradeCancelled lists own resting orders cancelled instead of matched.
	SelfTradeCancelled []orderbook.Order `json:"selfTradeCancelled,omitempty"`
	// UnfundedCancelled lists resting orders cancelled because their owner
	// could no longer pay for the fill.
	UnfundedCancelled []orderbook.Order `json:"unfundedCancelled,omitempty"`
}

// Filled returns the executed quantity.
func (r PlaceOrderResult) Filled() decimal.Decimal {
	return r.Order.Filled()
}

// Journal archives committed records. Implementations may do disk I/O; the
// exchange calls them only with every lock released.
type Journal interface {
	AppendTransactions([]ledger.TxRecord) error
	AppendTrades([]orderbook.Trade) error
}

// Listener receives market data after each change to a book.
type Listener interface {
	OnTrades(symbol string, trades []orderbook.Trade)
	OnBook(snap orderbook.Snapshot)
}
