package orderbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/ledger"
)

type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the side an order of side s trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	side, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// ParseSide accepts buy/sell and the bid/ask aliases, case-insensitively.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy", "bid":
		return Buy, nil
	case "sell", "ask":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", v)
	}
}

// Status is the lifecycle state of an order.
type Status uint8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{Open, PartiallyFilled, Filled, Cancelled} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == Filled || s == Cancelled }

// CanTransition reports whether an order may move from s to next.
//
//	Open -> PartiallyFilled | Filled | Cancelled
//	PartiallyFilled -> PartiallyFilled | Filled | Cancelled
func (s Status) CanTransition(next Status) bool {
	switch s {
	case Open:
		return next == PartiallyFilled || next == Filled || next == Cancelled
	case PartiallyFilled:
		return next == PartiallyFilled || next == Filled || next == Cancelled
	default:
		return false
	}
}

type OrderID string

// NewOrderID returns a random identifier.
func NewOrderID() OrderID { return OrderID(uuid.NewString()) }

// Order is a limit order. Price and Quantity never change after submission;
// Remaining shrinks on every fill.
type Order struct {
	ID        OrderID          `json:"id"`
	Account   ledger.AccountID `json:"account"`
	Side      Side             `json:"side"`
	Symbol    string           `json:"symbol"`
	Price     decimal.Decimal  `json:"price"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Remaining decimal.Decimal  `json:"remaining"`
	Seq       uint64           `json:"seq"`
	Status    Status           `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Filled returns the quantity executed so far.
func (o *Order) Filled() decimal.Decimal {
	return o.Quantity.Sub(o.Remaining)
}

func (o *Order) setStatus(next Status, at time.Time) {
	if o.Status == next {
		o.UpdatedAt = at
		return
	}
	if !o.Status.CanTransition(next) {
		panic(fmt.Sprintf("order %s: illegal transition %s -> %s", o.ID, o.Status, next))
	}
	o.Status = next
	o.UpdatedAt = at
}

// Trade is the immutable result of one match. Price is always the resting
// order's price.
type Trade struct {
	Seq         uint64           `json:"seq"`
	Symbol      string           `json:"symbol"`
	BuyOrderID  OrderID          `json:"buyOrderId"`
	SellOrderID OrderID          `json:"sellOrderId"`
	Buyer       ledger.AccountID `json:"buyer"`
	Seller      ledger.AccountID `json:"seller"`
	Price       decimal.Decimal  `json:"price"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Aggressor   Side             `json:"aggressor"`
	Timestamp   time.Time        `json:"timestamp"`
}

// MakerID returns the id of the order that was resting.
func (t Trade) MakerID() OrderID {
	if t.Aggressor == Buy {
		return t.SellOrderID
	}
	return t.BuyOrderID
}

// TakerID returns the id of the incoming order.
func (t Trade) TakerID() OrderID {
	if t.Aggressor == Buy {
		return t.BuyOrderID
	}
	return t.SellOrderID
}

// Notional is Price*Quantity in the quote asset.
func (t Trade) Notional() decimal.Decimal { return t.Price.Mul(t.Quantity) }

// Level aggregates the resting quantity at one price.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Snapshot is a read-only view of a book. Both sides are best price first.
type Snapshot struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

// SettleFunc realizes a trade in the ledger. It is called once per match,
// before the book applies the fill. A *ledger.FundsError naming the resting
// order's account cancels that order and matching goes on; any other error
// stops matching.
type SettleFunc func(Trade) error

// SubmitResult describes what a submission did.
type SubmitResult struct {
	// Order is the incoming order's state after matching.
	Order  Order
	Trades []Trade
	// Halt is the settlement error that stopped matching early, if any.
	// Trades settled before it stand; the unfilled remainder was cancelled.
	Halt error
	// Cancelled lists resting orders removed by self-trade prevention.
	Cancelled []Order
	// Unfunded lists resting orders removed because their owner could no
	// longer cover the trade.
	Unfunded []Order
}
