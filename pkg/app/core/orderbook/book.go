package orderbook

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/errs"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/ledger"
	"github.com/uhyunpark/fintech-exchange/pkg/util"
)

// Book holds the open orders of one symbol and matches incoming orders
// against them under price-time priority.
//
// All methods serialize on a single mutex: two submissions for the same
// symbol never interleave, and creation sequence numbers are assigned under
// that lock so they agree with queue order. Nothing under the lock does I/O;
// callers log from the returned results.
type Book struct {
	mu     sync.Mutex
	symbol string

	bids *bookSide
	asks *bookSide

	orders   map[OrderID]*Order // every order ever submitted, terminal ones included
	orderSeq uint64
	tradeSeq uint64

	selfTradePrevention bool
	clock               util.Clock
}

type Option func(*Book)

func WithClock(c util.Clock) Option {
	return func(b *Book) { b.clock = c }
}

// WithSelfTradePrevention makes an incoming order cancel, rather than trade
// with, resting orders from its own account.
func WithSelfTradePrevention(on bool) Option {
	return func(b *Book) { b.selfTradePrevention = on }
}

func New(symbol string, opts ...Option) *Book {
	b := &Book{
		symbol: symbol,
		bids:   newBookSide(Buy),
		asks:   newBookSide(Sell),
		orders: make(map[OrderID]*Order),
		clock:  util.RealClock{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Book) Symbol() string { return b.symbol }

func (b *Book) side(s Side) *bookSide {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// Submit validates o, matches it against the opposite side and rests any
// unfilled remainder.
//
// Only Account, Side, Price and Quantity are read from o; an empty ID is
// replaced with a fresh one. settle may be nil, in which case trades are not
// settled anywhere.
func (b *Book) Submit(o Order, settle SettleFunc) (SubmitResult, error) {
	if err := b.validate(o); err != nil {
		return SubmitResult{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if o.ID == "" {
		o.ID = NewOrderID()
	}
	if _, dup := b.orders[o.ID]; dup {
		return SubmitResult{}, fmt.Errorf("order %s already submitted: %w", o.ID, errs.ErrInvalidOrder)
	}

	now := b.clock.Now()
	b.orderSeq++
	incoming := &Order{
		ID:        o.ID,
		Account:   o.Account,
		Side:      o.Side,
		Symbol:    b.symbol,
		Price:     o.Price,
		Quantity:  o.Quantity,
		Remaining: o.Quantity,
		Seq:       b.orderSeq,
		Status:    Open,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.orders[incoming.ID] = incoming

	res := b.match(incoming, settle)

	switch {
	case res.Halt != nil && incoming.Remaining.IsPositive():
		incoming.setStatus(Cancelled, b.clock.Now())
	case incoming.Remaining.IsPositive():
		b.side(incoming.Side).insert(incoming)
	}

	res.Order = *incoming
	return res, nil
}

func (b *Book) validate(o Order) error {
	if !o.Side.Valid() {
		return fmt.Errorf("side %d: %w", o.Side, errs.ErrInvalidOrder)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("price %s must be positive: %w", o.Price, errs.ErrInvalidOrder)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("quantity %s must be positive: %w", o.Quantity, errs.ErrInvalidOrder)
	}
	if o.Symbol != "" && o.Symbol != b.symbol {
		return fmt.Errorf("order for %s submitted to %s book: %w", o.Symbol, b.symbol, errs.ErrInvalidOrder)
	}
	return nil
}

// match runs the price-time loop for either side. The fill is applied to the
// book only after settle accepted the trade. Assumes b.mu is held.
func (b *Book) match(taker *Order, settle SettleFunc) SubmitResult {
	var res SubmitResult
	resting := b.side(taker.Side.Opposite())

	for taker.Remaining.IsPositive() {
		lvl, ok := resting.best()
		if !ok || !resting.crossedBy(taker.Price, lvl.price) {
			break
		}
		maker := lvl.orders[0]

		if b.selfTradePrevention && maker.Account == taker.Account {
			resting.popFront(lvl)
			maker.setStatus(Cancelled, b.clock.Now())
			res.Cancelled = append(res.Cancelled, *maker)
			continue
		}

		qty := decimal.Min(taker.Remaining, maker.Remaining)
		trade := Trade{
			Seq:       b.tradeSeq + 1,
			Symbol:    b.symbol,
			Price:     maker.Price,
			Quantity:  qty,
			Aggressor: taker.Side,
			Timestamp: b.clock.Now(),
		}
		if taker.Side == Buy {
			trade.BuyOrderID, trade.Buyer = taker.ID, taker.Account
			trade.SellOrderID, trade.Seller = maker.ID, maker.Account
		} else {
			trade.BuyOrderID, trade.Buyer = maker.ID, maker.Account
			trade.SellOrderID, trade.Seller = taker.ID, taker.Account
		}

		if settle != nil {
			if err := settle(trade); err != nil {
				if unfunded(err, maker, taker) {
					resting.popFront(lvl)
					maker.setStatus(Cancelled, b.clock.Now())
					res.Unfunded = append(res.Unfunded, *maker)
					continue
				}
				res.Halt = err
				break
			}
		}
		b.tradeSeq = trade.Seq

		taker.Remaining = taker.Remaining.Sub(qty)
		maker.Remaining = maker.Remaining.Sub(qty)
		lvl.total = lvl.total.Sub(qty)

		if maker.Remaining.IsZero() {
			resting.popFront(lvl)
			maker.setStatus(Filled, trade.Timestamp)
		} else {
			maker.setStatus(PartiallyFilled, trade.Timestamp)
		}
		if taker.Remaining.IsZero() {
			taker.setStatus(Filled, trade.Timestamp)
		} else {
			taker.setStatus(PartiallyFilled, trade.Timestamp)
		}

		res.Trades = append(res.Trades, trade)
	}
	return res
}

// unfunded reports whether err blames the resting side alone.
func unfunded(err error, maker, taker *Order) bool {
	var fe *ledger.FundsError
	return errors.As(err, &fe) && fe.Account == maker.Account && maker.Account != taker.Account
}

// Cancel removes a resting order. Unknown ids fail with ErrOrderNotFound,
// filled or cancelled orders with ErrOrderNotOpen.
func (b *Book) Cancel(id OrderID) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("cancel %s: %w", id, errs.ErrOrderNotFound)
	}
	if o.Status.Terminal() {
		return Order{}, fmt.Errorf("cancel %s (%s): %w", id, o.Status, errs.ErrOrderNotOpen)
	}

	b.side(o.Side).remove(o)
	o.setStatus(Cancelled, b.clock.Now())
	return *o, nil
}

// Order returns a copy of any order this book has seen.
func (b *Book) Order(id OrderID) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// OpenOrders returns the resting orders of both sides in creation order.
func (b *Book) OpenOrders() []Order {
	b.mu.Lock()
	var out []Order
	for _, s := range []*bookSide{b.bids, b.asks} {
		s.levels.Ascend(func(lvl *level) bool {
			for _, o := range lvl.orders {
				out = append(out, *o)
			}
			return true
		})
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Snapshot aggregates both sides by price level, best price first.
func (b *Book) Snapshot() Snapshot {
	return b.Depth(0)
}

// Depth is Snapshot limited to the best n levels per side; n <= 0 means all.
func (b *Book) Depth(n int) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Symbol: b.symbol,
		Bids:   b.bids.aggregate(n),
		Asks:   b.asks.aggregate(n),
	}
}

// BestBid returns the highest resting buy price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bids.bestPrice()
}

// BestAsk returns the lowest resting sell price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.asks.bestPrice()
}

// Crossed reports whether the best bid is at or above the best ask, which
// would mean a match was missed.
func (b *Book) Crossed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bid, okBid := b.bids.bestPrice()
	ask, okAsk := b.asks.bestPrice()
	return okBid && okAsk && bid.GreaterThanOrEqual(ask)
}
