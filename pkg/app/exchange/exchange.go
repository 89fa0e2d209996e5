// Package exchange is the single entry point to the ledger and the order
// books. It validates requests before either subsystem is touched and
// settles every match in the ledger while the book is still locked.
package exchange

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/errs"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/ledger"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/market"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/fintech-exchange/pkg/util"
)

// DefaultQuoteAsset is the quote asset of symbols listed on first use.
const DefaultQuoteAsset = "USD"

// Exchange composes one ledger with one book per symbol.
//
// Lock order is book then ledger. mu guards only the books and routes maps
// and is never held while a book or the ledger is locked.
type Exchange struct {
	ledger  *ledger.Ledger
	markets *market.MarketRegistry

	mu     sync.RWMutex
	books  map[string]*orderbook.Book
	routes map[orderbook.OrderID]string // order id -> symbol

	autoListQuote       string
	selfTradePrevention bool
	preTradeCheck       bool

	clock     util.Clock
	logger    *zap.Logger
	journal   Journal
	listeners []Listener

	listing []market.Market
}

type Option func(*Exchange)

func WithLogger(lg *zap.Logger) Option {
	return func(e *Exchange) { e.logger = lg }
}

func WithClock(c util.Clock) Option {
	return func(e *Exchange) { e.clock = c }
}

// WithMarkets lists markets up front. Invalid or duplicate entries make New fail.
func WithMarkets(ms ...market.Market) Option {
	return func(e *Exchange) { e.listing = append(e.listing, ms...) }
}

// WithAutoListing lists unknown symbols on first order, with the symbol as
// base asset and quote as quote asset. An empty quote disables auto listing.
func WithAutoListing(quote string) Option {
	return func(e *Exchange) { e.autoListQuote = quote }
}

func WithSelfTradePrevention(on bool) Option {
	return func(e *Exchange) { e.selfTradePrevention = on }
}

// WithPreTradeCheck rejects orders whose account cannot cover the full order
// (quantity of base for sells, price*quantity of quote for buys) at
// submission time.
func WithPreTradeCheck(on bool) Option {
	return func(e *Exchange) { e.preTradeCheck = on }
}

func WithJournal(j Journal) Option {
	return func(e *Exchange) { e.journal = j }
}

func WithListener(l Listener) Option {
	return func(e *Exchange) { e.listeners = append(e.listeners, l) }
}

// New creates an exchange with an empty ledger.
func New(opts ...Option) (*Exchange, error) {
	e := &Exchange{
		markets:       market.NewMarketRegistry(),
		books:         make(map[string]*orderbook.Book),
		routes:        make(map[orderbook.OrderID]string),
		autoListQuote: DefaultQuoteAsset,
		clock:         util.RealClock{},
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ledger = ledger.New(ledger.WithClock(e.clock), ledger.WithLogger(e.logger))
	e.logger = e.logger.Named("exchange")

	for i := range e.listing {
		if err := e.markets.RegisterMarket(&e.listing[i]); err != nil {
			return nil, fmt.Errorf("list market: %w", err)
		}
		e.book(e.listing[i].Symbol)
	}
	e.listing = nil
	return e, nil
}

// Ledger exposes the underlying ledger for read-only inspection.
func (e *Exchange) Ledger() *ledger.Ledger { return e.ledger }

// Markets returns every listed market sorted by symbol.
func (e *Exchange) Markets() []market.Market { return e.markets.ListMarkets() }

// ListMarket registers a market at runtime.
func (e *Exchange) ListMarket(m market.Market) error {
	if err := e.markets.RegisterMarket(&m); err != nil {
		return err
	}
	e.book(m.Symbol)
	e.logger.Info("market_listed", zap.String("symbol", m.Symbol),
		zap.String("base", m.BaseAsset), zap.String("quote", m.QuoteAsset))
	return nil
}

// PauseMarket stops new orders on symbol; cancels are still accepted.
func (e *Exchange) PauseMarket(symbol string) error {
	return e.markets.UpdateMarketStatus(symbol, market.Paused)
}

func (e *Exchange) ResumeMarket(symbol string) error {
	return e.markets.UpdateMarketStatus(symbol, market.Active)
}

// ============================================================================
// Accounts
// ============================================================================

func (e *Exchange) CreateAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, err
	}
	id = normalizeID(id)
	acc, err := e.ledger.CreateAccount(id)
	if err != nil {
		return ledger.Account{}, err
	}
	e.logger.Info("account_created", zap.String("account", string(id)))
	return acc, nil
}

func (e *Exchange) Deposit(ctx context.Context, id ledger.AccountID, asset string, amount decimal.Decimal) (ledger.TxRecord, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxRecord{}, err
	}
	rec, err := e.ledger.Deposit(normalizeID(id), asset, amount)
	if err != nil {
		return ledger.TxRecord{}, err
	}
	e.record(rec)
	return rec, nil
}

func (e *Exchange) Withdraw(ctx context.Context, id ledger.AccountID, asset string, amount decimal.Decimal) (ledger.TxRecord, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxRecord{}, err
	}
	rec, err := e.ledger.Withdraw(normalizeID(id), asset, amount)
	if err != nil {
		return ledger.TxRecord{}, err
	}
	e.record(rec)
	return rec, nil
}

func (e *Exchange) Transfer(ctx context.Context, from, to ledger.AccountID, asset string, amount decimal.Decimal) (ledger.TxRecord, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxRecord{}, err
	}
	rec, err := e.ledger.Transfer(normalizeID(from), normalizeID(to), asset, amount)
	if err != nil {
		return ledger.TxRecord{}, err
	}
	e.record(rec)
	return rec, nil
}

func (e *Exchange) Balance(id ledger.AccountID, asset string) (decimal.Decimal, error) {
	return e.ledger.Balance(normalizeID(id), asset)
}

func (e *Exchange) Account(id ledger.AccountID) (ledger.Account, error) {
	return e.ledger.Account(normalizeID(id))
}

func (e *Exchange) Accounts() []ledger.Account { return e.ledger.Accounts() }

func (e *Exchange) History(id ledger.AccountID) (iter.Seq[ledger.TxRecord], error) {
	return e.ledger.History(normalizeID(id))
}

// Transactions iterates over the whole transaction log.
func (e *Exchange) Transactions() iter.Seq[ledger.TxRecord] { return e.ledger.Log() }

// ============================================================================
// Orders
// ============================================================================

// PlaceOrder validates req, matches it and settles every trade in the ledger.
//
// Validation failures (ErrUnknownAccount, ErrInvalidOrder, and
// ErrInsufficientFunds when the pre-trade check is on) leave both the book
// and the ledger untouched. Once matching starts the call succeeds. A resting
// order whose owner cannot pay is cancelled and matching continues; any other
// settlement failure stops matching and is reported on the result.
func (e *Exchange) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	if err := ctx.Err(); err != nil {
		return PlaceOrderResult{}, err
	}
	req.Account = normalizeID(req.Account)
	req.Symbol = strings.TrimSpace(req.Symbol)

	mkt, err := e.validate(req)
	if err != nil {
		e.logger.Debug("order_rejected", zap.String("account", string(req.Account)),
			zap.String("symbol", req.Symbol), zap.String("kind", errs.Kind(err)), zap.Error(err))
		return PlaceOrderResult{}, err
	}

	book := e.book(mkt.Symbol)

	var settled []ledger.TxRecord
	settle := func(t orderbook.Trade) error {
		recs, err := e.ledger.Settle(ledger.Settlement{
			Symbol:     t.Symbol,
			TradeSeq:   t.Seq,
			Buyer:      t.Buyer,
			Seller:     t.Seller,
			BaseAsset:  mkt.BaseAsset,
			QuoteAsset: mkt.QuoteAsset,
			Price:      t.Price,
			Quantity:   t.Quantity,
		})
		if err != nil {
			return err
		}
		settled = append(settled, recs...)
		return nil
	}

	sub, err := book.Submit(orderbook.Order{
		ID:       orderbook.NewOrderID(),
		Account:  req.Account,
		Side:     req.Side,
		Symbol:   mkt.Symbol,
		Price:    req.Price,
		Quantity: req.Quantity,
	}, settle)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	e.mu.Lock()
	e.routes[sub.Order.ID] = mkt.Symbol
	e.mu.Unlock()

	res := PlaceOrderResult{
		OrderID:            sub.Order.ID,
		Order:              sub.Order,
		Trades:             sub.Trades,
		Resting:            decimal.Zero,
		Unmatched:          decimal.Zero,
		Halt:               sub.Halt,
		SelfTradeCancelled: sub.Cancelled,
		UnfundedCancelled:  sub.Unfunded,
	}
	if sub.Order.Status == orderbook.Cancelled {
		res.Unmatched = sub.Order.Remaining
	} else {
		res.Resting = sub.Order.Remaining
	}

	e.afterSubmit(book, res, settled)
	return res, nil
}

// validate checks everything that can be checked without the book lock.
func (e *Exchange) validate(req PlaceOrderRequest) (market.Market, error) {
	if !req.Account.Valid() {
		return market.Market{}, fmt.Errorf("place order: %w", errs.ErrInvalidAccountID)
	}
	if !e.ledger.Exists(req.Account) {
		return market.Market{}, fmt.Errorf("place order for %s: %w", req.Account, errs.ErrUnknownAccount)
	}
	if !req.Side.Valid() {
		return market.Market{}, fmt.Errorf("place order: side %d: %w", req.Side, errs.ErrInvalidOrder)
	}
	if req.Symbol == "" {
		return market.Market{}, fmt.Errorf("place order: empty symbol: %w", errs.ErrInvalidOrder)
	}

	mkt, listed, err := e.resolveMarket(req.Symbol)
	if err != nil {
		return market.Market{}, err
	}
	if err := mkt.ValidateOrder(req.Price, req.Quantity); err != nil {
		return market.Market{}, fmt.Errorf("place order: %w", err)
	}

	if e.preTradeCheck {
		asset, need := mkt.BaseAsset, req.Quantity
		if req.Side == orderbook.Buy {
			asset, need = mkt.QuoteAsset, req.Price.Mul(req.Quantity)
		}
		have, err := e.ledger.Balance(req.Account, asset)
		if err != nil {
			return market.Market{}, err
		}
		if have.LessThan(need) {
			return market.Market{}, fmt.Errorf("place order for %s: %w: have %s %s, need %s",
				req.Account, errs.ErrInsufficientFunds, have, asset, need)
		}
	}

	if listed {
		return mkt, nil
	}
	// Only an order that passed every check lists its symbol. A concurrent
	// listing may have won with other parameters, so check again.
	mkt, err = e.markets.GetOrList(req.Symbol, e.autoListQuote)
	if err != nil {
		return market.Market{}, fmt.Errorf("place order: list %s: %v: %w", req.Symbol, err, errs.ErrInvalidOrder)
	}
	if err := mkt.ValidateOrder(req.Price, req.Quantity); err != nil {
		return market.Market{}, fmt.Errorf("place order: %w", err)
	}
	e.logger.Info("market_listed", zap.String("symbol", mkt.Symbol),
		zap.String("base", mkt.BaseAsset), zap.String("quote", mkt.QuoteAsset))
	return mkt, nil
}

// resolveMarket returns the listed market for symbol, or the market an
// order would auto-list without registering it. listed reports which.
func (e *Exchange) resolveMarket(symbol string) (mkt market.Market, listed bool, err error) {
	if m, err := e.markets.GetMarket(symbol); err == nil {
		return m, true, nil
	}
	if e.autoListQuote == "" {
		return market.Market{}, false, fmt.Errorf("place order: market %s not listed: %w", symbol, errs.ErrInvalidOrder)
	}
	m, err := market.NewMarket(symbol, symbol, e.autoListQuote)
	if err != nil {
		return market.Market{}, false, fmt.Errorf("place order: list %s: %v: %w", symbol, err, errs.ErrInvalidOrder)
	}
	return *m, false, nil
}

// book returns the book for symbol, creating it on first use.
func (e *Exchange) book(symbol string) *orderbook.Book {
	e.mu.RLock()
	b, ok := e.books[symbol]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.books[symbol]; ok {
		return b
	}
	b = orderbook.New(symbol,
		orderbook.WithClock(e.clock),
		orderbook.WithSelfTradePrevention(e.selfTradePrevention),
	)
	e.books[symbol] = b
	return b
}

func (e *Exchange) lookupBook(symbol string) (*orderbook.Book, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[symbol]
	return b, ok
}

func (e *Exchange) afterSubmit(book *orderbook.Book, res PlaceOrderResult, settled []ledger.TxRecord) {
	o := res.Order
	e.logger.Info("order_placed",
		zap.String("order", string(o.ID)),
		zap.String("account", string(o.Account)),
		zap.String("symbol", o.Symbol),
		zap.Stringer("side", o.Side),
		zap.String("price", o.Price.String()),
		zap.String("qty", o.Quantity.String()),
		zap.Int("trades", len(res.Trades)),
		zap.Stringer("status", o.Status),
	)
	for _, t := range res.Trades {
		e.logger.Debug("trade",
			zap.String("symbol", t.Symbol),
			zap.Uint64("seq", t.Seq),
			zap.String("buyer", string(t.Buyer)),
			zap.String("seller", string(t.Seller)),
			zap.String("price", t.Price.String()),
			zap.String("qty", t.Quantity.String()),
		)
	}
	for _, c := range res.SelfTradeCancelled {
		e.logger.Info("self_trade_cancelled", zap.String("order", string(c.ID)), zap.String("account", string(c.Account)))
	}
	for _, c := range res.UnfundedCancelled {
		e.logger.Warn("unfunded_order_cancelled",
			zap.String("order", string(c.ID)),
			zap.String("account", string(c.Account)),
			zap.String("remaining", c.Remaining.String()),
		)
	}
	if res.Halt != nil {
		e.logger.Warn("settlement_halted",
			zap.String("order", string(o.ID)),
			zap.String("unmatched", res.Unmatched.String()),
			zap.String("kind", errs.Kind(res.Halt)),
			zap.Error(res.Halt),
		)
	}

	e.record(settled...)
	if e.journal != nil && len(res.Trades) > 0 {
		if err := e.journal.AppendTrades(res.Trades); err != nil {
			e.logger.Error("journal_trades_failed", zap.String("symbol", o.Symbol), zap.Error(err))
		}
	}
	e.publish(book, res.Trades)
}

// CancelOrder removes a resting order from its book.
func (e *Exchange) CancelOrder(ctx context.Context, id orderbook.OrderID) (orderbook.Order, error) {
	if err := ctx.Err(); err != nil {
		return orderbook.Order{}, err
	}
	e.mu.RLock()
	symbol, ok := e.routes[id]
	e.mu.RUnlock()
	if !ok {
		return orderbook.Order{}, fmt.Errorf("cancel %s: %w", id, errs.ErrOrderNotFound)
	}
	book, ok := e.lookupBook(symbol)
	if !ok {
		return orderbook.Order{}, fmt.Errorf("cancel %s: %w", id, errs.ErrOrderNotFound)
	}

	o, err := book.Cancel(id)
	if err != nil {
		return orderbook.Order{}, err
	}
	e.logger.Info("order_cancelled", zap.String("order", string(id)),
		zap.String("symbol", symbol), zap.String("remaining", o.Remaining.String()))
	e.publish(book, nil)
	return o, nil
}

// Order returns the current state of any order placed on this exchange.
func (e *Exchange) Order(id orderbook.OrderID) (orderbook.Order, error) {
	e.mu.RLock()
	symbol, ok := e.routes[id]
	e.mu.RUnlock()
	if ok {
		if book, ok := e.lookupBook(symbol); ok {
			if o, ok := book.Order(id); ok {
				return o, nil
			}
		}
	}
	return orderbook.Order{}, fmt.Errorf("order %s: %w", id, errs.ErrOrderNotFound)
}

// OrderBookView aggregates both sides of symbol by price level. An unknown
// symbol yields an empty view.
func (e *Exchange) OrderBookView(symbol string) orderbook.Snapshot {
	return e.Depth(symbol, 0)
}

// Depth is OrderBookView limited to n levels per side.
func (e *Exchange) Depth(symbol string, n int) orderbook.Snapshot {
	book, ok := e.lookupBook(symbol)
	if !ok {
		return orderbook.Snapshot{Symbol: symbol, Bids: []orderbook.Level{}, Asks: []orderbook.Level{}}
	}
	return book.Depth(n)
}

// OpenOrders lists the resting orders of symbol in creation order, or of
// every symbol when symbol is empty.
func (e *Exchange) OpenOrders(symbol string) []orderbook.Order {
	if symbol != "" {
		book, ok := e.lookupBook(symbol)
		if !ok {
			return nil
		}
		return book.OpenOrders()
	}

	e.mu.RLock()
	books := make([]*orderbook.Book, 0, len(e.books))
	for _, b := range e.books {
		books = append(books, b)
	}
	e.mu.RUnlock()
	sort.Slice(books, func(i, j int) bool { return books[i].Symbol() < books[j].Symbol() })

	var out []orderbook.Order
	for _, b := range books {
		out = append(out, b.OpenOrders()...)
	}
	return out
}

// ============================================================================
// Side effects, run with no lock held
// ============================================================================

func (e *Exchange) record(recs ...ledger.TxRecord) {
	if e.journal == nil || len(recs) == 0 {
		return
	}
	if err := e.journal.AppendTransactions(recs); err != nil {
		e.logger.Error("journal_tx_failed", zap.Uint64("first_seq", recs[0].Seq),
			zap.Int("count", len(recs)), zap.Error(err))
	}
}

func (e *Exchange) publish(book *orderbook.Book, trades []orderbook.Trade) {
	if len(e.listeners) == 0 {
		return
	}
	snap := book.Snapshot()
	for _, l := range e.listeners {
		if len(trades) > 0 {
			l.OnTrades(book.Symbol(), trades)
		}
		l.OnBook(snap)
	}
}

func normalizeID(id ledger.AccountID) ledger.AccountID {
	return ledger.AccountID(strings.TrimSpace(string(id)))
}
