package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/errs"
	"github.com/uhyunpark/fintech-exchange/pkg/util"
)

// Ledger owns every account and the append-only transaction log.
// Balances are cached on the accounts and updated under the same lock as the
// log append, so a reader never sees one without the other.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[AccountID]*account
	log      []TxRecord

	clock  util.Clock
	logger *zap.Logger
}

type account struct {
	id        AccountID
	balances  map[string]decimal.Decimal
	txs       []int // positions in Ledger.log, ascending
	createdAt time.Time
}

func (a *account) snapshot() Account {
	balances := make(map[string]decimal.Decimal, len(a.balances))
	for asset, amt := range a.balances {
		balances[asset] = amt
	}
	return Account{ID: a.id, Balances: balances, CreatedAt: a.createdAt}
}

type Option func(*Ledger)

func WithClock(c util.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithLogger(lg *zap.Logger) Option {
	return func(l *Ledger) { l.logger = lg.Named("ledger") }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		accounts: make(map[AccountID]*account),
		clock:    util.RealClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateAccount registers an account with no balances.
// Returns ErrDuplicateAccount if the id is taken.
func (l *Ledger) CreateAccount(id AccountID) (Account, error) {
	if !id.Valid() {
		return Account{}, fmt.Errorf("create account %q: %w", id, errs.ErrInvalidAccountID)
	}

	l.mu.Lock()
	if _, exists := l.accounts[id]; exists {
		l.mu.Unlock()
		return Account{}, fmt.Errorf("create account %s: %w", id, errs.ErrDuplicateAccount)
	}
	acc := l.newAccountLocked(id)
	snap := acc.snapshot()
	l.mu.Unlock()

	l.logger.Debug("account_created", zap.String("account", string(id)))
	return snap, nil
}

// newAccountLocked assumes the write lock is held.
func (l *Ledger) newAccountLocked(id AccountID) *account {
	acc := &account{
		id:        id,
		balances:  make(map[string]decimal.Decimal),
		createdAt: l.clock.Now(),
	}
	l.accounts[id] = acc
	return acc
}

// Exists reports whether id has been created.
func (l *Ledger) Exists(id AccountID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.accounts[id]
	return ok
}

// Deposit credits amount of asset from outside the system.
// Creates the account on first deposit.
func (l *Ledger) Deposit(id AccountID, asset string, amount decimal.Decimal) (TxRecord, error) {
	if !id.Valid() {
		return TxRecord{}, fmt.Errorf("deposit to %q: %w", id, errs.ErrInvalidAccountID)
	}
	if err := checkAmount(asset, amount); err != nil {
		return TxRecord{}, fmt.Errorf("deposit to %s: %w", id, err)
	}

	l.mu.Lock()
	acc, ok := l.accounts[id]
	if !ok {
		acc = l.newAccountLocked(id)
	}
	acc.balances[asset] = acc.balances[asset].Add(amount)
	rec := l.appendLocked(TxRecord{To: id, Asset: asset, Amount: amount, Reason: Deposit})
	l.mu.Unlock()

	l.logger.Debug("deposit", zap.Uint64("seq", rec.Seq), zap.String("account", string(id)),
		zap.String("asset", asset), zap.String("amount", amount.String()))
	return rec, nil
}

// Withdraw debits amount of asset to outside the system.
// Returns ErrInsufficientFunds and leaves the balance untouched if the result
// would be negative.
func (l *Ledger) Withdraw(id AccountID, asset string, amount decimal.Decimal) (TxRecord, error) {
	if err := checkAmount(asset, amount); err != nil {
		return TxRecord{}, fmt.Errorf("withdraw from %s: %w", id, err)
	}

	l.mu.Lock()
	acc, ok := l.accounts[id]
	if !ok {
		l.mu.Unlock()
		return TxRecord{}, fmt.Errorf("withdraw from %s: %w", id, errs.ErrUnknownAccount)
	}
	if err := acc.covers(asset, amount); err != nil {
		l.mu.Unlock()
		return TxRecord{}, fmt.Errorf("withdraw from %s: %w", id, err)
	}
	acc.balances[asset] = acc.balances[asset].Sub(amount)
	rec := l.appendLocked(TxRecord{From: id, Asset: asset, Amount: amount, Reason: Withdrawal})
	l.mu.Unlock()

	l.logger.Debug("withdraw", zap.Uint64("seq", rec.Seq), zap.String("account", string(id)),
		zap.String("asset", asset), zap.String("amount", amount.String()))
	return rec, nil
}

// Transfer moves amount of asset between two existing accounts as one
// record. Either both balances change or neither does.
func (l *Ledger) Transfer(from, to AccountID, asset string, amount decimal.Decimal) (TxRecord, error) {
	if err := checkAmount(asset, amount); err != nil {
		return TxRecord{}, fmt.Errorf("transfer %s -> %s: %w", from, to, err)
	}

	l.mu.Lock()
	src, dst, err := l.pairLocked(from, to)
	if err == nil {
		err = src.covers(asset, amount)
	}
	if err != nil {
		l.mu.Unlock()
		return TxRecord{}, fmt.Errorf("transfer %s -> %s: %w", from, to, err)
	}
	src.balances[asset] = src.balances[asset].Sub(amount)
	dst.balances[asset] = dst.balances[asset].Add(amount)
	rec := l.appendLocked(TxRecord{From: from, To: to, Asset: asset, Amount: amount, Reason: Transfer})
	l.mu.Unlock()

	l.logger.Debug("transfer", zap.Uint64("seq", rec.Seq), zap.String("from", string(from)),
		zap.String("to", string(to)), zap.String("asset", asset), zap.String("amount", amount.String()))
	return rec, nil
}

// Settle applies both legs of a trade under one lock acquisition and appends
// one record per leg. Both legs are checked before either is applied.
func (l *Ledger) Settle(s Settlement) ([]TxRecord, error) {
	notional := s.Notional()
	if err := checkAmount(s.BaseAsset, s.Quantity); err != nil {
		return nil, fmt.Errorf("settle trade %d: %w", s.TradeSeq, err)
	}
	if err := checkAmount(s.QuoteAsset, notional); err != nil {
		return nil, fmt.Errorf("settle trade %d: %w", s.TradeSeq, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seller, buyer, err := l.pairLocked(s.Seller, s.Buyer)
	if err != nil {
		return nil, fmt.Errorf("settle trade %d: %w", s.TradeSeq, err)
	}
	if err := seller.covers(s.BaseAsset, s.Quantity); err != nil {
		return nil, fmt.Errorf("settle trade %d: seller %s: %w", s.TradeSeq, s.Seller, err)
	}
	if err := buyer.covers(s.QuoteAsset, notional); err != nil {
		return nil, fmt.Errorf("settle trade %d: buyer %s: %w", s.TradeSeq, s.Buyer, err)
	}

	seller.balances[s.BaseAsset] = seller.balances[s.BaseAsset].Sub(s.Quantity)
	buyer.balances[s.BaseAsset] = buyer.balances[s.BaseAsset].Add(s.Quantity)
	buyer.balances[s.QuoteAsset] = buyer.balances[s.QuoteAsset].Sub(notional)
	seller.balances[s.QuoteAsset] = seller.balances[s.QuoteAsset].Add(notional)

	base := l.appendLocked(TxRecord{
		From: s.Seller, To: s.Buyer, Asset: s.BaseAsset, Amount: s.Quantity,
		Reason: TradeSettlement, Symbol: s.Symbol, TradeSeq: s.TradeSeq,
	})
	quote := l.appendLocked(TxRecord{
		From: s.Buyer, To: s.Seller, Asset: s.QuoteAsset, Amount: notional,
		Reason: TradeSettlement, Symbol: s.Symbol, TradeSeq: s.TradeSeq,
	})
	return []TxRecord{base, quote}, nil
}

// Balance returns the cached balance of asset for id.
func (l *Ledger) Balance(id AccountID, asset string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acc, ok := l.accounts[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("balance of %s: %w", id, errs.ErrUnknownAccount)
	}
	return acc.balances[asset], nil
}

// Account returns a copy of the account's balances.
func (l *Ledger) Account(id AccountID) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acc, ok := l.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("account %s: %w", id, errs.ErrUnknownAccount)
	}
	return acc.snapshot(), nil
}

// Accounts returns every account, sorted by id.
func (l *Ledger) Accounts() []Account {
	l.mu.RLock()
	out := make([]Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, acc.snapshot())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TotalSupply sums the cached balances of asset across all accounts.
func (l *Ledger) TotalSupply(asset string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, acc := range l.accounts {
		total = total.Add(acc.balances[asset])
	}
	return total
}

// Len returns the number of records in the transaction log.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.log)
}

// appendLocked assigns the next sequence number and timestamp and indexes
// the record under both accounts it touches. Assumes the write lock is held.
func (l *Ledger) appendLocked(rec TxRecord) TxRecord {
	rec.Seq = uint64(len(l.log)) + 1
	rec.Timestamp = l.clock.Now()
	l.log = append(l.log, rec)

	pos := len(l.log) - 1
	if rec.From != External {
		if acc, ok := l.accounts[rec.From]; ok {
			acc.txs = append(acc.txs, pos)
		}
	}
	if rec.To != External && rec.To != rec.From {
		if acc, ok := l.accounts[rec.To]; ok {
			acc.txs = append(acc.txs, pos)
		}
	}
	return rec
}

// pairLocked resolves two existing accounts. Assumes the lock is held.
func (l *Ledger) pairLocked(a, b AccountID) (*account, *account, error) {
	accA, ok := l.accounts[a]
	if !ok {
		return nil, nil, fmt.Errorf("account %s: %w", a, errs.ErrUnknownAccount)
	}
	accB, ok := l.accounts[b]
	if !ok {
		return nil, nil, fmt.Errorf("account %s: %w", b, errs.ErrUnknownAccount)
	}
	return accA, accB, nil
}

func (a *account) covers(asset string, amount decimal.Decimal) error {
	have := a.balances[asset]
	if have.LessThan(amount) {
		return &FundsError{Account: a.id, Asset: asset, Have: have, Need: amount}
	}
	return nil
}

func checkAmount(asset string, amount decimal.Decimal) error {
	if asset == "" {
		return fmt.Errorf("empty asset: %w", errs.ErrInvalidAmount)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount %s must be positive: %w", amount, errs.ErrInvalidAmount)
	}
	return nil
}
