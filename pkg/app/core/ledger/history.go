package ledger

import (
	"fmt"
	"iter"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/errs"
)

// History returns the records touching id in ascending sequence order.
//
// The sequence is bounded to the records that existed when History was
// called and can be ranged over any number of times with the same result.
// Records are read lazily from the log, which is never rewritten.
func (l *Ledger) History(id AccountID) (iter.Seq[TxRecord], error) {
	l.mu.RLock()
	acc, ok := l.accounts[id]
	if !ok {
		l.mu.RUnlock()
		return nil, fmt.Errorf("history of %s: %w", id, errs.ErrUnknownAccount)
	}
	positions := acc.txs[:len(acc.txs):len(acc.txs)]
	log := l.log[:len(l.log):len(l.log)]
	l.mu.RUnlock()

	return func(yield func(TxRecord) bool) {
		for _, pos := range positions {
			if !yield(log[pos]) {
				return
			}
		}
	}, nil
}

// Log returns every record in the transaction log, bounded the same way as
// History.
func (l *Ledger) Log() iter.Seq[TxRecord] {
	l.mu.RLock()
	log := l.log[:len(l.log):len(l.log)]
	l.mu.RUnlock()

	return func(yield func(TxRecord) bool) {
		for _, rec := range log {
			if !yield(rec) {
				return
			}
		}
	}
}

// Balances maps account -> asset -> amount.
type Balances map[AccountID]map[string]decimal.Decimal

// Get returns the amount of asset held by id, zero when absent.
func (b Balances) Get(id AccountID, asset string) decimal.Decimal {
	return b[id][asset]
}

func (b Balances) add(id AccountID, asset string, delta decimal.Decimal) {
	m, ok := b[id]
	if !ok {
		m = make(map[string]decimal.Decimal)
		b[id] = m
	}
	m[asset] = m[asset].Add(delta)
}

// Fold rebuilds balances from a sequence of records. Deposits and
// withdrawals move funds across the External boundary; every other record
// debits From and credits To.
func Fold(records iter.Seq[TxRecord]) Balances {
	out := make(Balances)
	for rec := range records {
		if rec.From != External {
			out.add(rec.From, rec.Asset, rec.Amount.Neg())
		}
		if rec.To != External {
			out.add(rec.To, rec.Asset, rec.Amount)
		}
	}
	return out
}

// Verify folds the transaction log and compares the result with every cached
// balance. It returns the first mismatch found.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	log := l.log[:len(l.log):len(l.log)]
	cached := make(Balances, len(l.accounts))
	for id, acc := range l.accounts {
		for asset, amt := range acc.balances {
			cached.add(id, asset, amt)
		}
	}
	l.mu.RUnlock()

	folded := Fold(func(yield func(TxRecord) bool) {
		for _, rec := range log {
			if !yield(rec) {
				return
			}
		}
	})

	ids := make([]AccountID, 0, len(cached)+len(folded))
	seen := make(map[AccountID]struct{})
	for _, b := range []Balances{cached, folded} {
		for id := range b {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		assets := make(map[string]struct{})
		for asset := range cached[id] {
			assets[asset] = struct{}{}
		}
		for asset := range folded[id] {
			assets[asset] = struct{}{}
		}
		for asset := range assets {
			if want, got := folded.Get(id, asset), cached.Get(id, asset); !want.Equal(got) {
				return fmt.Errorf("account %s asset %s: cached %s, log says %s", id, asset, got, want)
			}
		}
	}
	return nil
}
