package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/ledger"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/orderbook"
)

// Journal is an append-only audit archive of transaction records and trades.
// It is written after the in-memory ledger and books have committed and is
// never replayed into them.
type Journal struct {
	db *pebble.DB
}

func OpenJournal(path string) (*Journal, error) {
	opts := &pebble.Options{
		MemTableSize: 16 << 20, // 16MB memtable
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10, // 512KB
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// AppendTransactions writes records in one synced batch.
func (j *Journal) AppendTransactions(recs []ledger.TxRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := j.db.NewBatch()
	defer batch.Close()

	for _, rec := range recs {
		val, err := encode(rec)
		if err != nil {
			return err
		}
		if err := batch.Set(txKey(rec.Seq), val, nil); err != nil {
			return fmt.Errorf("failed to stage tx %d: %w", rec.Seq, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit %d tx records: %w", len(recs), err)
	}
	return nil
}

// AppendTrades writes trades in one batch. Trades are derivable from the
// settlement legs in the tx records, so the batch is not synced.
func (j *Journal) AppendTrades(trades []orderbook.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := j.db.NewBatch()
	defer batch.Close()

	for _, t := range trades {
		val, err := encode(t)
		if err != nil {
			return err
		}
		if err := batch.Set(tradeKey(t.Symbol, t.Seq), val, nil); err != nil {
			return fmt.Errorf("failed to stage trade %s/%d: %w", t.Symbol, t.Seq, err)
		}
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to commit %d trades: %w", len(trades), err)
	}
	return nil
}

// Transaction loads one record by sequence number
// Returns false if it was never journaled
func (j *Journal) Transaction(seq uint64) (ledger.TxRecord, bool, error) {
	data, closer, err := j.db.Get(txKey(seq))
	if err == pebble.ErrNotFound {
		return ledger.TxRecord{}, false, nil
	}
	if err != nil {
		return ledger.TxRecord{}, false, fmt.Errorf("failed to get tx %d: %w", seq, err)
	}
	defer closer.Close()

	var rec ledger.TxRecord
	if err := decode(data, &rec); err != nil {
		return ledger.TxRecord{}, false, err
	}
	return rec, true, nil
}

// Transactions loads every journaled record in sequence order
func (j *Journal) Transactions() ([]ledger.TxRecord, error) {
	prefix := []byte(prefixTx)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open tx iterator: %w", err)
	}
	defer iter.Close()

	var recs []ledger.TxRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec ledger.TxRecord
		if err := decode(iter.Value(), &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, iter.Error()
}

// RecentTrades loads the most recent N trades for a symbol, newest first
func (j *Journal) RecentTrades(symbol string, limit int) ([]orderbook.Trade, error) {
	prefix := tradePrefix(symbol)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []orderbook.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t orderbook.Trade
		if err := decode(iter.Value(), &t); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}
