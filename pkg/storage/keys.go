package storage

import (
	"fmt"
)

// Journal key schema for Pebble storage
//
//	tx:<seq>               → ledger.TxRecord
//	trade:<symbol>:<seq>   → orderbook.Trade
//
// Sequence numbers are zero-padded (20 digits) so that lexicographic key
// order is sequence order.

// Key prefixes
const (
	prefixTx    = "tx:"
	prefixTrade = "trade:"
)

// txKey returns the key for a transaction record
// Format: "tx:{seq}"
func txKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTx, seq))
}

// tradeKey returns the key for a trade
// Format: "trade:{symbol}:{seq}"
func tradeKey(symbol string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, symbol, seq))
}

// tradePrefix returns the prefix for all trades of a symbol
// Format: "trade:{symbol}:"
func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
