package market

import (
	"fmt"
	"sort"
	"sync"
)

// MarketRegistry manages multiple markets in a thread-safe manner
// Supports registration, lookup, and status updates for all trading markets
type MarketRegistry struct {
	mu      sync.RWMutex
	markets map[string]*Market // symbol -> market
}

// NewMarketRegistry creates an empty market registry
func NewMarketRegistry() *MarketRegistry {
	return &MarketRegistry{
		markets: make(map[string]*Market),
	}
}

// RegisterMarket adds a new market to the registry
// Returns error if market with same symbol already exists
func (mr *MarketRegistry) RegisterMarket(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("market %s: %w", m.Symbol, err)
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if _, exists := mr.markets[m.Symbol]; exists {
		return fmt.Errorf("market %s already registered", m.Symbol)
	}

	cp := *m
	mr.markets[m.Symbol] = &cp
	return nil
}

// GetMarket returns a copy of the market registered under symbol
func (mr *MarketRegistry) GetMarket(symbol string) (Market, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	m, exists := mr.markets[symbol]
	if !exists {
		return Market{}, fmt.Errorf("market %s not found", symbol)
	}

	return *m, nil
}

// GetOrList returns the market for symbol, listing it first with
// base=symbol and the given quote asset when it is not registered yet.
func (mr *MarketRegistry) GetOrList(symbol, quoteAsset string) (Market, error) {
	mr.mu.RLock()
	m, exists := mr.markets[symbol]
	mr.mu.RUnlock()
	if exists {
		return *m, nil
	}

	listed, err := NewMarket(symbol, symbol, quoteAsset)
	if err != nil {
		return Market{}, err
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()
	if m, exists := mr.markets[symbol]; exists {
		return *m, nil
	}
	mr.markets[symbol] = listed
	return *listed, nil
}

// ListMarkets returns all registered markets sorted by symbol
func (mr *MarketRegistry) ListMarkets() []Market {
	mr.mu.RLock()
	markets := make([]Market, 0, len(mr.markets))
	for _, m := range mr.markets {
		markets = append(markets, *m)
	}
	mr.mu.RUnlock()

	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })
	return markets
}

// UpdateMarketStatus changes the trading status of a market
// Used for emergency pausing and resuming
func (mr *MarketRegistry) UpdateMarketStatus(symbol string, status MarketStatus) error {
	if status != Active && status != Paused {
		return fmt.Errorf("unknown market status %d", status)
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	m, exists := mr.markets[symbol]
	if !exists {
		return fmt.Errorf("market %s not found", symbol)
	}

	m.Status = status
	return nil
}

// Count returns the total number of registered markets
func (mr *MarketRegistry) Count() int {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return len(mr.markets)
}

// Exists checks if a market is registered
func (mr *MarketRegistry) Exists(symbol string) bool {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	_, exists := mr.markets[symbol]
	return exists
}
