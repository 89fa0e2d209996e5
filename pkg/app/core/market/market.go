package market

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/errs"
)

// MarketStatus defines the trading status of a market
type MarketStatus int8

const (
	Active MarketStatus = iota // Trading enabled
	Paused                     // New orders rejected, cancels allowed
)

func (ms MarketStatus) String() string {
	switch ms {
	case Active:
		return "active"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

func (ms MarketStatus) MarshalText() ([]byte, error) { return []byte(ms.String()), nil }

// Market is a spot symbol: Quantity is counted in BaseAsset, Price in
// QuoteAsset per unit of base.
type Market struct {
	Symbol     string       `json:"symbol" yaml:"symbol"`
	BaseAsset  string       `json:"baseAsset" yaml:"base"`
	QuoteAsset string       `json:"quoteAsset" yaml:"quote"`
	Status     MarketStatus `json:"status" yaml:"-"`

	// TickSize and LotSize constrain prices and quantities to multiples of
	// themselves. Zero disables the check.
	TickSize decimal.Decimal `json:"tickSize" yaml:"tick_size"`
	LotSize  decimal.Decimal `json:"lotSize" yaml:"lot_size"`
}

// NewMarket creates an active market with no tick or lot constraint.
func NewMarket(symbol, baseAsset, quoteAsset string) (*Market, error) {
	m := &Market{Symbol: symbol, BaseAsset: baseAsset, QuoteAsset: quoteAsset, Status: Active}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	return m, nil
}

// Validate checks market parameter sanity
func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if m.BaseAsset == m.QuoteAsset {
		return fmt.Errorf("base and quote assets must differ, both are %s", m.BaseAsset)
	}
	if m.TickSize.IsNegative() {
		return fmt.Errorf("tick size cannot be negative")
	}
	if m.LotSize.IsNegative() {
		return fmt.Errorf("lot size cannot be negative")
	}
	return nil
}

// ValidateOrder checks an order's price and quantity against the market.
// Every failure wraps ErrInvalidOrder.
func (m *Market) ValidateOrder(price, qty decimal.Decimal) error {
	if m.Status != Active {
		return fmt.Errorf("market %s is %s: %w", m.Symbol, m.Status, errs.ErrInvalidOrder)
	}
	if !price.IsPositive() {
		return fmt.Errorf("price %s must be positive: %w", price, errs.ErrInvalidOrder)
	}
	if !qty.IsPositive() {
		return fmt.Errorf("quantity %s must be positive: %w", qty, errs.ErrInvalidOrder)
	}
	if m.TickSize.IsPositive() && !price.Mod(m.TickSize).IsZero() {
		return fmt.Errorf("price %s not a multiple of tick %s: %w", price, m.TickSize, errs.ErrInvalidOrder)
	}
	if m.LotSize.IsPositive() && !qty.Mod(m.LotSize).IsZero() {
		return fmt.Errorf("quantity %s not a multiple of lot %s: %w", qty, m.LotSize, errs.ErrInvalidOrder)
	}
	return nil
}
