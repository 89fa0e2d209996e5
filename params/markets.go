package params

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	yaml "gopkg.in/yaml.v3"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/market"
)

// marketsFile is the on-disk listing:
//
//	markets:
//	  - symbol: BTC-USD
//	    base: BTC
//	    quote: USD
//	    tick_size: "0.01"
//	    lot_size: "0.0001"
type marketsFile struct {
	Markets []struct {
		Symbol   string `yaml:"symbol"`
		Base     string `yaml:"base"`
		Quote    string `yaml:"quote"`
		TickSize string `yaml:"tick_size"`
		LotSize  string `yaml:"lot_size"`
		Paused   bool   `yaml:"paused"`
	} `yaml:"markets"`
}

// LoadMarkets reads a market listing from a YAML file.
func LoadMarkets(path string) ([]market.Market, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}
	return ParseMarkets(data)
}

// ParseMarkets decodes and validates a YAML market listing.
func ParseMarkets(data []byte) ([]market.Market, error) {
	var f marketsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse markets: %w", err)
	}

	out := make([]market.Market, 0, len(f.Markets))
	seen := make(map[string]bool)
	for i, raw := range f.Markets {
		m := market.Market{
			Symbol:     raw.Symbol,
			BaseAsset:  raw.Base,
			QuoteAsset: raw.Quote,
		}
		if raw.Paused {
			m.Status = market.Paused
		}
		var err error
		if m.TickSize, err = parseStep(raw.TickSize); err != nil {
			return nil, fmt.Errorf("market %d (%s) tick_size: %w", i, raw.Symbol, err)
		}
		if m.LotSize, err = parseStep(raw.LotSize); err != nil {
			return nil, fmt.Errorf("market %d (%s) lot_size: %w", i, raw.Symbol, err)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("market %d: %w", i, err)
		}
		if seen[m.Symbol] {
			return nil, fmt.Errorf("market %s listed twice", m.Symbol)
		}
		seen[m.Symbol] = true
		out = append(out, m)
	}
	return out, nil
}

func parseStep(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}
