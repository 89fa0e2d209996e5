package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/errs"
)

// AccountID identifies a customer account. It is the account holder's name in
// the CLI and the path segment in the HTTP adapter.
type AccountID string

// External marks the outside world as the source of a deposit or the
// destination of a withdrawal.
const External AccountID = ""

// Valid reports whether id is usable as an account identifier.
func (id AccountID) Valid() bool {
	return strings.TrimSpace(string(id)) != ""
}

// Reason tags why a transaction record exists.
type Reason uint8

const (
	Deposit Reason = iota + 1
	Withdrawal
	Transfer
	TradeSettlement
)

func (r Reason) String() string {
	switch r {
	case Deposit:
		return "deposit"
	case Withdrawal:
		return "withdrawal"
	case Transfer:
		return "transfer"
	case TradeSettlement:
		return "trade_settlement"
	default:
		return "unknown"
	}
}

// MarshalText lets reasons appear by name in JSON payloads and journal entries.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Reason) UnmarshalText(b []byte) error {
	switch string(b) {
	case "deposit":
		*r = Deposit
	case "withdrawal":
		*r = Withdrawal
	case "transfer":
		*r = Transfer
	case "trade_settlement":
		*r = TradeSettlement
	default:
		return fmt.Errorf("unknown reason %q", b)
	}
	return nil
}

// TxRecord is one immutable entry of the transaction log.
// From is External for deposits, To is External for withdrawals.
type TxRecord struct {
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	From      AccountID       `json:"from,omitempty"`
	To        AccountID       `json:"to,omitempty"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    Reason          `json:"reason"`

	// Set on trade settlement legs only.
	Symbol   string `json:"symbol,omitempty"`
	TradeSeq uint64 `json:"tradeSeq,omitempty"`
}

// Touches reports whether the record moves funds in or out of id.
func (r TxRecord) Touches(id AccountID) bool {
	return (r.From != External && r.From == id) || (r.To != External && r.To == id)
}

// Account is a point-in-time copy of an account's cached balances.
type Account struct {
	ID        AccountID                  `json:"id"`
	Balances  map[string]decimal.Decimal `json:"balances"`
	CreatedAt time.Time                  `json:"createdAt"`
}

// Balance returns the cached balance for asset, zero when the asset was never held.
func (a Account) Balance(asset string) decimal.Decimal {
	return a.Balances[asset]
}

// Settlement describes the two legs that realize a matched trade: Quantity
// of BaseAsset from Seller to Buyer, and Price*Quantity of QuoteAsset from
// Buyer to Seller.
type Settlement struct {
	Symbol     string
	TradeSeq   uint64
	Buyer      AccountID
	Seller     AccountID
	BaseAsset  string
	QuoteAsset string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
}

// Notional is the quote amount paid by the buyer.
func (s Settlement) Notional() decimal.Decimal {
	return s.Price.Mul(s.Quantity)
}

// FundsError names the account that could not cover an amount. It matches
// errs.ErrInsufficientFunds under errors.Is.
type FundsError struct {
	Account AccountID
	Asset   string
	Have    decimal.Decimal
	Need    decimal.Decimal
}

func (e *FundsError) Error() string {
	return fmt.Sprintf("%s: %s has %s %s, needs %s", errs.ErrInsufficientFunds, e.Account, e.Have, e.Asset, e.Need)
}

func (e *FundsError) Unwrap() error { return errs.ErrInsufficientFunds }
