// Package errs defines the error taxonomy shared by the ledger, the order
// book and the exchange façade.
//
// Every failure returned by the core wraps exactly one of these sentinels,
// so callers match with errors.Is and transports render Kind(err).
package errs

import "errors"

var (
	ErrUnknownAccount    = errors.New("unknown account")
	ErrDuplicateAccount  = errors.New("duplicate account")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderNotOpen      = errors.New("order not open")
	ErrInvalidAccountID  = errors.New("invalid account id")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnknownAccount, "UnknownAccount"},
	{ErrDuplicateAccount, "DuplicateAccount"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidOrder, "InvalidOrder"},
	{ErrOrderNotFound, "OrderNotFound"},
	{ErrOrderNotOpen, "OrderNotOpen"},
	{ErrInvalidAccountID, "InvalidAccountID"},
}

// Kind returns the taxonomy name of err, or "Internal" when err does not wrap
// any known sentinel. Kind(nil) is "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
