package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/errs"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/ledger"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/fintech-exchange/pkg/app/exchange"
)

const prompt = "> "

var errQuit = errors.New("quit")

type command struct {
	names []string
	usage string
	run   func(r *repl, ctx context.Context, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{[]string{"help", "h"}, "help", (*repl).help},
		{[]string{"deposit", "d"}, "deposit <account> <asset> <amount>", (*repl).deposit},
		{[]string{"withdraw", "w"}, "withdraw <account> <asset> <amount>", (*repl).withdraw},
		{[]string{"send", "s"}, "send <from> <to> <asset> <amount>", (*repl).send},
		{[]string{"print", "ledger", "txlog", "p", "l", "t"}, "txlog", (*repl).txlog},
		{[]string{"accounts", "a"}, "accounts", (*repl).accounts},
		{[]string{"client", "c"}, "client <account>", (*repl).client},
		{[]string{"order", "o"}, "order <account> <buy|sell> <symbol> <quantity> <price>", (*repl).order},
		{[]string{"cancel", "x"}, "cancel <order-id>", (*repl).cancel},
		{[]string{"orderbook", "ob"}, "orderbook [symbol]", (*repl).orderBook},
		{[]string{"orderbookbyprice", "obp"}, "orderbookbyprice <symbol>", (*repl).orderBookByPrice},
		{[]string{"markets", "m"}, "markets", (*repl).markets},
		{[]string{"verify", "v"}, "verify", (*repl).verify},
		{[]string{"quit", "q"}, "quit", func(*repl, context.Context, []string) error { return errQuit }},
	}
}

// repl reads one command per line and prints results. Account names with
// spaces can be quoted.
type repl struct {
	ex  *exchange.Exchange
	in  *bufio.Scanner
	out io.Writer
}

func newREPL(ex *exchange.Exchange, in io.Reader, out io.Writer) *repl {
	return &repl{ex: ex, in: bufio.NewScanner(in), out: out}
}

func (r *repl) Run(ctx context.Context) {
	for {
		fmt.Fprint(r.out, prompt)
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return
		}
		if err := r.Exec(ctx, r.in.Text()); errors.Is(err, errQuit) {
			return
		} else if err != nil {
			fmt.Fprintf(r.out, "error [%s]: %v\n", errs.Kind(err), err)
		}
	}
}

// Exec runs a single command line.
func (r *repl) Exec(ctx context.Context, line string) error {
	words, err := splitWords(line)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return nil
	}
	name := strings.ToLower(words[0])
	for _, c := range commands {
		for _, n := range c.names {
			if n == name {
				return c.run(r, ctx, words[1:])
			}
		}
	}
	fmt.Fprintln(r.out, "Unrecognized command; try `help`.")
	return nil
}

func (r *repl) help(_ context.Context, _ []string) error {
	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(w, "%s\t%s\n", strings.Join(c.names, ", "), c.usage)
	}
	return w.Flush()
}

func (r *repl) deposit(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return usageError("deposit")
	}
	amount, err := parseAmount(args[2])
	if err != nil {
		return err
	}
	rec, err := r.ex.Deposit(ctx, ledger.AccountID(args[0]), args[1], amount)
	if err != nil {
		return err
	}
	r.printTx(rec)
	return nil
}

func (r *repl) withdraw(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return usageError("withdraw")
	}
	amount, err := parseAmount(args[2])
	if err != nil {
		return err
	}
	rec, err := r.ex.Withdraw(ctx, ledger.AccountID(args[0]), args[1], amount)
	if err != nil {
		return err
	}
	r.printTx(rec)
	return nil
}

func (r *repl) send(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return usageError("send")
	}
	amount, err := parseAmount(args[3])
	if err != nil {
		return err
	}
	rec, err := r.ex.Transfer(ctx, ledger.AccountID(args[0]), ledger.AccountID(args[1]), args[2], amount)
	if err != nil {
		return err
	}
	r.printTx(rec)
	return nil
}

func (r *repl) txlog(_ context.Context, _ []string) error {
	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tREASON\tFROM\tTO\tASSET\tAMOUNT\tTRADE")
	for rec := range r.ex.Transactions() {
		trade := ""
		if rec.Reason == ledger.TradeSettlement {
			trade = fmt.Sprintf("%s#%d", rec.Symbol, rec.TradeSeq)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Seq, rec.Reason, orDash(rec.From), orDash(rec.To), rec.Asset, rec.Amount, trade)
	}
	return w.Flush()
}

func (r *repl) accounts(_ context.Context, _ []string) error {
	for _, acc := range r.ex.Accounts() {
		r.printAccount(acc)
	}
	return nil
}

func (r *repl) client(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("client")
	}
	acc, err := r.ex.Account(ledger.AccountID(args[0]))
	if err != nil {
		return err
	}
	r.printAccount(acc)
	return nil
}

func (r *repl) order(ctx context.Context, args []string) error {
	if len(args) != 5 {
		return usageError("order")
	}
	side, err := orderbook.ParseSide(args[1])
	if err != nil {
		return fmt.Errorf("%v: %w", err, errs.ErrInvalidOrder)
	}
	qty, err := parseAmount(args[3])
	if err != nil {
		return err
	}
	price, err := parseAmount(args[4])
	if err != nil {
		return err
	}

	res, err := r.ex.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Account:  ledger.AccountID(args[0]),
		Side:     side,
		Symbol:   args[2],
		Price:    price,
		Quantity: qty,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "order %s %s: filled %s, resting %s\n", res.OrderID, res.Order.Status, res.Filled(), res.Resting)
	for _, t := range res.Trades {
		fmt.Fprintf(r.out, "  trade #%d %s %s @ %s (buyer %s, seller %s)\n",
			t.Seq, t.Symbol, t.Quantity, t.Price, t.Buyer, t.Seller)
	}
	for _, c := range res.SelfTradeCancelled {
		fmt.Fprintf(r.out, "  cancelled own resting order %s\n", c.ID)
	}
	for _, c := range res.UnfundedCancelled {
		fmt.Fprintf(r.out, "  cancelled unfunded order %s (%s)\n", c.ID, c.Account)
	}
	if res.Halt != nil {
		fmt.Fprintf(r.out, "  matching halted [%s]: %v; %s unmatched\n", errs.Kind(res.Halt), res.Halt, res.Unmatched)
	}
	return nil
}

func (r *repl) cancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("cancel")
	}
	o, err := r.ex.CancelOrder(ctx, orderbook.OrderID(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "order %s cancelled, %s of %s unfilled\n", o.ID, o.Remaining, o.Quantity)
	return nil
}

// orderBook lists individual resting orders in creation order.
func (r *repl) orderBook(_ context.Context, args []string) error {
	symbol := ""
	if len(args) > 0 {
		symbol = args[0]
	}
	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tSYMBOL\tSIDE\tACCOUNT\tPRICE\tREMAINING\tID")
	for _, o := range r.ex.OpenOrders(symbol) {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", o.Seq, o.Symbol, o.Side, o.Account, o.Price, o.Remaining, o.ID)
	}
	return w.Flush()
}

// orderBookByPrice prints aggregated levels, asks above bids.
func (r *repl) orderBookByPrice(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("orderbookbyprice")
	}
	snap := r.ex.OrderBookView(args[0])
	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "SIDE\tPRICE\tQUANTITY\tORDERS\t")
	for i := len(snap.Asks) - 1; i >= 0; i-- {
		l := snap.Asks[i]
		fmt.Fprintf(w, "ask\t%s\t%s\t%d\t\n", l.Price, l.Quantity, l.Orders)
	}
	for _, l := range snap.Bids {
		fmt.Fprintf(w, "bid\t%s\t%s\t%d\t\n", l.Price, l.Quantity, l.Orders)
	}
	return w.Flush()
}

func (r *repl) markets(_ context.Context, _ []string) error {
	for _, m := range r.ex.Markets() {
		fmt.Fprintf(r.out, "%s (%s/%s) %s\n", m.Symbol, m.BaseAsset, m.QuoteAsset, m.Status)
	}
	return nil
}

func (r *repl) verify(_ context.Context, _ []string) error {
	if err := r.ex.Ledger().Verify(); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "ok: %d records, balances match the log\n", r.ex.Ledger().Len())
	return nil
}

func (r *repl) printTx(rec ledger.TxRecord) {
	fmt.Fprintf(r.out, "tx #%d %s %s %s (%s -> %s)\n",
		rec.Seq, rec.Reason, rec.Amount, rec.Asset, orDash(rec.From), orDash(rec.To))
}

func (r *repl) printAccount(acc ledger.Account) {
	fmt.Fprintf(r.out, "%s:", acc.ID)
	assets := make([]string, 0, len(acc.Balances))
	for asset := range acc.Balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		fmt.Fprintf(r.out, " %s=%s", asset, acc.Balances[asset])
	}
	fmt.Fprintln(r.out)
}

func usageError(name string) error {
	for _, c := range commands {
		if c.names[0] == name {
			return fmt.Errorf("usage: %s", c.usage)
		}
	}
	return fmt.Errorf("usage: %s", name)
}

func parseAmount(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cannot parse %q as a number: %w", v, errs.ErrInvalidAmount)
	}
	return d, nil
}

func orDash(id ledger.AccountID) string {
	if id == ledger.External {
		return "-"
	}
	return string(id)
}
