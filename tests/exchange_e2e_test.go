package tests

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/errs"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/ledger"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/market"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/fintech-exchange/pkg/app/exchange"
	"github.com/uhyunpark/fintech-exchange/pkg/util"
)

// Symbol S trades base asset S against quote asset C
var marketS = market.Market{Symbol: "S", BaseAsset: "S", QuoteAsset: "C"}

func newTestExchange(t testing.TB, opts ...exchange.Option) *exchange.Exchange {
	t.Helper()
	clock := &util.StepClock{Start: time.Unix(1700000000, 0).UTC(), Step: time.Millisecond}
	ex, err := exchange.New(append([]exchange.Option{
		exchange.WithClock(clock),
		exchange.WithMarkets(marketS),
	}, opts...)...)
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}
	t.Cleanup(func() {
		if err := ex.Ledger().Verify(); err != nil {
			t.Errorf("ledger cache disagrees with log: %v", err)
		}
	})
	return ex
}

func deposit(t *testing.T, ex *exchange.Exchange, id ledger.AccountID, asset, amount string) {
	t.Helper()
	if _, err := ex.Deposit(context.Background(), id, asset, d(amount)); err != nil {
		t.Fatalf("deposit %s %s %s: %v", id, amount, asset, err)
	}
}

func place(t *testing.T, ex *exchange.Exchange, id ledger.AccountID, side orderbook.Side, price, qty string) exchange.PlaceOrderResult {
	t.Helper()
	res, err := ex.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Account: id, Side: side, Symbol: "S", Price: d(price), Quantity: d(qty),
	})
	if err != nil {
		t.Fatalf("place %s %s %s@%s: %v", id, side, qty, price, err)
	}
	assertNotCrossed(t, ex, "S")
	return res
}

func assertNotCrossed(t *testing.T, ex *exchange.Exchange, symbol string) {
	t.Helper()
	snap := ex.OrderBookView(symbol)
	if len(snap.Bids) > 0 && len(snap.Asks) > 0 && !snap.Bids[0].Price.LessThan(snap.Asks[0].Price) {
		t.Fatalf("book %s crossed: bid %s >= ask %s", symbol, snap.Bids[0].Price, snap.Asks[0].Price)
	}
}

func assertBalance(t *testing.T, ex *exchange.Exchange, id ledger.AccountID, asset, want string) {
	t.Helper()
	got, err := ex.Balance(id, asset)
	if err != nil {
		t.Fatalf("balance %s %s: %v", id, asset, err)
	}
	if !got.Equal(d(want)) {
		t.Errorf("%s %s = %s, want %s", id, asset, got, want)
	}
}

// TestScenarioFullMatch: X sells 10 S @ 50, Y buys 10 S @ 50
func TestScenarioFullMatch(t *testing.T) {
	ex := newTestExchange(t)
	deposit(t, ex, "X", "C", "1000")
	deposit(t, ex, "X", "S", "10")
	deposit(t, ex, "Y", "C", "1000")

	sell := place(t, ex, "X", orderbook.Sell, "50", "10")
	if len(sell.Trades) != 0 {
		t.Fatalf("resting sell traded: %+v", sell.Trades)
	}

	buy := place(t, ex, "Y", orderbook.Buy, "50", "10")
	if len(buy.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(buy.Trades))
	}
	tr := buy.Trades[0]
	if !tr.Price.Equal(d("50")) || !tr.Quantity.Equal(d("10")) {
		t.Errorf("trade = %s @ %s, want 10 @ 50", tr.Quantity, tr.Price)
	}

	assertBalance(t, ex, "X", "S", "0")
	assertBalance(t, ex, "X", "C", "1500")
	assertBalance(t, ex, "Y", "S", "10")
	assertBalance(t, ex, "Y", "C", "500")

	if o, _ := ex.Order(sell.OrderID); o.Status != orderbook.Filled {
		t.Errorf("sell status = %s, want filled", o.Status)
	}
	snap := ex.OrderBookView("S")
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Errorf("book not empty: %+v", snap)
	}
}

// TestScenarioPriceImprovement: X sells 10 @ 50, Y buys 6 @ 55 and pays 50
func TestScenarioPriceImprovement(t *testing.T) {
	ex := newTestExchange(t)
	deposit(t, ex, "X", "S", "10")
	deposit(t, ex, "Y", "C", "1000")

	sell := place(t, ex, "X", orderbook.Sell, "50", "10")
	buy := place(t, ex, "Y", orderbook.Buy, "55", "6")

	if len(buy.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(buy.Trades))
	}
	if tr := buy.Trades[0]; !tr.Price.Equal(d("50")) || !tr.Quantity.Equal(d("6")) {
		t.Errorf("trade = %s @ %s, want 6 @ 50", tr.Quantity, tr.Price)
	}
	if !buy.Resting.IsZero() || !buy.Unmatched.IsZero() {
		t.Errorf("buy resting %s unmatched %s, want 0/0", buy.Resting, buy.Unmatched)
	}

	o, _ := ex.Order(sell.OrderID)
	if o.Status != orderbook.PartiallyFilled || !o.Remaining.Equal(d("4")) {
		t.Errorf("sell = %s remaining %s, want partially_filled 4", o.Status, o.Remaining)
	}
	assertBalance(t, ex, "Y", "C", "700")
	assertBalance(t, ex, "X", "C", "300")
}

// TestScenarioOverdraw: withdrawing more than the balance fails and changes nothing
func TestScenarioOverdraw(t *testing.T) {
	ex := newTestExchange(t)
	deposit(t, ex, "X", "C", "100")

	_, err := ex.Withdraw(context.Background(), "X", "C", d("100.01"))
	if !errors.Is(err, errs.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	assertBalance(t, ex, "X", "C", "100")
}

// TestScenarioInvalidOrder: price 0 or quantity 0 is rejected and the book is unchanged
func TestScenarioInvalidOrder(t *testing.T) {
	ex := newTestExchange(t)
	deposit(t, ex, "X", "S", "10")
	place(t, ex, "X", orderbook.Sell, "50", "1")
	before := ex.OrderBookView("S")

	for _, tc := range []struct{ price, qty string }{{"0", "1"}, {"50", "0"}, {"-5", "1"}} {
		_, err := ex.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
			Account: "X", Side: orderbook.Buy, Symbol: "S", Price: d(tc.price), Quantity: d(tc.qty),
		})
		if !errors.Is(err, errs.ErrInvalidOrder) {
			t.Errorf("price %s qty %s: err = %v, want ErrInvalidOrder", tc.price, tc.qty, err)
		}
	}

	after := ex.OrderBookView("S")
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Errorf("book changed: %v -> %v", before, after)
	}
}

func TestUnknownAccountOrder(t *testing.T) {
	ex := newTestExchange(t)
	_, err := ex.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Account: "ghost", Side: orderbook.Buy, Symbol: "S", Price: d("1"), Quantity: d("1"),
	})
	if !errors.Is(err, errs.ErrUnknownAccount) {
		t.Errorf("err = %v, want ErrUnknownAccount", err)
	}
}

// TestCancelTwiceRejected returns OrderNotOpen the second time
func TestCancelTwiceRejected(t *testing.T) {
	ex := newTestExchange(t)
	deposit(t, ex, "X", "S", "5")
	res := place(t, ex, "X", orderbook.Sell, "50", "5")

	ctx := context.Background()
	if _, err := ex.CancelOrder(ctx, res.OrderID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if _, err := ex.CancelOrder(ctx, res.OrderID); !errors.Is(err, errs.ErrOrderNotOpen) {
		t.Errorf("second cancel err = %v, want ErrOrderNotOpen", err)
	}
	if _, err := ex.CancelOrder(ctx, "no-such-order"); !errors.Is(err, errs.ErrOrderNotFound) {
		t.Errorf("unknown cancel err = %v, want ErrOrderNotFound", err)
	}
	assertNotCrossed(t, ex, "S")
}

// TestPartialSettlementStands: the buyer can pay for the first fill only, so
// matching halts after it and the remainder is reported unmatched
func TestPartialSettlementStands(t *testing.T) {
	ex := newTestExchange(t)
	deposit(t, ex, "X", "S", "2")
	deposit(t, ex, "Z", "S", "2")
	deposit(t, ex, "Y", "C", "60")

	first := place(t, ex, "X", orderbook.Sell, "50", "1")
	second := place(t, ex, "Z", orderbook.Sell, "51", "1")

	res := place(t, ex, "Y", orderbook.Buy, "60", "2")
	if len(res.Trades) != 1 || res.Trades[0].MakerID() != first.OrderID {
		t.Fatalf("trades = %+v, want only the fill against X", res.Trades)
	}
	if !errors.Is(res.Halt, errs.ErrInsufficientFunds) {
		t.Errorf("halt = %v, want ErrInsufficientFunds", res.Halt)
	}
	if !res.Unmatched.Equal(d("1")) || !res.Resting.IsZero() {
		t.Errorf("unmatched %s resting %s, want 1/0", res.Unmatched, res.Resting)
	}
	if res.Order.Status != orderbook.Cancelled {
		t.Errorf("status = %s, want cancelled", res.Order.Status)
	}

	assertBalance(t, ex, "Y", "S", "1")
	assertBalance(t, ex, "Y", "C", "10")
	assertBalance(t, ex, "X", "C", "50")
	if o, _ := ex.Order(second.OrderID); o.Status != orderbook.Open {
		t.Errorf("unreached maker status = %s, want open", o.Status)
	}
}

// TestUnfundedMakerDoesNotBlockBook: a seller withdraws the asset behind a
// resting ask; the next buyer cancels that ask and trades with the order
// behind it instead of halting on every attempt
func TestUnfundedMakerDoesNotBlockBook(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()
	deposit(t, ex, "ghost", "S", "10")
	deposit(t, ex, "X", "S", "10")
	deposit(t, ex, "Y", "C", "1000")

	ghost := place(t, ex, "ghost", orderbook.Sell, "50", "10")
	if _, err := ex.Withdraw(ctx, "ghost", "S", d("10")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	place(t, ex, "X", orderbook.Sell, "51", "10")

	res := place(t, ex, "Y", orderbook.Buy, "60", "5")
	if res.Halt != nil {
		t.Fatalf("halt = %v, want none", res.Halt)
	}
	if len(res.Trades) != 1 || !res.Trades[0].Price.Equal(d("51")) || res.Trades[0].Seller != "X" {
		t.Fatalf("trades = %+v, want 5 @ 51 from X", res.Trades)
	}
	if len(res.UnfundedCancelled) != 1 || res.UnfundedCancelled[0].ID != ghost.OrderID {
		t.Errorf("unfunded = %+v, want the ghost ask", res.UnfundedCancelled)
	}
	if o, _ := ex.Order(ghost.OrderID); o.Status != orderbook.Cancelled {
		t.Errorf("ghost status = %s, want cancelled", o.Status)
	}

	again := place(t, ex, "Y", orderbook.Buy, "60", "5")
	if again.Halt != nil || len(again.Trades) != 1 || len(again.UnfundedCancelled) != 0 {
		t.Errorf("second buy = %+v, want one clean fill", again)
	}

	assertBalance(t, ex, "Y", "S", "10")
	assertBalance(t, ex, "Y", "C", "490")
	assertBalance(t, ex, "X", "C", "510")
	assertBalance(t, ex, "ghost", "S", "0")
	assertBalance(t, ex, "ghost", "C", "0")
}

// TestConservationUnderRandomTrading runs random deposits, withdrawals,
// transfers, orders and cancels and checks supply equals net deposits
func TestConservationUnderRandomTrading(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	ids := []ledger.AccountID{"a", "b", "c", "d", "e"}
	net := map[string]decimal.Decimal{"S": decimal.Zero, "C": decimal.Zero}
	var orders []orderbook.OrderID

	for _, id := range ids {
		for asset, amt := range map[string]decimal.Decimal{"S": decimal.NewFromInt(100), "C": decimal.NewFromInt(5000)} {
			ex.Deposit(ctx, id, asset, amt)
			net[asset] = net[asset].Add(amt)
		}
	}

	for i := 0; i < 2000; i++ {
		id := ids[rng.Intn(len(ids))]
		asset := []string{"S", "C"}[rng.Intn(2)]
		amt := decimal.New(int64(rng.Intn(500)+1), -1)

		switch rng.Intn(10) {
		case 0:
			if _, err := ex.Deposit(ctx, id, asset, amt); err == nil {
				net[asset] = net[asset].Add(amt)
			}
		case 1:
			if _, err := ex.Withdraw(ctx, id, asset, amt); err == nil {
				net[asset] = net[asset].Sub(amt)
			}
		case 2:
			ex.Transfer(ctx, id, ids[rng.Intn(len(ids))], asset, amt)
		case 3:
			if len(orders) > 0 {
				ex.CancelOrder(ctx, orders[rng.Intn(len(orders))])
			}
		default:
			side := orderbook.Side(rng.Intn(2) + 1)
			res, err := ex.PlaceOrder(ctx, exchange.PlaceOrderRequest{
				Account:  id,
				Side:     side,
				Symbol:   "S",
				Price:    decimal.NewFromInt(int64(45 + rng.Intn(11))),
				Quantity: decimal.New(int64(rng.Intn(50)+1), -1),
			})
			if err != nil {
				t.Fatalf("step %d: place: %v", i, err)
			}
			orders = append(orders, res.OrderID)
		}
		assertNotCrossed(t, ex, "S")
	}

	for asset, want := range net {
		if got := ex.Ledger().TotalSupply(asset); !got.Equal(want) {
			t.Errorf("%s supply = %s, want %s", asset, got, want)
		}
	}
	folded := ledger.Fold(ex.Transactions())
	for _, acc := range ex.Accounts() {
		for asset, bal := range acc.Balances {
			if bal.IsNegative() {
				t.Errorf("%s %s negative: %s", acc.ID, asset, bal)
			}
			if !folded.Get(acc.ID, asset).Equal(bal) {
				t.Errorf("%s %s cached %s, folded %s", acc.ID, asset, bal, folded.Get(acc.ID, asset))
			}
		}
	}
}

// TestConcurrentSymbols trades two symbols in parallel over shared accounts
func TestConcurrentSymbols(t *testing.T) {
	ex := newTestExchange(t, exchange.WithMarkets(market.Market{Symbol: "T", BaseAsset: "T", QuoteAsset: "C"}))
	ctx := context.Background()

	ids := []ledger.AccountID{"p", "q", "r", "s"}
	for _, id := range ids {
		for _, asset := range []string{"S", "T", "C"} {
			deposit(t, ex, id, asset, "1000000")
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			symbol := []string{"S", "T"}[w%2]
			for i := 0; i < 200; i++ {
				ex.PlaceOrder(ctx, exchange.PlaceOrderRequest{
					Account:  ids[rng.Intn(len(ids))],
					Side:     orderbook.Side(rng.Intn(2) + 1),
					Symbol:   symbol,
					Price:    decimal.NewFromInt(int64(95 + rng.Intn(11))),
					Quantity: decimal.NewFromInt(int64(1 + rng.Intn(5))),
				})
			}
		}(w)
	}
	wg.Wait()

	for _, sym := range []string{"S", "T"} {
		assertNotCrossed(t, ex, sym)
	}
	for _, asset := range []string{"S", "T", "C"} {
		if got := ex.Ledger().TotalSupply(asset); !got.Equal(d("4000000")) {
			t.Errorf("%s supply = %s, want 4000000", asset, got)
		}
	}
}

// TestSameSymbolDeterministic replays one submission order on two exchanges
func TestSameSymbolDeterministic(t *testing.T) {
	run := func() []string {
		ex := newTestExchange(t)
		for _, id := range []ledger.AccountID{"a", "b", "c"} {
			deposit(t, ex, id, "S", "1000")
			deposit(t, ex, id, "C", "100000")
		}
		rng := rand.New(rand.NewSource(99))
		var out []string
		for i := 0; i < 300; i++ {
			res, err := ex.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
				Account:  []ledger.AccountID{"a", "b", "c"}[rng.Intn(3)],
				Side:     orderbook.Side(rng.Intn(2) + 1),
				Symbol:   "S",
				Price:    decimal.NewFromInt(int64(90 + rng.Intn(21))),
				Quantity: decimal.NewFromInt(int64(1 + rng.Intn(9))),
			})
			if err != nil {
				t.Fatalf("place: %v", err)
			}
			for _, tr := range res.Trades {
				out = append(out, fmt.Sprintf("%d:%s:%s:%s@%s", tr.Seq, tr.Buyer, tr.Seller, tr.Quantity, tr.Price))
			}
		}
		return out
	}

	first, second := run(), run()
	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Error("same submission sequence produced different trades")
	}
	if len(first) == 0 {
		t.Error("workload produced no trades")
	}
}
