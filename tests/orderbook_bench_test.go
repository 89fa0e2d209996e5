package tests

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/ledger"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/fintech-exchange/pkg/app/exchange"
)

// prefill rests 100 price levels on each side, spread 1000..1100
func prefill(ob *orderbook.Book) {
	for i := 0; i < 100; i++ {
		ob.Submit(orderbook.Order{
			Account: "maker", Side: orderbook.Buy,
			Price: decimal.NewFromInt(int64(1000 - i)), Quantity: decimal.NewFromInt(100),
		}, nil)
		ob.Submit(orderbook.Order{
			Account: "maker", Side: orderbook.Sell,
			Price: decimal.NewFromInt(int64(1100 + i)), Quantity: decimal.NewFromInt(100),
		}, nil)
	}
}

// BenchmarkOrderbookPlace measures resting order placement
func BenchmarkOrderbookPlace(b *testing.B) {
	ob := orderbook.New("HYPL-USDC")
	prefill(ob)

	b.ResetTimer()

	// Alternate buy/sell inside the spread so nothing matches
	for i := 0; i < b.N; i++ {
		side, price := orderbook.Buy, int64(1001+i%40)
		if i%2 == 0 {
			side, price = orderbook.Sell, int64(1099-i%40)
		}
		ob.Submit(orderbook.Order{
			Account: "bench", Side: side,
			Price: decimal.NewFromInt(price), Quantity: decimal.NewFromInt(1),
		}, nil)
	}
}

// BenchmarkOrderbookCancel measures cancellation of resting orders
func BenchmarkOrderbookCancel(b *testing.B) {
	ob := orderbook.New("HYPL-USDC")
	ids := make([]orderbook.OrderID, b.N)
	for i := 0; i < b.N; i++ {
		res, _ := ob.Submit(orderbook.Order{
			Account: "bench", Side: orderbook.Buy,
			Price: decimal.NewFromInt(int64(1000 - i%500)), Quantity: decimal.NewFromInt(1),
		}, nil)
		ids[i] = res.Order.ID
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		ob.Cancel(ids[i])
	}
}

// BenchmarkOrderbookSnapshot measures level aggregation at realistic depth
func BenchmarkOrderbookSnapshot(b *testing.B) {
	ob := orderbook.New("HYPL-USDC")
	prefill(ob)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = ob.Depth(20)
	}
}

// BenchmarkExchangeRealisticWorkload mixes resting orders, crossing orders
// and cancels through the façade, settling every trade in the ledger
func BenchmarkExchangeRealisticWorkload(b *testing.B) {
	ex, err := exchange.New()
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	traders := make([]ledger.AccountID, 20)
	for i := range traders {
		traders[i] = ledger.AccountID(fmt.Sprintf("trader-%d", i))
		ex.Deposit(ctx, traders[i], "HYPL", decimal.NewFromInt(1_000_000_000))
		ex.Deposit(ctx, traders[i], "USD", decimal.NewFromInt(1_000_000_000))
	}

	rng := rand.New(rand.NewSource(1))
	var open []orderbook.OrderID

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		switch r := rng.Intn(10); {
		case r < 2 && len(open) > 0: // 20% cancels
			j := rng.Intn(len(open))
			ex.CancelOrder(ctx, open[j])
			open[j] = open[len(open)-1]
			open = open[:len(open)-1]
		default:
			side := orderbook.Buy
			if rng.Intn(2) == 0 {
				side = orderbook.Sell
			}
			res, err := ex.PlaceOrder(ctx, exchange.PlaceOrderRequest{
				Account:  traders[rng.Intn(len(traders))],
				Side:     side,
				Symbol:   "HYPL",
				Price:    decimal.NewFromInt(int64(990 + rng.Intn(21))),
				Quantity: decimal.NewFromInt(int64(1 + rng.Intn(10))),
			})
			if err == nil && res.Resting.IsPositive() {
				open = append(open, res.OrderID)
			}
		}
	}
}
