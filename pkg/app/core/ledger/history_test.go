package ledger

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/errs"
)

func TestHistoryOrderedAndRestartable(t *testing.T) {
	l := newTestLedger()
	l.Deposit("alice", "USD", d("100"))
	l.Deposit("bob", "USD", d("50"))
	l.Transfer("alice", "bob", "USD", d("10"))
	l.Withdraw("alice", "USD", d("5"))

	hist, err := l.History("alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	first := slices.Collect(hist)
	var seqs []uint64
	for _, rec := range first {
		seqs = append(seqs, rec.Seq)
		if !rec.Touches("alice") {
			t.Errorf("record %d does not touch alice", rec.Seq)
		}
	}
	if !slices.Equal(seqs, []uint64{1, 3, 4}) {
		t.Errorf("seqs = %v, want [1 3 4]", seqs)
	}

	// Later records are not visible through an earlier sequence
	l.Deposit("alice", "USD", d("1"))
	second := slices.Collect(hist)
	if len(second) != len(first) {
		t.Errorf("second pass = %d records, want %d", len(second), len(first))
	}

	hist, _ = l.History("alice")
	if n := len(slices.Collect(hist)); n != 4 {
		t.Errorf("fresh history = %d records, want 4", n)
	}
}

func TestHistoryEarlyStop(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 5; i++ {
		l.Deposit("alice", "USD", d("1"))
	}
	hist, _ := l.History("alice")

	n := 0
	for range hist {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("iterated %d, want 2", n)
	}
}

func TestHistoryUnknownAccount(t *testing.T) {
	l := newTestLedger()
	if _, err := l.History("ghost"); !errors.Is(err, errs.ErrUnknownAccount) {
		t.Errorf("err = %v, want ErrUnknownAccount", err)
	}
}

// TestFoldMatchesCache drives random operations and checks that folding the
// log always reproduces the cached balances and that supply equals deposits
// minus withdrawals
func TestFoldMatchesCache(t *testing.T) {
	l := newTestLedger()
	rng := rand.New(rand.NewSource(42))
	ids := []AccountID{"a", "b", "c", "d"}
	assets := []string{"USD", "BTC"}
	net := map[string]decimal.Decimal{}

	for i := 0; i < 500; i++ {
		id := ids[rng.Intn(len(ids))]
		asset := assets[rng.Intn(len(assets))]
		amt := decimal.New(int64(rng.Intn(1000)+1), -2)

		switch rng.Intn(4) {
		case 0:
			if _, err := l.Deposit(id, asset, amt); err == nil {
				net[asset] = net[asset].Add(amt)
			}
		case 1:
			if _, err := l.Withdraw(id, asset, amt); err == nil {
				net[asset] = net[asset].Sub(amt)
			}
		case 2:
			l.Transfer(id, ids[rng.Intn(len(ids))], asset, amt)
		case 3:
			l.Settle(Settlement{
				Buyer: id, Seller: ids[rng.Intn(len(ids))],
				BaseAsset: "BTC", QuoteAsset: "USD",
				Price: decimal.New(int64(rng.Intn(50)+1), 0), Quantity: amt,
			})
		}

		if i%50 == 0 {
			if err := l.Verify(); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
		}
	}

	if err := l.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	folded := Fold(l.Log())
	for _, acc := range l.Accounts() {
		for asset, bal := range acc.Balances {
			if bal.IsNegative() {
				t.Errorf("%s %s negative: %s", acc.ID, asset, bal)
			}
			if want := folded.Get(acc.ID, asset); !want.Equal(bal) {
				t.Errorf("%s %s cached %s, folded %s", acc.ID, asset, bal, want)
			}
		}
	}
	for _, asset := range assets {
		if got := l.TotalSupply(asset); !got.Equal(net[asset]) {
			t.Errorf("%s supply = %s, want %s", asset, got, net[asset])
		}
	}
}

func TestReasonText(t *testing.T) {
	for _, r := range []Reason{Deposit, Withdrawal, Transfer, TradeSettlement} {
		b, _ := r.MarshalText()
		var got Reason
		if err := got.UnmarshalText(b); err != nil || got != r {
			t.Errorf("round trip %s = %s, %v", r, got, err)
		}
	}
	var r Reason
	if err := r.UnmarshalText([]byte("gift")); err == nil {
		t.Error("expected error for unknown reason")
	}
}
