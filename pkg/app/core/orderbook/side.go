package orderbook

import (
	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// level is the FIFO queue of resting orders at one price. Partially filled
// orders stay at the head, so they keep their place in the queue.
type level struct {
	price  decimal.Decimal
	orders []*Order
	total  decimal.Decimal
}

// bookSide is one side of a book. Its B-tree is ordered best price first for
// that side, so Min is always the level to match against.
type bookSide struct {
	side   Side
	levels *btree.BTreeG[*level]
}

func newBookSide(side Side) *bookSide {
	less := func(a, b *level) bool { return a.price.LessThan(b.price) } // asks ascending
	if side == Buy {
		less = func(a, b *level) bool { return a.price.GreaterThan(b.price) } // bids descending
	}
	return &bookSide{side: side, levels: btree.NewG(32, less)}
}

func (s *bookSide) best() (*level, bool) {
	return s.levels.Min()
}

func (s *bookSide) bestPrice() (decimal.Decimal, bool) {
	lvl, ok := s.levels.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// crossedBy reports whether an incoming order at price trades against a
// resting level of this side at restingPrice.
func (s *bookSide) crossedBy(price, restingPrice decimal.Decimal) bool {
	if s.side == Sell {
		return price.GreaterThanOrEqual(restingPrice)
	}
	return price.LessThanOrEqual(restingPrice)
}

func (s *bookSide) insert(o *Order) {
	lvl, ok := s.levels.Get(&level{price: o.Price})
	if !ok {
		lvl = &level{price: o.Price}
		s.levels.ReplaceOrInsert(lvl)
	}
	lvl.orders = append(lvl.orders, o)
	lvl.total = lvl.total.Add(o.Remaining)
}

// popFront drops the head order of lvl, and lvl itself once it is empty.
func (s *bookSide) popFront(lvl *level) {
	head := lvl.orders[0]
	lvl.orders[0] = nil
	lvl.orders = lvl.orders[1:]
	lvl.total = lvl.total.Sub(head.Remaining)
	if len(lvl.orders) == 0 {
		s.levels.Delete(lvl)
	}
}

func (s *bookSide) remove(o *Order) bool {
	lvl, ok := s.levels.Get(&level{price: o.Price})
	if !ok {
		return false
	}
	for i, cur := range lvl.orders {
		if cur.ID == o.ID {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			lvl.total = lvl.total.Sub(o.Remaining)
			if len(lvl.orders) == 0 {
				s.levels.Delete(lvl)
			}
			return true
		}
	}
	return false
}

func (s *bookSide) aggregate(limit int) []Level {
	out := make([]Level, 0)
	s.levels.Ascend(func(lvl *level) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		out = append(out, Level{Price: lvl.price, Quantity: lvl.total, Orders: len(lvl.orders)})
		return true
	})
	return out
}
