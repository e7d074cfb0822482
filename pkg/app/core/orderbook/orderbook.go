package orderbook

import (
	"fmt"

	"github.com/google/btree"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

const btreeDegree = 32

// OrderBook holds resting limit orders of one traded asset.
//
// Both sides are B-trees keyed by (price, id): bids iterate price descending, asks price
// ascending, and equal prices iterate oldest id first. The tree minimum is therefore always the
// best order. Not safe for concurrent use; the matching engine serializes access.
type OrderBook struct {
	asset asset.Symbol
	bids  *btree.BTreeG[*Order]
	asks  *btree.BTreeG[*Order]
}

func bidLess(a, b *Order) bool {
	if c := a.Price.Cmp(&b.Price); c != 0 {
		return c > 0
	}
	return a.ID < b.ID
}

func askLess(a, b *Order) bool {
	if c := a.Price.Cmp(&b.Price); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

func New(sym asset.Symbol) *OrderBook {
	return &OrderBook{
		asset: sym,
		bids:  btree.NewG[*Order](btreeDegree, bidLess),
		asks:  btree.NewG[*Order](btreeDegree, askLess),
	}
}

// Asset returns the traded asset of this book
func (ob *OrderBook) Asset() asset.Symbol {
	return ob.asset
}

func (ob *OrderBook) side(s Side) *btree.BTreeG[*Order] {
	if s == Buy {
		return ob.bids
	}
	return ob.asks
}

// Insert rests an order at its price/time position. Filled orders are not inserted.
func (ob *OrderBook) Insert(o *Order) error {
	if o.Asset != ob.asset {
		return fmt.Errorf("order %d for %s inserted into %s book", o.ID, o.Asset, ob.asset)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("order %d has invalid side %d", o.ID, o.Side)
	}
	if o.IsFilled() {
		return nil
	}
	if _, replaced := ob.side(o.Side).ReplaceOrInsert(o); replaced {
		return fmt.Errorf("order %d already resting", o.ID)
	}
	return nil
}

// BestBid returns the highest bid (oldest first at equal price)
func (ob *OrderBook) BestBid() (*Order, bool) {
	return ob.bids.Min()
}

// BestAsk returns the lowest ask (oldest first at equal price)
func (ob *OrderBook) BestAsk() (*Order, bool) {
	return ob.asks.Min()
}

// Best returns the head of the given side
func (ob *OrderBook) Best(s Side) (*Order, bool) {
	return ob.side(s).Min()
}

// RemoveIfFilled removes o once Filled == Amount; no-op otherwise
func (ob *OrderBook) RemoveIfFilled(o *Order) bool {
	if !o.IsFilled() {
		return false
	}
	return ob.Remove(o)
}

// Remove takes o out of the book regardless of fill state
func (ob *OrderBook) Remove(o *Order) bool {
	_, ok := ob.side(o.Side).Delete(o)
	return ok
}

// Snapshot returns copies of the resting orders of one side in priority order
func (ob *OrderBook) Snapshot(s Side) []Order {
	tree := ob.side(s)
	out := make([]Order, 0, tree.Len())
	tree.Ascend(func(o *Order) bool {
		out = append(out, *o)
		return true
	})
	return out
}

// Levels aggregates one side into price levels, best price first
func (ob *OrderBook) Levels(s Side) []PriceLevel {
	var levels []PriceLevel
	ob.side(s).Ascend(func(o *Order) bool {
		n := len(levels)
		if n == 0 || !levels[n-1].Price.Eq(&o.Price) {
			levels = append(levels, PriceLevel{Price: o.Price})
			n++
		}
		levels[n-1].Qty.Add(&levels[n-1].Qty, o.Remaining())
		levels[n-1].Orders++
		return true
	})
	return levels
}

// Len returns the number of resting orders on a side
func (ob *OrderBook) Len(s Side) int {
	return ob.side(s).Len()
}
