package orderbook

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of this side matches against
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Valid reports whether s is Buy or Sell
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Order is a limit order resting in (or about to enter) a book.
// Price is in base-asset smallest units per whole unit of the traded asset.
type Order struct {
	ID     uint64
	Trader common.Address
	Asset  asset.Symbol
	Side   Side
	Price  uint256.Int
	Amount uint256.Int // original requested quantity
	Filled uint256.Int // 0 <= Filled <= Amount

	CreatedAt int64 // Unix milliseconds
}

// Remaining returns Amount - Filled
func (o *Order) Remaining() *uint256.Int {
	return new(uint256.Int).Sub(&o.Amount, &o.Filled)
}

// IsFilled reports whether the order has nothing left to match
func (o *Order) IsFilled() bool {
	return !o.Filled.Lt(&o.Amount)
}

// Fill adds qty to Filled, capped at Amount. Returns the quantity actually applied.
func (o *Order) Fill(qty *uint256.Int) *uint256.Int {
	applied := new(uint256.Int).Set(qty)
	if rem := o.Remaining(); rem.Lt(applied) {
		applied = rem
	}
	o.Filled.Add(&o.Filled, applied)
	return applied
}

// PriceLevel aggregates the open quantity at one price
type PriceLevel struct {
	Price  uint256.Int
	Qty    uint256.Int
	Orders int
}
