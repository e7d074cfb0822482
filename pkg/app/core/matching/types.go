package matching

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// Kind distinguishes resting limit orders from immediate market orders
type Kind int8

const (
	Limit Kind = iota
	Market
)

func (k Kind) String() string {
	switch k {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return "unknown"
	}
}

// Request is a validated-on-submit order instruction from one trader
type Request struct {
	Trader common.Address
	Asset  asset.Symbol
	Side   orderbook.Side
	Kind   Kind
	Amount *uint256.Int
	Price  *uint256.Int // limit orders only
}

// Trade is one fill between the incoming (taker) order and a resting (maker) order
type Trade struct {
	ID           uint64
	Asset        asset.Symbol
	TakerOrderID uint64
	MakerOrderID uint64
	Taker        common.Address
	Maker        common.Address
	Side         orderbook.Side // taker side
	Amount       uint256.Int
	Price        uint256.Int // maker price
	Timestamp    int64       // Unix milliseconds
}

// Result describes what a submit did
type Result struct {
	Order   orderbook.Order // taker order after matching
	Kind    Kind
	Trades  []Trade
	Rested  bool     // limit remainder inserted into the book
	Evicted []uint64 // maker orders removed because their owner could no longer settle
}

// sequencer hands out strictly increasing ids starting after start
type sequencer struct {
	next atomic.Uint64
}

func newSequencer(start uint64) *sequencer {
	s := &sequencer{}
	s.next.Store(start)
	return s
}

func (s *sequencer) Next() uint64 {
	return s.next.Add(1)
}

func (s *sequencer) Current() uint64 {
	return s.next.Load()
}
