package matching

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// Engine matches orders against per-asset books and settles fills on the ledger.
//
// A single mutex serializes every state-changing call (submit, credit, debit), so each call
// runs to completion before the next one observes the ledger or any book.
type Engine struct {
	mu       sync.Mutex
	dispatch sync.Mutex // taken before mu is released; keeps listener delivery in trade id order
	registry *asset.Registry
	ledger   *ledger.Ledger
	books    map[asset.Symbol]*orderbook.OrderBook

	orderSeq *sequencer
	tradeSeq *sequencer

	listeners []func(Trade)

	now    func() time.Time
	logger *zap.Logger
}

// NewEngine creates an engine with an empty book for every tradable asset
func NewEngine(registry *asset.Registry, l *ledger.Ledger, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	books := make(map[asset.Symbol]*orderbook.OrderBook)
	for _, sym := range registry.Tradable() {
		books[sym] = orderbook.New(sym)
	}

	return &Engine{
		registry: registry,
		ledger:   l,
		books:    books,
		orderSeq: newSequencer(0),
		tradeSeq: newSequencer(0),
		now:      time.Now,
		logger:   logger,
	}
}

// OnTrade registers fn to receive every trade. Listeners run after the engine lock is
// released, on the submitting goroutine, and see trades in id order across all submits.
// A listener must not call back into the engine except for BalanceOf and Supply.
func (e *Engine) OnTrade(fn func(Trade)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// ResumeIDs continues trade and order numbering after the given ids, e.g. from a restored
// journal. It must be called before the first submit.
func (e *Engine) ResumeIDs(lastTrade, lastOrder uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if lastTrade > e.tradeSeq.Current() {
		e.tradeSeq = newSequencer(lastTrade)
	}
	if lastOrder > e.orderSeq.Current() {
		e.orderSeq = newSequencer(lastOrder)
	}
}

// Registry returns the asset registry the engine was built with
func (e *Engine) Registry() *asset.Registry {
	return e.registry
}

// Credit adds externally deposited value to a trader's balance
func (e *Engine) Credit(trader common.Address, sym asset.Symbol, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Credit(trader, sym, amount)
}

// Debit removes value from a trader's balance ahead of an external withdrawal
func (e *Engine) Debit(trader common.Address, sym asset.Symbol, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Debit(trader, sym, amount)
}

// Supply returns the total value credited into the ledger for sym and not yet withdrawn
func (e *Engine) Supply(sym asset.Symbol) *uint256.Int {
	return e.ledger.Supply(sym)
}

// BalanceOf returns the ledger balance of trader in sym
func (e *Engine) BalanceOf(trader common.Address, sym asset.Symbol) *uint256.Int {
	return e.ledger.BalanceOf(trader, sym)
}

// Orders returns a snapshot of one side of an asset's book in priority order
func (e *Engine) Orders(sym asset.Symbol, side orderbook.Side) ([]orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, err := e.bookLocked(sym)
	if err != nil {
		return nil, err
	}
	return book.Snapshot(side), nil
}

// Levels returns aggregated depth of one side of an asset's book
func (e *Engine) Levels(sym asset.Symbol, side orderbook.Side) ([]orderbook.PriceLevel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, err := e.bookLocked(sym)
	if err != nil {
		return nil, err
	}
	return book.Levels(side), nil
}

// Submit validates, matches and then rests (limit) or discards (market) an order.
//
// A validation failure returns before any state changes. A market order that runs out of
// book or of the taker's funds is not an error: the unfilled part is dropped.
func (e *Engine) Submit(req Request) (*Result, error) {
	e.mu.Lock()
	res, err := e.submitLocked(req)
	listeners := e.listeners
	e.dispatch.Lock()
	e.mu.Unlock()
	defer e.dispatch.Unlock()

	if res != nil {
		for _, t := range res.Trades {
			for _, fn := range listeners {
				fn(t)
			}
		}
	}
	return res, err
}

func (e *Engine) submitLocked(req Request) (*Result, error) {
	book, err := e.bookLocked(req.Asset)
	if err != nil {
		return nil, err
	}
	if err := e.validateLocked(req); err != nil {
		e.logger.Info("order rejected",
			zap.String("trader", req.Trader.Hex()),
			zap.String("asset", string(req.Asset)),
			zap.Stringer("side", req.Side),
			zap.Stringer("kind", req.Kind),
			zap.Error(err))
		return nil, err
	}

	taker := &orderbook.Order{
		ID:        e.orderSeq.Next(),
		Trader:    req.Trader,
		Asset:     req.Asset,
		Side:      req.Side,
		CreatedAt: e.now().UnixMilli(),
	}
	taker.Amount.Set(req.Amount)
	if req.Kind == Limit {
		taker.Price.Set(req.Price)
	}

	res := &Result{Kind: req.Kind}
	matchErr := e.matchLocked(book, taker, req.Kind, res)

	if matchErr == nil && req.Kind == Limit && !taker.IsFilled() {
		if err := book.Insert(taker); err != nil {
			matchErr = fmt.Errorf("failed to rest order %d: %w", taker.ID, err)
		} else {
			res.Rested = true
		}
	}

	res.Order = *taker
	e.logger.Debug("order processed",
		zap.Uint64("order_id", taker.ID),
		zap.String("asset", string(req.Asset)),
		zap.Stringer("side", req.Side),
		zap.Stringer("kind", req.Kind),
		zap.String("filled", taker.Filled.Dec()),
		zap.Int("trades", len(res.Trades)),
		zap.Bool("rested", res.Rested))

	return res, matchErr
}

func (e *Engine) bookLocked(sym asset.Symbol) (*orderbook.OrderBook, error) {
	if _, err := e.registry.Resolve(sym); err != nil {
		return nil, err
	}
	if e.registry.IsBase(sym) {
		return nil, fmt.Errorf("%w: %s", ErrBaseAssetNotTradable, sym)
	}
	return e.books[sym], nil
}

func (e *Engine) validateLocked(req Request) error {
	if !req.Side.Valid() {
		return fmt.Errorf("%w: side %d", ErrInvalidOrder, req.Side)
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}

	var notional *uint256.Int
	switch req.Kind {
	case Limit:
		if req.Price == nil || req.Price.IsZero() {
			return fmt.Errorf("%w: limit price must be positive", ErrInvalidOrder)
		}
		n, overflow := new(uint256.Int).MulOverflow(req.Amount, req.Price)
		if overflow {
			return fmt.Errorf("%w: %s * %s", ErrOverflow, req.Amount.Dec(), req.Price.Dec())
		}
		notional = n
	case Market:
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidOrder, req.Kind)
	}

	if req.Side == orderbook.Sell {
		if bal := e.ledger.BalanceOf(req.Trader, req.Asset); bal.Lt(req.Amount) {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAssetBalance, bal.Dec(), req.Amount.Dec())
		}
		return nil
	}

	// A market buy's cost is only known while walking the book; it is checked per fill.
	if req.Kind == Limit {
		if bal := e.ledger.BalanceOf(req.Trader, e.registry.Base()); bal.Lt(notional) {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBaseBalance, bal.Dec(), notional.Dec())
		}
	}
	return nil
}

// matchLocked walks the opposing side under price/time priority, settling each fill.
func (e *Engine) matchLocked(book *orderbook.OrderBook, taker *orderbook.Order, kind Kind, res *Result) error {
	base := e.registry.Base()

	for !taker.IsFilled() {
		maker, ok := book.Best(taker.Side.Opposite())
		if !ok {
			break
		}
		if kind == Limit && !crosses(taker, maker) {
			break
		}

		qty := taker.Remaining()
		if rem := maker.Remaining(); rem.Lt(qty) {
			qty = rem
		}
		cost, overflow := new(uint256.Int).MulOverflow(qty, &maker.Price)

		last := false
		if taker.Side == orderbook.Buy && kind == Market {
			bal := e.ledger.BalanceOf(taker.Trader, base)
			if overflow || bal.Lt(cost) {
				qty = new(uint256.Int).Div(bal, &maker.Price)
				if qty.IsZero() {
					break
				}
				cost.Mul(qty, &maker.Price)
				overflow = false
				last = true
			}
		}
		if overflow {
			return fmt.Errorf("%w: fill %s * %s", ErrOverflow, qty.Dec(), maker.Price.Dec())
		}

		if !e.makerCanSettle(maker, qty, cost) {
			book.Remove(maker)
			res.Evicted = append(res.Evicted, maker.ID)
			e.logger.Warn("evicting unfunded maker order",
				zap.Uint64("order_id", maker.ID),
				zap.String("trader", maker.Trader.Hex()),
				zap.String("asset", string(maker.Asset)))
			continue
		}

		buyer, seller := taker.Trader, maker.Trader
		if taker.Side == orderbook.Sell {
			buyer, seller = maker.Trader, taker.Trader
		}
		if err := e.ledger.Apply(
			ledger.Transfer{From: buyer, To: seller, Asset: base, Amount: cost},
			ledger.Transfer{From: seller, To: buyer, Asset: taker.Asset, Amount: qty},
		); err != nil {
			return fmt.Errorf("failed to settle order %d against %d: %w", taker.ID, maker.ID, err)
		}

		taker.Fill(qty)
		maker.Fill(qty)
		book.RemoveIfFilled(maker)

		t := Trade{
			ID:           e.tradeSeq.Next(),
			Asset:        taker.Asset,
			TakerOrderID: taker.ID,
			MakerOrderID: maker.ID,
			Taker:        taker.Trader,
			Maker:        maker.Trader,
			Side:         taker.Side,
			Timestamp:    e.now().UnixMilli(),
		}
		t.Amount.Set(qty)
		t.Price.Set(&maker.Price)
		res.Trades = append(res.Trades, t)

		if last {
			break
		}
	}
	return nil
}

// crosses reports whether a limit taker accepts the maker's price
func crosses(taker, maker *orderbook.Order) bool {
	if taker.Side == orderbook.Buy {
		return !taker.Price.Lt(&maker.Price)
	}
	return !taker.Price.Gt(&maker.Price)
}

// makerCanSettle checks the resting side of a fill. Resting orders hold no escrow, so the
// maker may have moved funds since the order was placed.
func (e *Engine) makerCanSettle(maker *orderbook.Order, qty, cost *uint256.Int) bool {
	if maker.Side == orderbook.Buy {
		return !e.ledger.BalanceOf(maker.Trader, e.registry.Base()).Lt(cost)
	}
	return !e.ledger.BalanceOf(maker.Trader, maker.Asset).Lt(qty)
}
