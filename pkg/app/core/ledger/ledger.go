package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOverflow            = errors.New("amount overflow")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Key addresses one balance entry
type Key struct {
	Trader common.Address
	Asset  asset.Symbol
}

// Entry is a persisted balance
type Entry struct {
	Trader  common.Address
	Asset   asset.Symbol
	Balance *uint256.Int
}

// Store persists balance entries. SaveBalances must apply all entries or none.
type Store interface {
	SaveBalances(entries []Entry) error
	LoadBalances() ([]Entry, error)
}

// Transfer moves Amount of Asset from one trader to another inside the ledger
type Transfer struct {
	From   common.Address
	To     common.Address
	Asset  asset.Symbol
	Amount *uint256.Int
}

// Ledger maps (trader, asset) to a non-negative balance.
// Entries are created lazily on first credit and never deleted.
type Ledger struct {
	mu       sync.RWMutex
	registry *asset.Registry
	balances map[Key]*uint256.Int
	supply   map[asset.Symbol]*uint256.Int // external credits minus external debits
	store    Store                         // optional
	logger   *zap.Logger
}

// New creates a ledger, restoring balances from store when one is given
func New(registry *asset.Registry, store Store, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		registry: registry,
		balances: make(map[Key]*uint256.Int),
		supply:   make(map[asset.Symbol]*uint256.Int),
		store:    store,
		logger:   logger,
	}

	if store == nil {
		return l, nil
	}

	entries, err := store.LoadBalances()
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	for _, e := range entries {
		if !registry.Exists(e.Asset) {
			logger.Warn("skipping balance of unregistered asset",
				zap.String("trader", e.Trader.Hex()), zap.String("asset", string(e.Asset)))
			continue
		}
		l.balances[Key{e.Trader, e.Asset}] = new(uint256.Int).Set(e.Balance)
		s := l.supplyLocked(e.Asset)
		if _, overflow := s.AddOverflow(s, e.Balance); overflow {
			return nil, fmt.Errorf("%w: restored supply of %s", ErrOverflow, e.Asset)
		}
	}
	logger.Info("ledger restored", zap.Int("entries", len(l.balances)))

	return l, nil
}

// Credit increases a balance with value arriving from outside the ledger
func (l *Ledger) Credit(trader common.Address, sym asset.Symbol, amount *uint256.Int) error {
	if _, err := l.registry.Resolve(sym); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(trader, sym)
	newBal, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("%w: credit %s to %s", ErrOverflow, sym, trader.Hex())
	}
	supply := l.supplyLocked(sym)
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return fmt.Errorf("%w: supply of %s", ErrOverflow, sym)
	}

	if err := l.persistLocked(map[Key]*uint256.Int{{trader, sym}: newBal}); err != nil {
		return err
	}

	l.balances[Key{trader, sym}] = newBal
	l.supply[sym] = newSupply
	l.logger.Debug("credit", zap.String("trader", trader.Hex()), zap.String("asset", string(sym)),
		zap.String("amount", amount.Dec()))
	return nil
}

// Debit decreases a balance for value leaving the ledger.
// Fails with ErrInsufficientBalance and leaves state untouched if amount exceeds the balance.
func (l *Ledger) Debit(trader common.Address, sym asset.Symbol, amount *uint256.Int) error {
	if _, err := l.registry.Resolve(sym); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(trader, sym)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s %s, need %s", ErrInsufficientBalance,
			trader.Hex(), bal.Dec(), sym, amount.Dec())
	}

	newBal := new(uint256.Int).Sub(bal, amount)
	if err := l.persistLocked(map[Key]*uint256.Int{{trader, sym}: newBal}); err != nil {
		return err
	}

	l.balances[Key{trader, sym}] = newBal
	supply := l.supplyLocked(sym)
	l.supply[sym] = new(uint256.Int).Sub(supply, amount)
	l.logger.Debug("debit", zap.String("trader", trader.Hex()), zap.String("asset", string(sym)),
		zap.String("amount", amount.Dec()))
	return nil
}

// Apply executes transfers as one unit: either every transfer applies or none does.
// Transfers are evaluated in order, so a later transfer may spend what an earlier one credited.
func (l *Ledger) Apply(transfers ...Transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending := make(map[Key]*uint256.Int)
	get := func(k Key) *uint256.Int {
		if v, ok := pending[k]; ok {
			return v
		}
		v := new(uint256.Int).Set(l.balanceLocked(k.Trader, k.Asset))
		pending[k] = v
		return v
	}

	for _, t := range transfers {
		if !l.registry.Exists(t.Asset) {
			return fmt.Errorf("%w: %s", asset.ErrUnknownAsset, t.Asset)
		}
		if t.Amount == nil || t.Amount.IsZero() {
			continue
		}

		from := get(Key{t.From, t.Asset})
		if from.Lt(t.Amount) {
			return fmt.Errorf("%w: %s has %s %s, need %s", ErrInsufficientBalance,
				t.From.Hex(), from.Dec(), t.Asset, t.Amount.Dec())
		}
		from.Sub(from, t.Amount)

		to := get(Key{t.To, t.Asset})
		if _, overflow := to.AddOverflow(to, t.Amount); overflow {
			return fmt.Errorf("%w: transfer %s to %s", ErrOverflow, t.Asset, t.To.Hex())
		}
	}

	if err := l.persistLocked(pending); err != nil {
		return err
	}
	for k, v := range pending {
		l.balances[k] = v
	}
	return nil
}

// BalanceOf returns a copy of the balance; zero if the entry does not exist
func (l *Ledger) BalanceOf(trader common.Address, sym asset.Symbol) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.balanceLocked(trader, sym))
}

// Supply returns the total value credited from outside minus the total debited to outside
func (l *Ledger) Supply(sym asset.Symbol) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.supply[sym]; ok {
		return new(uint256.Int).Set(s)
	}
	return new(uint256.Int)
}

// Total sums every balance entry of an asset
func (l *Ledger) Total(sym asset.Symbol) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := new(uint256.Int)
	for k, v := range l.balances {
		if k.Asset == sym {
			total.Add(total, v)
		}
	}
	return total
}

// balanceLocked returns the stored pointer or a shared zero; callers must not mutate it
func (l *Ledger) balanceLocked(trader common.Address, sym asset.Symbol) *uint256.Int {
	if b, ok := l.balances[Key{trader, sym}]; ok {
		return b
	}
	return zero
}

func (l *Ledger) supplyLocked(sym asset.Symbol) *uint256.Int {
	s, ok := l.supply[sym]
	if !ok {
		s = new(uint256.Int)
		l.supply[sym] = s
	}
	return s
}

func (l *Ledger) persistLocked(changed map[Key]*uint256.Int) error {
	if l.store == nil || len(changed) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(changed))
	for k, v := range changed {
		entries = append(entries, Entry{Trader: k.Trader, Asset: k.Asset, Balance: v})
	}
	if err := l.store.SaveBalances(entries); err != nil {
		return fmt.Errorf("failed to persist balances: %w", err)
	}
	return nil
}

var zero = new(uint256.Int)
