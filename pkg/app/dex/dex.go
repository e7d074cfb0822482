package dex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gammazero/deque"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/matching"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/custody"
)

// ErrWithdrawFailed is returned when the custody push could not complete and the
// ledger debit was reverted
var ErrWithdrawFailed = errors.New("withdraw failed")

type Options struct {
	RecentTrades    int           // per-asset trade history kept in memory
	WithdrawRetries uint64        // custody push retries after the first attempt
	RetryInterval   time.Duration // initial backoff interval
}

func DefaultOptions() Options {
	return Options{
		RecentTrades:    100,
		WithdrawRetries: 3,
		RetryInterval:   100 * time.Millisecond,
	}
}

// AssetInfo describes a registered asset for listing
type AssetInfo struct {
	Symbol   asset.Symbol
	Token    common.Address
	Decimals int32
	Base     bool
}

// Dex is the venue's exposed surface: value moves in and out through a custody rail,
// and orders go through the matching engine. Every mutation is keyed to the calling trader.
type Dex struct {
	engine   *matching.Engine
	registry *asset.Registry
	rail     custody.Rail
	opts     Options
	logger   *zap.Logger

	recentMu sync.Mutex
	recent   map[asset.Symbol]*deque.Deque[matching.Trade]
}

func New(engine *matching.Engine, rail custody.Rail, opts Options, logger *zap.Logger) *Dex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RecentTrades <= 0 {
		opts.RecentTrades = DefaultOptions().RecentTrades
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultOptions().RetryInterval
	}

	d := &Dex{
		engine:   engine,
		registry: engine.Registry(),
		rail:     rail,
		opts:     opts,
		logger:   logger,
		recent:   make(map[asset.Symbol]*deque.Deque[matching.Trade]),
	}
	engine.OnTrade(d.recordTrade)
	return d
}

// Deposit pulls amount from the trader's wallet into custody, then credits the ledger
func (d *Dex) Deposit(ctx context.Context, trader common.Address, sym asset.Symbol, amount *uint256.Int) error {
	a, err := d.registry.Resolve(sym)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ledger.ErrInvalidAmount
	}

	if err := d.rail.Pull(ctx, trader, a.Token, amount); err != nil {
		return fmt.Errorf("failed to pull %s from %s: %w", sym, trader.Hex(), err)
	}
	if err := d.engine.Credit(trader, sym, amount); err != nil {
		// return the funds; the ledger never saw them
		if perr := d.rail.Push(context.WithoutCancel(ctx), trader, a.Token, amount); perr != nil {
			d.logger.Error("failed to refund rejected deposit",
				zap.String("trader", trader.Hex()),
				zap.String("asset", string(sym)),
				zap.String("amount", amount.Dec()),
				zap.Error(perr))
		}
		return err
	}

	d.logger.Info("deposit",
		zap.String("trader", trader.Hex()),
		zap.String("asset", string(sym)),
		zap.String("amount", amount.Dec()))
	return nil
}

// Withdraw debits the ledger first, then pushes value out through the rail.
// The push is retried with exponential backoff; if it still fails the debit is reverted.
func (d *Dex) Withdraw(ctx context.Context, trader common.Address, sym asset.Symbol, amount *uint256.Int) error {
	a, err := d.registry.Resolve(sym)
	if err != nil {
		return err
	}
	if err := d.engine.Debit(trader, sym, amount); err != nil {
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.opts.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, d.opts.WithdrawRetries), ctx)

	attempts := 0
	pushErr := backoff.Retry(func() error {
		attempts++
		err := d.rail.Push(ctx, trader, a.Token, amount)
		if err != nil {
			d.logger.Warn("custody push failed",
				zap.String("trader", trader.Hex()),
				zap.String("asset", string(sym)),
				zap.Int("attempt", attempts),
				zap.Error(err))
		}
		return err
	}, policy)
	if pushErr == nil {
		d.logger.Info("withdraw",
			zap.String("trader", trader.Hex()),
			zap.String("asset", string(sym)),
			zap.String("amount", amount.Dec()))
		return nil
	}

	if err := d.engine.Credit(trader, sym, amount); err != nil {
		d.logger.Error("failed to revert withdraw debit",
			zap.String("trader", trader.Hex()),
			zap.String("asset", string(sym)),
			zap.String("amount", amount.Dec()),
			zap.Error(err))
		return fmt.Errorf("%w: push: %v; revert: %w", ErrWithdrawFailed, pushErr, err)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrWithdrawFailed, attempts, pushErr)
}

func (d *Dex) CreateLimitOrder(trader common.Address, sym asset.Symbol, amount, price *uint256.Int, side orderbook.Side) (*matching.Result, error) {
	return d.engine.Submit(matching.Request{
		Trader: trader,
		Asset:  sym,
		Side:   side,
		Kind:   matching.Limit,
		Amount: amount,
		Price:  price,
	})
}

func (d *Dex) CreateMarketOrder(trader common.Address, sym asset.Symbol, amount *uint256.Int, side orderbook.Side) (*matching.Result, error) {
	return d.engine.Submit(matching.Request{
		Trader: trader,
		Asset:  sym,
		Side:   side,
		Kind:   matching.Market,
		Amount: amount,
	})
}

// GetOrders returns one side of an asset's book in priority order
func (d *Dex) GetOrders(sym asset.Symbol, side orderbook.Side) ([]orderbook.Order, error) {
	return d.engine.Orders(sym, side)
}

func (d *Dex) Depth(sym asset.Symbol, side orderbook.Side) ([]orderbook.PriceLevel, error) {
	return d.engine.Levels(sym, side)
}

// BalanceOf returns the trader's ledger balance; the asset must be registered
func (d *Dex) BalanceOf(trader common.Address, sym asset.Symbol) (*uint256.Int, error) {
	if _, err := d.registry.Resolve(sym); err != nil {
		return nil, err
	}
	return d.engine.BalanceOf(trader, sym), nil
}

// Assets lists registered assets in registration order
func (d *Dex) Assets() []AssetInfo {
	list := d.registry.List()
	out := make([]AssetInfo, 0, len(list))
	for _, a := range list {
		out = append(out, AssetInfo{
			Symbol:   a.Symbol,
			Token:    a.Token,
			Decimals: a.Decimals,
			Base:     d.registry.IsBase(a.Symbol),
		})
	}
	return out
}

// RecentTrades returns up to limit of the latest trades of an asset, newest first
func (d *Dex) RecentTrades(sym asset.Symbol, limit int) ([]matching.Trade, error) {
	if _, err := d.registry.Resolve(sym); err != nil {
		return nil, err
	}
	if d.registry.IsBase(sym) {
		return nil, fmt.Errorf("%w: %s", matching.ErrBaseAssetNotTradable, sym)
	}

	d.recentMu.Lock()
	defer d.recentMu.Unlock()

	q, ok := d.recent[sym]
	if !ok {
		return nil, nil
	}
	n := q.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]matching.Trade, 0, n)
	for i := q.Len() - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, q.At(i))
	}
	return out, nil
}

// SeedCustody credits v with the ledger supply of every asset, so balances restored from
// storage can be withdrawn from a freshly built vault
func (d *Dex) SeedCustody(v *custody.Vault) error {
	for _, a := range d.registry.List() {
		supply := d.engine.Supply(a.Symbol)
		if supply.IsZero() {
			continue
		}
		if err := v.Seed(a.Token, supply); err != nil {
			return fmt.Errorf("failed to seed custody for %s: %w", a.Symbol, err)
		}
		d.logger.Info("custody seeded",
			zap.String("asset", string(a.Symbol)),
			zap.String("held", supply.Dec()))
	}
	return nil
}

// Restore seeds the recent-trades buffer, e.g. from the trade journal at startup.
// Trades may arrive in any order per asset; they are kept in id order.
func (d *Dex) Restore(trades []matching.Trade) {
	byAsset := make(map[asset.Symbol][]matching.Trade)
	for _, t := range trades {
		byAsset[t.Asset] = append(byAsset[t.Asset], t)
	}
	for _, ts := range byAsset {
		// journal reads come back newest first
		if len(ts) > 1 && ts[0].ID > ts[len(ts)-1].ID {
			for i, j := 0, len(ts)-1; i < j; i, j = i+1, j-1 {
				ts[i], ts[j] = ts[j], ts[i]
			}
		}
		for _, t := range ts {
			d.recordTrade(t)
		}
	}
}

func (d *Dex) recordTrade(t matching.Trade) {
	d.recentMu.Lock()
	defer d.recentMu.Unlock()

	q, ok := d.recent[t.Asset]
	if !ok {
		q = &deque.Deque[matching.Trade]{}
		d.recent[t.Asset] = q
	}
	q.PushBack(t)
	for q.Len() > d.opts.RecentTrades {
		q.PopFront()
	}
}
