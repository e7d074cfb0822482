package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrInsufficientFunds = errors.New("insufficient wallet funds")

// Rail moves tokens between a trader's external wallet and the venue.
// Pull takes funds into custody for a deposit; Push releases them for a withdrawal.
type Rail interface {
	Pull(ctx context.Context, trader, token common.Address, amount *uint256.Int) error
	Push(ctx context.Context, trader, token common.Address, amount *uint256.Int) error
}

// Vault is an in-memory token custodian used by devnets and tests.
// Each token keeps per-wallet balances plus the amount held by the venue.
type Vault struct {
	mu      sync.Mutex
	wallets map[common.Address]map[common.Address]*uint256.Int // token -> wallet -> balance
	held    map[common.Address]*uint256.Int                    // token -> venue custody
}

func NewVault() *Vault {
	return &Vault{
		wallets: make(map[common.Address]map[common.Address]*uint256.Int),
		held:    make(map[common.Address]*uint256.Int),
	}
}

var _ Rail = (*Vault)(nil)

// Faucet mints amount of token into a wallet
func (v *Vault) Faucet(trader, token common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.walletLocked(token, trader)
	if _, overflow := bal.AddOverflow(bal, amount); overflow {
		return fmt.Errorf("faucet overflow for %s", token.Hex())
	}
	return nil
}

// Seed adds amount of token to the venue's custody holdings without touching any wallet.
// A node restarting from a persisted ledger uses it to restore what custody already holds.
func (v *Vault) Seed(token common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.heldLocked(token)
	if _, overflow := held.AddOverflow(held, amount); overflow {
		return fmt.Errorf("custody overflow for %s", token.Hex())
	}
	return nil
}

// WalletBalance returns a copy of a wallet's token balance
func (v *Vault) WalletBalance(trader, token common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.walletLocked(token, trader))
}

// Held returns how much of token the venue holds in custody
func (v *Vault) Held(token common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.heldLocked(token))
}

func (v *Vault) Pull(ctx context.Context, trader, token common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.walletLocked(token, trader)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: wallet %s has %s, need %s", ErrInsufficientFunds, trader.Hex(), bal.Dec(), amount.Dec())
	}
	bal.Sub(bal, amount)
	held := v.heldLocked(token)
	held.Add(held, amount)
	return nil
}

func (v *Vault) Push(ctx context.Context, trader, token common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.heldLocked(token)
	if held.Lt(amount) {
		return fmt.Errorf("%w: custody holds %s of %s, need %s", ErrInsufficientFunds, held.Dec(), token.Hex(), amount.Dec())
	}
	held.Sub(held, amount)
	bal := v.walletLocked(token, trader)
	bal.Add(bal, amount)
	return nil
}

func (v *Vault) walletLocked(token, trader common.Address) *uint256.Int {
	w, ok := v.wallets[token]
	if !ok {
		w = make(map[common.Address]*uint256.Int)
		v.wallets[token] = w
	}
	bal, ok := w[trader]
	if !ok {
		bal = new(uint256.Int)
		w[trader] = bal
	}
	return bal
}

func (v *Vault) heldLocked(token common.Address) *uint256.Int {
	h, ok := v.held[token]
	if !ok {
		h = new(uint256.Int)
		v.held[token] = h
	}
	return h
}
