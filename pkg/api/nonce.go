package api

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrStaleNonce is returned for a request whose nonce is not above the trader's last accepted one
var ErrStaleNonce = errors.New("nonce already used")

// NonceStore persists the last accepted request nonce per trader
type NonceStore interface {
	SaveNonce(trader common.Address, nonce uint64) error
	LoadNonces() (map[common.Address]uint64, error)
}

// nonceTracker enforces strictly increasing nonces per trader.
// A nonce is consumed once the signature checks out, even if the request then fails.
type nonceTracker struct {
	mu    sync.Mutex
	last  map[common.Address]uint64
	store NonceStore // optional
}

func newNonceTracker(store NonceStore) (*nonceTracker, error) {
	t := &nonceTracker{last: make(map[common.Address]uint64), store: store}
	if store == nil {
		return t, nil
	}
	last, err := store.LoadNonces()
	if err != nil {
		return nil, fmt.Errorf("failed to load nonces: %w", err)
	}
	for trader, n := range last {
		t.last[trader] = n
	}
	return t, nil
}

// use records nonce for trader, failing if it does not advance
func (t *nonceTracker) use(trader common.Address, nonce uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[trader]; ok && nonce <= last {
		return fmt.Errorf("%w: got %d, last %d", ErrStaleNonce, nonce, last)
	}
	if t.store != nil {
		if err := t.store.SaveNonce(trader, nonce); err != nil {
			return fmt.Errorf("failed to save nonce: %w", err)
		}
	}
	t.last[trader] = nonce
	return nil
}
