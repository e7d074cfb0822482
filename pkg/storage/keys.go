package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

// Key schema:
//
//	bal:<address>:<symbol>   → balance record
//	trade:<symbol>:<id>      → trade record
//	nonce:<address>          → last accepted request nonce (decimal)
//
// Trade ids are zero-padded (20 digits) so a prefix scan returns trades in id order.
const (
	prefixBalance = "bal:"
	prefixTrade   = "trade:"
	prefixNonce   = "nonce:"
)

// balanceKey returns the key for one balance entry
// Format: "bal:{address}:{symbol}"
func balanceKey(trader common.Address, sym asset.Symbol) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, trader.Hex(), sym))
}

func nonceKey(trader common.Address) []byte {
	return []byte(prefixNonce + trader.Hex())
}

func tradeKey(sym asset.Symbol, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, sym, id))
}

// tradePrefix returns the prefix for all trades of an asset
// Format: "trade:{symbol}:"
func tradePrefix(sym asset.Symbol) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, sym))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
