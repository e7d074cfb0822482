package asset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownAsset is returned when a symbol is not in the registry
var ErrUnknownAsset = errors.New("unknown asset")

// Symbol identifies an asset (e.g., "DAI", "BAT")
type Symbol string

// Asset maps a symbol to its external token handle
type Asset struct {
	Symbol   Symbol         // Ticker used by traders
	Token    common.Address // Token contract handle on the custody side
	Decimals int32          // Smallest-unit exponent, display only
}

// Registry is an immutable snapshot of the tradable assets.
// It is built once at startup and shared by reference; lookups need no locking.
type Registry struct {
	base   Symbol
	assets map[Symbol]Asset
	order  []Symbol // registration order
}

// NewRegistry builds a registry. The base asset must be among the given assets.
func NewRegistry(base Symbol, assets ...Asset) (*Registry, error) {
	r := &Registry{
		base:   base,
		assets: make(map[Symbol]Asset, len(assets)),
	}

	for _, a := range assets {
		if a.Symbol == "" {
			return nil, fmt.Errorf("asset with empty symbol")
		}
		if _, exists := r.assets[a.Symbol]; exists {
			return nil, fmt.Errorf("asset %s already registered", a.Symbol)
		}
		r.assets[a.Symbol] = a
		r.order = append(r.order, a.Symbol)
	}

	if _, ok := r.assets[base]; !ok {
		return nil, fmt.Errorf("base asset %s not registered", base)
	}

	return r, nil
}

// Resolve returns the asset registered under symbol
func (r *Registry) Resolve(symbol Symbol) (Asset, error) {
	a, ok := r.assets[symbol]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return a, nil
}

// IsBase reports whether symbol is the base (quote) asset
func (r *Registry) IsBase(symbol Symbol) bool {
	return symbol == r.base
}

// Base returns the base asset symbol
func (r *Registry) Base() Symbol {
	return r.base
}

// Exists checks if an asset is registered
func (r *Registry) Exists(symbol Symbol) bool {
	_, ok := r.assets[symbol]
	return ok
}

// List returns all assets in registration order
func (r *Registry) List() []Asset {
	out := make([]Asset, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, r.assets[s])
	}
	return out
}

// Tradable returns the non-base assets sorted by symbol
func (r *Registry) Tradable() []Symbol {
	out := make([]Symbol, 0, len(r.assets))
	for s := range r.assets {
		if s != r.base {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of registered assets
func (r *Registry) Count() int {
	return len(r.assets)
}
