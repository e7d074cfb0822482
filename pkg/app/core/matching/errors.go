package matching

import (
	"errors"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
)

var (
	ErrBaseAssetNotTradable     = errors.New("base asset cannot be traded")
	ErrInsufficientAssetBalance = errors.New("token balance too low")
	ErrInsufficientBaseBalance  = errors.New("base balance too low")
	ErrInvalidOrder             = errors.New("invalid order")

	// Re-exported so callers can match every submit failure against this package
	ErrUnknownAsset = asset.ErrUnknownAsset
	ErrOverflow     = ledger.ErrOverflow
)
