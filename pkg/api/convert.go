package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/matching"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/dex"
)

// formatter renders smallest-unit amounts with each asset's decimals
type formatter struct {
	decimals map[asset.Symbol]int32
}

func newFormatter(assets []dex.AssetInfo) formatter {
	f := formatter{decimals: make(map[asset.Symbol]int32, len(assets))}
	for _, a := range assets {
		f.decimals[a.Symbol] = a.Decimals
	}
	return f
}

func (f formatter) display(sym asset.Symbol, v *uint256.Int) string {
	return decimal.NewFromBigInt(v.ToBig(), -f.decimals[sym]).String()
}

func (f formatter) order(o orderbook.Order) OrderInfo {
	rem := o.Remaining()
	return OrderInfo{
		ID:               strconv.FormatUint(o.ID, 10),
		Trader:           o.Trader.Hex(),
		Symbol:           string(o.Asset),
		Side:             o.Side.String(),
		Price:            o.Price.Dec(),
		Amount:           o.Amount.Dec(),
		Filled:           o.Filled.Dec(),
		Remaining:        rem.Dec(),
		AmountDisplay:    f.display(o.Asset, &o.Amount),
		RemainingDisplay: f.display(o.Asset, rem),
		Timestamp:        o.CreatedAt,
	}
}

func (f formatter) trade(t matching.Trade) TradeInfo {
	return TradeInfo{
		ID:            strconv.FormatUint(t.ID, 10),
		Symbol:        string(t.Asset),
		TakerOrderID:  strconv.FormatUint(t.TakerOrderID, 10),
		MakerOrderID:  strconv.FormatUint(t.MakerOrderID, 10),
		Taker:         t.Taker.Hex(),
		Maker:         t.Maker.Hex(),
		Side:          t.Side.String(),
		Price:         t.Price.Dec(),
		Amount:        t.Amount.Dec(),
		AmountDisplay: f.display(t.Asset, &t.Amount),
		Timestamp:     t.Timestamp,
	}
}

func (f formatter) trades(ts []matching.Trade) []TradeInfo {
	out := make([]TradeInfo, 0, len(ts))
	for _, t := range ts {
		out = append(out, f.trade(t))
	}
	return out
}

func (f formatter) result(res *matching.Result) OrderResult {
	out := OrderResult{
		Order:  f.order(res.Order),
		Kind:   res.Kind.String(),
		Trades: f.trades(res.Trades),
		Rested: res.Rested,
	}
	for _, id := range res.Evicted {
		out.Evicted = append(out.Evicted, strconv.FormatUint(id, 10))
	}
	return out
}

func levels(ls []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(ls))
	for _, l := range ls {
		out = append(out, PriceLevel{Price: l.Price.Dec(), Size: l.Qty.Dec(), Orders: l.Orders})
	}
	return out
}

func parseSide(s string) (orderbook.Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return orderbook.Buy, nil
	case "sell":
		return orderbook.Sell, nil
	default:
		return 0, fmt.Errorf("side must be buy or sell, got %q", s)
	}
}

func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return v, nil
}
