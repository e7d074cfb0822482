package events

import (
	"encoding/json"
	"strconv"

	"github.com/uhyunpark/hyperdex/pkg/app/core/matching"
)

// TradeEvent is the wire form of a trade. Amounts are decimal strings of smallest units.
type TradeEvent struct {
	ID           string `json:"id"`
	Asset        string `json:"asset"`
	TakerOrderID string `json:"takerOrderId"`
	MakerOrderID string `json:"makerOrderId"`
	Taker        string `json:"taker"`
	Maker        string `json:"maker"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	Timestamp    int64  `json:"timestamp"`
}

func NewTradeEvent(t matching.Trade) TradeEvent {
	return TradeEvent{
		ID:           strconv.FormatUint(t.ID, 10),
		Asset:        string(t.Asset),
		TakerOrderID: strconv.FormatUint(t.TakerOrderID, 10),
		MakerOrderID: strconv.FormatUint(t.MakerOrderID, 10),
		Taker:        t.Taker.Hex(),
		Maker:        t.Maker.Hex(),
		Side:         t.Side.String(),
		Amount:       t.Amount.Dec(),
		Price:        t.Price.Dec(),
		Timestamp:    t.Timestamp,
	}
}

func (e TradeEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
