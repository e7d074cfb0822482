package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/matching"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// PebbleStore persists ledger balances and the trade journal
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

var _ ledger.Store = (*PebbleStore)(nil)

// balanceRecord is the stored form of a ledger entry. Amounts are decimal strings.
type balanceRecord struct {
	Trader  string `json:"trader"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// SaveBalances writes all entries in one synced batch
func (s *PebbleStore) SaveBalances(entries []ledger.Entry) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, e := range entries {
		data, err := json.Marshal(balanceRecord{
			Trader:  e.Trader.Hex(),
			Asset:   string(e.Asset),
			Balance: e.Balance.Dec(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal balance: %w", err)
		}
		if err := batch.Set(balanceKey(e.Trader, e.Asset), data, nil); err != nil {
			return fmt.Errorf("failed to stage balance: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit balances: %w", err)
	}
	return nil
}

// LoadBalances returns every stored balance entry
func (s *PebbleStore) LoadBalances() ([]ledger.Entry, error) {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open balance iterator: %w", err)
	}
	defer iter.Close()

	var entries []ledger.Entry
	for iter.First(); iter.Valid(); iter.Next() {
		var rec balanceRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal balance %q: %w", iter.Key(), err)
		}
		bal, err := uint256.FromDecimal(rec.Balance)
		if err != nil {
			return nil, fmt.Errorf("bad balance %q at %q: %w", rec.Balance, iter.Key(), err)
		}
		entries = append(entries, ledger.Entry{
			Trader:  common.HexToAddress(rec.Trader),
			Asset:   asset.Symbol(rec.Asset),
			Balance: bal,
		})
	}
	return entries, iter.Error()
}

type tradeRecord struct {
	ID           uint64 `json:"id"`
	Asset        string `json:"asset"`
	TakerOrderID uint64 `json:"takerOrderId"`
	MakerOrderID uint64 `json:"makerOrderId"`
	Taker        string `json:"taker"`
	Maker        string `json:"maker"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	Timestamp    int64  `json:"timestamp"`
}

// SaveNonce records the last accepted request nonce of a trader
func (s *PebbleStore) SaveNonce(trader common.Address, nonce uint64) error {
	if err := s.db.Set(nonceKey(trader), []byte(strconv.FormatUint(nonce, 10)), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

// LoadNonces returns every stored trader nonce
func (s *PebbleStore) LoadNonces() (map[common.Address]uint64, error) {
	prefix := []byte(prefixNonce)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open nonce iterator: %w", err)
	}
	defer iter.Close()

	nonces := make(map[common.Address]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		addr := strings.TrimPrefix(string(iter.Key()), prefixNonce)
		if !common.IsHexAddress(addr) {
			continue
		}
		n, err := strconv.ParseUint(string(iter.Value()), 10, 64)
		if err != nil {
			continue
		}
		nonces[common.HexToAddress(addr)] = n
	}
	return nonces, iter.Error()
}

// SaveTrade appends a trade to the journal
func (s *PebbleStore) SaveTrade(t matching.Trade) error {
	data, err := json.Marshal(tradeRecord{
		ID:           t.ID,
		Asset:        string(t.Asset),
		TakerOrderID: t.TakerOrderID,
		MakerOrderID: t.MakerOrderID,
		Taker:        t.Taker.Hex(),
		Maker:        t.Maker.Hex(),
		Side:         t.Side.String(),
		Amount:       t.Amount.Dec(),
		Price:        t.Price.Dec(),
		Timestamp:    t.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	// trades are a journal, balances are the source of truth
	if err := s.db.Set(tradeKey(t.Asset, t.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// LoadRecentTrades returns up to limit trades of an asset, newest first
func (s *PebbleStore) LoadRecentTrades(sym asset.Symbol, limit int) ([]matching.Trade, error) {
	prefix := tradePrefix(sym)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []matching.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var rec tradeRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // skip invalid entries
		}
		t, err := rec.trade()
		if err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}

// LastIDs returns the highest trade id and the highest order id in the journal across all
// assets, so numbering can continue after a restart without reusing either.
func (s *PebbleStore) LastIDs() (lastTrade, lastOrder uint64, err error) {
	prefix := []byte(prefixTrade)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, 0, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec tradeRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		lastTrade = max(lastTrade, rec.ID)
		lastOrder = max(lastOrder, rec.TakerOrderID, rec.MakerOrderID)
	}
	return lastTrade, lastOrder, iter.Error()
}

func (r tradeRecord) trade() (matching.Trade, error) {
	amount, err := uint256.FromDecimal(r.Amount)
	if err != nil {
		return matching.Trade{}, err
	}
	price, err := uint256.FromDecimal(r.Price)
	if err != nil {
		return matching.Trade{}, err
	}
	side := orderbook.Buy
	switch r.Side {
	case "buy":
	case "sell":
		side = orderbook.Sell
	default:
		return matching.Trade{}, errors.New("unknown side " + r.Side)
	}

	t := matching.Trade{
		ID:           r.ID,
		Asset:        asset.Symbol(r.Asset),
		TakerOrderID: r.TakerOrderID,
		MakerOrderID: r.MakerOrderID,
		Taker:        common.HexToAddress(r.Taker),
		Maker:        common.HexToAddress(r.Maker),
		Side:         side,
		Timestamp:    r.Timestamp,
	}
	t.Amount.Set(amount)
	t.Price.Set(price)
	return t, nil
}
