package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/goods-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]*model.MarketItem
	holdings map[string]*model.Holding // owner|symbol → holding
	receipts []model.TradeReceipt
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:    make(map[string]*model.MarketItem),
		holdings: make(map[string]*model.Holding),
	}
}

func holdingKey(owner, symbol string) string { return owner + "|" + symbol }

func (s *MemoryStore) CreateItem(_ context.Context, item *model.MarketItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.Symbol]; exists {
		return fmt.Errorf("item %s already exists", item.Symbol)
	}

	// Store a copy to avoid external mutation.
	cp := *item
	cp.History = append([]model.PricePoint(nil), item.History...)
	s.items[item.Symbol] = &cp
	return nil
}

func (s *MemoryStore) GetItem(_ context.Context, symbol string) (*model.MarketItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[symbol]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", symbol, ErrNotFound)
	}
	cp := *it
	cp.History = nil
	return &cp, nil
}

// GetItemFresh is identical to GetItem: there is no cache layer here.
func (s *MemoryStore) GetItemFresh(ctx context.Context, symbol string) (*model.MarketItem, error) {
	return s.GetItem(ctx, symbol)
}

func (s *MemoryStore) ListItems(_ context.Context) ([]model.MarketItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]model.MarketItem, 0, len(s.items))
	for _, it := range s.items {
		cp := *it
		cp.History = nil
		items = append(items, cp)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Symbol < items[j].Symbol })
	return items, nil
}

func (s *MemoryStore) SetItemEnabled(_ context.Context, symbol string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[symbol]
	if !ok {
		return fmt.Errorf("item %s: %w", symbol, ErrNotFound)
	}
	it.Enabled = enabled
	return nil
}

func (s *MemoryStore) RecordActivity(_ context.Context, symbol string, demandDelta, supplyDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[symbol]
	if !ok {
		return fmt.Errorf("item %s: %w", symbol, ErrNotFound)
	}
	it.Demand += demandDelta
	it.Supply += supplyDelta
	return nil
}

func (s *MemoryStore) CommitTick(_ context.Context, symbol string, price decimal.Decimal, at time.Time, retention int, demand, supply int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[symbol]
	if !ok {
		return fmt.Errorf("item %s: %w", symbol, ErrNotFound)
	}

	it.CurrentPrice = price
	it.History = append(it.History, model.PricePoint{Timestamp: at, Price: price})
	if retention > 0 && len(it.History) > retention {
		it.History = append([]model.PricePoint(nil), it.History[len(it.History)-retention:]...)
	}

	if demand != 0 || supply != 0 {
		it.LastDemand = demand
		it.LastSupply = supply
	}
	// Subtract only what this tick priced; increments that landed
	// after the engine's read stay for the next tick.
	it.Demand -= demand
	it.Supply -= supply
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, symbol string, limit int) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[symbol]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", symbol, ErrNotFound)
	}

	points := it.History
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	return append([]model.PricePoint(nil), points...), nil
}

func (s *MemoryStore) GetHolding(_ context.Context, owner, symbol string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey(owner, symbol)]
	if !ok {
		return nil, fmt.Errorf("holding %s/%s: %w", owner, symbol, ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, owner string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Holding
	for _, h := range s.holdings {
		if h.Owner == owner {
			result = append(result, *h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// ListHoldingsFresh is identical to ListHoldings: there is no cache
// layer here.
func (s *MemoryStore) ListHoldingsFresh(ctx context.Context, owner string) ([]model.Holding, error) {
	return s.ListHoldings(ctx, owner)
}

func (s *MemoryStore) PutHolding(_ context.Context, h *model.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *h
	s.holdings[holdingKey(h.Owner, h.Symbol)] = &cp
	return nil
}

func (s *MemoryStore) DeleteHolding(_ context.Context, owner, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.holdings, holdingKey(owner, symbol))
	return nil
}

func (s *MemoryStore) AppendReceipt(_ context.Context, r *model.TradeReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receipts = append(s.receipts, *r)
	return nil
}

func (s *MemoryStore) ListReceiptsByOwner(_ context.Context, owner string) ([]model.TradeReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeReceipt
	for _, r := range s.receipts {
		if r.Owner == owner {
			result = append(result, r)
		}
	}
	return result, nil
}
