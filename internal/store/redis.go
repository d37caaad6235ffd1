package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/goods-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for item and holdings reads. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. Brief staleness on price display reads is acceptable.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateItem(ctx context.Context, it *model.MarketItem) error {
	if err := s.primary.CreateItem(ctx, it); err != nil {
		return err
	}
	s.cacheItem(ctx, it)
	return nil
}

func (s *CachedStore) SetItemEnabled(ctx context.Context, symbol string, enabled bool) error {
	if err := s.primary.SetItemEnabled(ctx, symbol, enabled); err != nil {
		return err
	}
	s.invalidate(ctx, itemKey(symbol))
	return nil
}

func (s *CachedStore) RecordActivity(ctx context.Context, symbol string, demandDelta, supplyDelta int64) error {
	if err := s.primary.RecordActivity(ctx, symbol, demandDelta, supplyDelta); err != nil {
		return err
	}
	s.invalidate(ctx, itemKey(symbol))
	return nil
}

func (s *CachedStore) CommitTick(ctx context.Context, symbol string, price decimal.Decimal, at time.Time, retention int, demand, supply int64) error {
	if err := s.primary.CommitTick(ctx, symbol, price, at, retention, demand, supply); err != nil {
		return err
	}
	// Invalidate; next display read re-populates with the new price.
	// Trade valuation never reads the cache, so a failed invalidation
	// only delays the displayed price.
	s.invalidate(ctx, itemKey(symbol))
	return nil
}

func (s *CachedStore) PutHolding(ctx context.Context, h *model.Holding) error {
	if err := s.primary.PutHolding(ctx, h); err != nil {
		return err
	}
	s.invalidate(ctx, holdingsKey(h.Owner))
	return nil
}

func (s *CachedStore) DeleteHolding(ctx context.Context, owner, symbol string) error {
	if err := s.primary.DeleteHolding(ctx, owner, symbol); err != nil {
		return err
	}
	s.invalidate(ctx, holdingsKey(owner))
	return nil
}

func (s *CachedStore) AppendReceipt(ctx context.Context, r *model.TradeReceipt) error {
	return s.primary.AppendReceipt(ctx, r)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetItem(ctx context.Context, symbol string) (*model.MarketItem, error) {
	data, err := s.rdb.Get(ctx, itemKey(symbol)).Bytes()
	if err == nil {
		var it model.MarketItem
		if json.Unmarshal(data, &it) == nil {
			return &it, nil
		}
	}

	it, err := s.primary.GetItem(ctx, symbol)
	if err != nil {
		return nil, err
	}

	s.cacheItem(ctx, it)
	return it, nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, owner string) ([]model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(owner)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	holdings, err := s.primary.ListHoldings(ctx, owner)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsKey(owner), data, s.ttl)
	}
	return holdings, nil
}

// --- Passthrough (not cached) ---

// GetHolding bypasses the cache: ledger mutations read it inside their
// critical section and must see committed state, not a snapshot.
func (s *CachedStore) GetHolding(ctx context.Context, owner, symbol string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, owner, symbol)
}

// GetItemFresh bypasses the cache: trades are valued at the committed
// price at the moment of execution, and a cache entry may be stale if
// an invalidation after a tick commit failed.
func (s *CachedStore) GetItemFresh(ctx context.Context, symbol string) (*model.MarketItem, error) {
	return s.primary.GetItemFresh(ctx, symbol)
}

// ListHoldingsFresh bypasses the cache: the ledger's capacity check
// runs inside its critical section and must count committed holdings,
// not a snapshot. The cached ListHoldings serves display reads only.
func (s *CachedStore) ListHoldingsFresh(ctx context.Context, owner string) ([]model.Holding, error) {
	return s.primary.ListHoldingsFresh(ctx, owner)
}

func (s *CachedStore) ListItems(ctx context.Context) ([]model.MarketItem, error) {
	return s.primary.ListItems(ctx)
}

func (s *CachedStore) GetHistory(ctx context.Context, symbol string, limit int) ([]model.PricePoint, error) {
	return s.primary.GetHistory(ctx, symbol, limit)
}

func (s *CachedStore) ListReceiptsByOwner(ctx context.Context, owner string) ([]model.TradeReceipt, error) {
	return s.primary.ListReceiptsByOwner(ctx, owner)
}

// --- Cache helpers ---

// invalidate drops a cache key after a primary write. A failed delete
// leaves a stale entry behind for up to the TTL, which only display
// reads can observe; it is logged, not propagated.
func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		slog.Warn("cache invalidation failed", "key", key, "err", err)
	}
}

func (s *CachedStore) cacheItem(ctx context.Context, it *model.MarketItem) {
	if data, err := json.Marshal(it); err == nil {
		s.rdb.Set(ctx, itemKey(it.Symbol), data, s.ttl)
	}
}

func itemKey(symbol string) string    { return fmt.Sprintf("item:%s", symbol) }
func holdingsKey(owner string) string { return fmt.Sprintf("holdings:%s", owner) }
