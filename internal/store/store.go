// Package store defines the persistence interface for the goods market
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/goods-engine/internal/model"
)

// ErrNotFound is returned when the requested item or holding does not
// exist in the store.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer for item reads.
type Store interface {
	// --- Market items ---

	// CreateItem persists a new catalog item.
	CreateItem(ctx context.Context, item *model.MarketItem) error

	// GetItem retrieves an item by symbol. History is not populated;
	// use GetHistory for the time series. Reads may be served from a
	// cache layer; display paths tolerate brief staleness.
	GetItem(ctx context.Context, symbol string) (*model.MarketItem, error)

	// GetItemFresh retrieves an item bypassing any cache layer. Trade
	// valuation reads the price through here: a trade is valued at the
	// committed price at the moment of execution, never a cached one.
	GetItemFresh(ctx context.Context, symbol string) (*model.MarketItem, error)

	// ListItems returns all catalog items.
	ListItems(ctx context.Context) ([]model.MarketItem, error)

	// SetItemEnabled soft-enables or soft-disables an item. Disabled
	// items keep their state but are skipped by the engine and rejected
	// for trading.
	SetItemEnabled(ctx context.Context, symbol string, enabled bool) error

	// RecordActivity increments the tick-scoped demand/supply
	// accumulators after a successful buy or sell.
	RecordActivity(ctx context.Context, symbol string, demandDelta, supplyDelta int64) error

	// CommitTick atomically applies one tick's result for one item:
	// sets the current price, appends a PricePoint(at, price), evicts
	// history beyond retention, records nonzero priced accumulators as
	// lastDemand/lastSupply, and subtracts the priced demand/supply
	// from the accumulators. Increments that land after the engine's
	// read survive the commit and are priced next tick.
	CommitTick(ctx context.Context, symbol string, price decimal.Decimal, at time.Time, retention int, demand, supply int64) error

	// GetHistory returns up to limit most recent price points in
	// ascending time order. limit <= 0 means no limit.
	GetHistory(ctx context.Context, symbol string, limit int) ([]model.PricePoint, error)

	// --- Holdings ---

	// GetHolding retrieves the holding for (owner, symbol), or
	// ErrNotFound if the owner holds none of the item.
	GetHolding(ctx context.Context, owner, symbol string) (*model.Holding, error)

	// ListHoldings returns all holdings for an owner. Reads may be
	// served from a cache layer; display paths tolerate brief
	// staleness.
	ListHoldings(ctx context.Context, owner string) ([]model.Holding, error)

	// ListHoldingsFresh returns all holdings for an owner bypassing
	// any cache layer. The ledger's capacity check reads through here
	// inside its critical section and must see committed state.
	ListHoldingsFresh(ctx context.Context, owner string) ([]model.Holding, error)

	// PutHolding inserts or replaces the holding for (owner, symbol).
	PutHolding(ctx context.Context, h *model.Holding) error

	// DeleteHolding removes the holding for (owner, symbol). Deleting
	// an absent holding is not an error.
	DeleteHolding(ctx context.Context, owner, symbol string) error

	// --- Immutable receipt log ---

	// AppendReceipt appends an immutable trade receipt.
	AppendReceipt(ctx context.Context, r *model.TradeReceipt) error

	// ListReceiptsByOwner returns all receipts for an owner in
	// chronological order.
	ListReceiptsByOwner(ctx context.Context, owner string) ([]model.TradeReceipt, error)
}
