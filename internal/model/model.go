// Package model defines the core domain types shared across the goods
// market engine. All monetary values use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt kinds. Every executed trading operation writes exactly one
// receipt with one of these kinds.
const (
	KindBuy      = "buy"
	KindSell     = "sell"
	KindWithdraw = "withdraw"
)

// PricePoint is an immutable (timestamp, price) sample. Points are
// created once per tick and appended to an item's history; the oldest
// points are evicted beyond the configured retention length.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp" db:"ts"`
	Price     decimal.Decimal `json:"price" db:"price"`
}

// MarketItem is the per-symbol pricing state. The price engine is the
// only writer of CurrentPrice, History, and the accumulator reset;
// trading operations are the only writer of the Demand/Supply
// increments. CurrentPrice is always within [MinPrice, MaxPrice].
type MarketItem struct {
	Symbol       string          `json:"symbol" db:"symbol"`
	BasePrice    decimal.Decimal `json:"base_price" db:"base_price"`
	MinPrice     decimal.Decimal `json:"min_price" db:"min_price"`
	MaxPrice     decimal.Decimal `json:"max_price" db:"max_price"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`

	// Tick-scoped trade pressure, reset on every tick commit.
	Demand int64 `json:"demand" db:"demand"`
	Supply int64 `json:"supply" db:"supply"`

	// Last tick's nonzero accumulators, retained so a silent tick does
	// not erase the last-known activity figures.
	LastDemand int64 `json:"last_demand" db:"last_demand"`
	LastSupply int64 `json:"last_supply" db:"last_supply"`

	// Disabled items are skipped by the engine and rejected for trading.
	// Items are soft-disabled instead of deleted while holdings may
	// still reference them.
	Enabled bool `json:"enabled" db:"enabled"`

	History   []PricePoint `json:"history,omitempty"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// Holding is the ledger record for one (owner, symbol) pair: how much
// the owner has purchased and at what quantity-weighted average price.
// AvgCost only changes on credit, never on debit. A holding with
// quantity 0 is removed from the ledger.
type Holding struct {
	Owner    string          `json:"owner" db:"owner"`
	Symbol   string          `json:"symbol" db:"symbol"`
	Quantity int64           `json:"quantity" db:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost" db:"avg_cost"`
}

// TradeReceipt is an immutable audit record of an executed buy, sell,
// or withdraw. Once written, receipts are never modified or deleted.
type TradeReceipt struct {
	ID        string          `json:"id" db:"id"`
	Owner     string          `json:"owner" db:"owner"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Kind      string          `json:"kind" db:"kind"`
	Amount    int64           `json:"amount" db:"amount"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	Total     decimal.Decimal `json:"total" db:"total"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}
