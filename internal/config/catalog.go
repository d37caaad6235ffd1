package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/goods-engine/internal/model"
)

// ErrInvalidItem is returned for a catalog entry with invalid pricing
// bounds. Invalid entries are excluded from trading, never coerced.
var ErrInvalidItem = errors.New("config: invalid catalog item")

// CatalogEntry is one item definition in the catalog seed file.
type CatalogEntry struct {
	Symbol    string          `json:"symbol"`
	BasePrice decimal.Decimal `json:"base_price"`
	MinPrice  decimal.Decimal `json:"min_price"`
	MaxPrice  decimal.Decimal `json:"max_price"`
}

// InvalidEntry pairs a rejected catalog entry with its reason.
type InvalidEntry struct {
	Symbol string
	Err    error
}

// Validate checks the entry's pricing bounds: min and max must be
// positive, min must not exceed max (min == max is a pegged item), and
// the base price must sit within the bounds.
func (e CatalogEntry) Validate() error {
	if e.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidItem)
	}
	if e.MinPrice.LessThanOrEqual(decimal.Zero) || e.MaxPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s: bounds must be positive", ErrInvalidItem, e.Symbol)
	}
	if e.MinPrice.GreaterThan(e.MaxPrice) {
		return fmt.Errorf("%w: %s: min price exceeds max price", ErrInvalidItem, e.Symbol)
	}
	if e.BasePrice.LessThan(e.MinPrice) || e.BasePrice.GreaterThan(e.MaxPrice) {
		return fmt.Errorf("%w: %s: base price outside [min, max]", ErrInvalidItem, e.Symbol)
	}
	return nil
}

// Item converts a validated entry into a seeded market item: current
// price starts at the base price and the item is enabled.
func (e CatalogEntry) Item(now time.Time) model.MarketItem {
	return model.MarketItem{
		Symbol:       e.Symbol,
		BasePrice:    e.BasePrice,
		MinPrice:     e.MinPrice,
		MaxPrice:     e.MaxPrice,
		CurrentPrice: e.BasePrice,
		Enabled:      true,
		CreatedAt:    now,
	}
}

// LoadCatalog reads the catalog seed file. Structurally valid entries
// are returned as seedable items; entries with invalid bounds are
// returned separately so the caller can report them and continue.
func LoadCatalog(path string) ([]model.MarketItem, []InvalidEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read catalog: %w", err)
	}

	var entries []CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("parse catalog: %w", err)
	}

	now := time.Now().UTC()
	var items []model.MarketItem
	var invalid []InvalidEntry
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			invalid = append(invalid, InvalidEntry{Symbol: e.Symbol, Err: err})
			continue
		}
		items = append(items, e.Item(now))
	}
	return items, invalid, nil
}
