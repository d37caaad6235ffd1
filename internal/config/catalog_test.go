package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCatalogEntry_Validate(t *testing.T) {
	cases := []struct {
		name  string
		entry CatalogEntry
		valid bool
	}{
		{"valid", CatalogEntry{Symbol: "IRON", BasePrice: d(100), MinPrice: d(10), MaxPrice: d(500)}, true},
		{"pegged", CatalogEntry{Symbol: "GOLD", BasePrice: d(500), MinPrice: d(500), MaxPrice: d(500)}, true},
		{"empty symbol", CatalogEntry{BasePrice: d(100), MinPrice: d(10), MaxPrice: d(500)}, false},
		{"zero min", CatalogEntry{Symbol: "IRON", BasePrice: d(100), MinPrice: d(0), MaxPrice: d(500)}, false},
		{"min above max", CatalogEntry{Symbol: "IRON", BasePrice: d(100), MinPrice: d(600), MaxPrice: d(500)}, false},
		{"base below min", CatalogEntry{Symbol: "IRON", BasePrice: d(5), MinPrice: d(10), MaxPrice: d(500)}, false},
		{"base above max", CatalogEntry{Symbol: "IRON", BasePrice: d(900), MinPrice: d(10), MaxPrice: d(500)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.entry.Validate()
			if tc.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.valid && !errors.Is(err, ErrInvalidItem) {
				t.Errorf("expected ErrInvalidItem, got %v", err)
			}
		})
	}
}

func TestLoadCatalog_SeparatesInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	data := `[
		{"symbol": "IRON", "base_price": "100", "min_price": "10", "max_price": "500"},
		{"symbol": "BROKEN", "base_price": "100", "min_price": "600", "max_price": "500"},
		{"symbol": "COAL", "base_price": "20", "min_price": "5", "max_price": "80"}
	]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	items, invalid, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 valid items, got %d", len(items))
	}
	if items[0].Symbol != "IRON" || items[1].Symbol != "COAL" {
		t.Errorf("unexpected items: %v", items)
	}
	if !items[0].CurrentPrice.Equal(d(100)) || !items[0].Enabled {
		t.Errorf("seeded item should start at base price, enabled: %+v", items[0])
	}
	if len(invalid) != 1 || invalid[0].Symbol != "BROKEN" {
		t.Errorf("expected BROKEN rejected, got %v", invalid)
	}
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	if _, _, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadCatalog_MalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadCatalog(path); err == nil {
		t.Error("expected error for malformed catalog")
	}
}
