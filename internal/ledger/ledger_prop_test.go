package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/bazaarlabs/goods-engine/internal/store"
)

// After any interleaving of credits and debits, the cost basis equals
// the quantity-weighted average price of the units still held under
// FIFO-free accounting: debits never move it, credits fold into it.
func TestLedger_AvgCostMatchesModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		l := New(store.NewMemoryStore(), 0)

		// Reference model: total quantity and total cost of everything
		// currently held, maintained with exact decimal arithmetic.
		qty := decimal.Zero
		cost := decimal.Zero

		ops := rapid.IntRange(1, 40).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			if rapid.Bool().Draw(t, "credit") {
				amount := rapid.Int64Range(1, 100).Draw(t, "amount")
				price := decimal.NewFromInt(rapid.Int64Range(1, 500).Draw(t, "price"))

				if err := l.Credit(ctx, "alice", "IRON", amount, price); err != nil {
					t.Fatal(err)
				}
				a := decimal.NewFromInt(amount)
				qty = qty.Add(a)
				cost = cost.Add(price.Mul(a))
			} else {
				amount := rapid.Int64Range(1, 100).Draw(t, "amount")
				removed, err := l.Debit(ctx, "alice", "IRON", amount)
				if err != nil {
					t.Fatal(err)
				}
				if qty.IsZero() {
					if removed != 0 {
						t.Fatalf("debit of empty holding removed %d", removed)
					}
					continue
				}
				// Removal at the current average cost keeps the basis.
				r := decimal.NewFromInt(removed)
				cost = cost.Sub(cost.Div(qty).Mul(r))
				qty = qty.Sub(r)
				if qty.IsZero() {
					cost = decimal.Zero
				}
			}

			h, err := l.Get(ctx, "alice", "IRON")
			if err != nil {
				t.Fatal(err)
			}
			if h.Quantity != qty.IntPart() {
				t.Fatalf("quantity drift: ledger %d, model %s", h.Quantity, qty)
			}
			if qty.IsZero() {
				continue
			}
			want := cost.Div(qty)
			diff := h.AvgCost.Sub(want).Abs()
			if diff.GreaterThan(decimal.New(1, -8)) {
				t.Fatalf("avg cost drift: ledger %s, model %s", h.AvgCost, want)
			}
		}
	})
}
