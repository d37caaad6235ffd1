// Package ledger implements the holdings ledger: durable per-(owner,
// item) quantity and weighted-average-cost records with atomic credit
// and debit operations and a global per-owner capacity limit.
//
// Holdings are a financial record of what an owner has purchased, not
// physical inventory. AvgCost is only recomputed on credit; debits
// leave the cost basis unchanged.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/goods-engine/internal/model"
	"github.com/bazaarlabs/goods-engine/internal/store"
)

var (
	// ErrInvalidAmount is returned for credit/debit amounts <= 0.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrCapacityExceeded is returned when a credit would push the
	// owner's total holdings over the configured cap. The ledger is
	// left untouched; the caller must reverse any paired side effect.
	ErrCapacityExceeded = errors.New("ledger: holdings capacity exceeded")
)

// lockStripes is the number of striped owner mutexes. Operations on the
// same owner always hash to the same stripe, which is what makes the
// capacity check and the holding write atomic per owner.
const lockStripes = 64

// Ledger is the single writer of Holding records. Credit and debit for
// one owner are linearizable: each operation holds that owner's stripe
// lock across its read-check-write sequence.
type Ledger struct {
	store    store.Store
	capacity int64 // max total quantity per owner; <= 0 means unlimited
	locks    [lockStripes]sync.Mutex
}

// New creates a ledger over the given store. capacity <= 0 disables the
// per-owner cap.
func New(st store.Store, capacity int64) *Ledger {
	return &Ledger{store: st, capacity: capacity}
}

func (l *Ledger) ownerLock(owner string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(owner))
	return &l.locks[h.Sum32()%lockStripes]
}

// Credit adds amount units at unitPrice to (owner, symbol), recomputing
// the quantity-weighted average cost:
//
//	newAvg = (avgCost*quantity + unitPrice*amount) / (quantity + amount)
//
// The operation is all-or-nothing: if the capacity check fails or the
// persistence write fails, the ledger keeps its pre-operation state.
func (l *Ledger) Credit(ctx context.Context, owner, symbol string, amount int64, unitPrice decimal.Decimal) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	mu := l.ownerLock(owner)
	mu.Lock()
	defer mu.Unlock()

	// Capacity counts the owner's prospective total across all items,
	// read fresh past any cache layer: this read happens inside the
	// owner's critical section and must see committed state.
	if l.capacity > 0 {
		holdings, err := l.store.ListHoldingsFresh(ctx, owner)
		if err != nil {
			return fmt.Errorf("credit %s/%s: %w", owner, symbol, err)
		}
		var total int64
		for _, h := range holdings {
			total += h.Quantity
		}
		if total+amount > l.capacity {
			return fmt.Errorf("%w: %d held, %d requested, cap %d",
				ErrCapacityExceeded, total, amount, l.capacity)
		}
	}

	current, err := l.get(ctx, owner, symbol)
	if err != nil {
		return fmt.Errorf("credit %s/%s: %w", owner, symbol, err)
	}

	oldQty := decimal.NewFromInt(current.Quantity)
	addQty := decimal.NewFromInt(amount)
	newAvg := current.AvgCost.Mul(oldQty).
		Add(unitPrice.Mul(addQty)).
		Div(oldQty.Add(addQty))

	updated := &model.Holding{
		Owner:    owner,
		Symbol:   symbol,
		Quantity: current.Quantity + amount,
		AvgCost:  newAvg,
	}
	if err := l.store.PutHolding(ctx, updated); err != nil {
		return fmt.Errorf("credit %s/%s: %w", owner, symbol, err)
	}
	return nil
}

// Debit removes up to amount units from (owner, symbol) and returns the
// count actually removed. Partial fulfillment is success, not an error:
// a debit against a smaller or absent holding removes what exists and
// reports it. AvgCost is left unchanged; a holding drained to zero is
// deleted.
func (l *Ledger) Debit(ctx context.Context, owner, symbol string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	mu := l.ownerLock(owner)
	mu.Lock()
	defer mu.Unlock()

	current, err := l.get(ctx, owner, symbol)
	if err != nil {
		return 0, fmt.Errorf("debit %s/%s: %w", owner, symbol, err)
	}
	if current.Quantity == 0 {
		return 0, nil
	}

	removed := amount
	if removed > current.Quantity {
		removed = current.Quantity
	}

	remaining := current.Quantity - removed
	if remaining == 0 {
		if err := l.store.DeleteHolding(ctx, owner, symbol); err != nil {
			return 0, fmt.Errorf("debit %s/%s: %w", owner, symbol, err)
		}
		return removed, nil
	}

	updated := &model.Holding{
		Owner:    owner,
		Symbol:   symbol,
		Quantity: remaining,
		AvgCost:  current.AvgCost,
	}
	if err := l.store.PutHolding(ctx, updated); err != nil {
		return 0, fmt.Errorf("debit %s/%s: %w", owner, symbol, err)
	}
	return removed, nil
}

// Restore reinstates a previously observed holding record. Callers use
// it to reverse a credit or debit whose paired side effect (payment,
// receipt write) failed; restoring quantity 0 removes the record.
func (l *Ledger) Restore(ctx context.Context, h model.Holding) error {
	mu := l.ownerLock(h.Owner)
	mu.Lock()
	defer mu.Unlock()

	if h.Quantity == 0 {
		return l.store.DeleteHolding(ctx, h.Owner, h.Symbol)
	}
	cp := h
	return l.store.PutHolding(ctx, &cp)
}

// Get returns the holding for (owner, symbol). An absent record reports
// quantity 0 with a zero cost basis.
func (l *Ledger) Get(ctx context.Context, owner, symbol string) (model.Holding, error) {
	h, err := l.get(ctx, owner, symbol)
	if err != nil {
		return model.Holding{}, err
	}
	return *h, nil
}

// ListAll returns every holding for an owner keyed by item symbol.
func (l *Ledger) ListAll(ctx context.Context, owner string) (map[string]model.Holding, error) {
	holdings, err := l.store.ListHoldings(ctx, owner)
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.Holding, len(holdings))
	for _, h := range holdings {
		out[h.Symbol] = h
	}
	return out, nil
}

// get reads the holding, mapping an absent record to a zero-valued one.
func (l *Ledger) get(ctx context.Context, owner, symbol string) (*model.Holding, error) {
	h, err := l.store.GetHolding(ctx, owner, symbol)
	if errors.Is(err, store.ErrNotFound) {
		return &model.Holding{Owner: owner, Symbol: symbol, AvgCost: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}
