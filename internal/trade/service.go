// Package trade executes buy, sell, and withdraw operations on behalf
// of the request layer: it values the operation at the item's current
// price, mutates the holdings ledger atomically, appends an audit
// receipt, and feeds the engine's demand/supply accumulators.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/goods-engine/internal/ledger"
	"github.com/bazaarlabs/goods-engine/internal/metrics"
	"github.com/bazaarlabs/goods-engine/internal/model"
	"github.com/bazaarlabs/goods-engine/internal/store"
)

var (
	// ErrItemDisabled is returned when trading a soft-disabled item.
	ErrItemDisabled = errors.New("trade: item is disabled for trading")

	// ErrNoHolding is returned when a sell or withdraw finds nothing
	// to remove.
	ErrNoHolding = errors.New("trade: owner holds none of this item")
)

// Service executes trading operations. The ledger serializes mutations
// per owner; the service itself holds no locks.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	wsHub  *WSHub // optional hub for real-time broadcasts
}

// NewService creates a trade service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, lg *ledger.Ledger, hub *WSHub) *Service {
	return &Service{store: st, ledger: lg, wsHub: hub}
}

// tradableItem fetches the item and rejects disabled ones. The returned
// current price is the authoritative valuation for this operation: it
// is read fresh past any cache layer, never reused from an earlier
// read.
func (s *Service) tradableItem(ctx context.Context, symbol string) (*model.MarketItem, error) {
	item, err := s.store.GetItemFresh(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !item.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrItemDisabled, symbol)
	}
	return item, nil
}

// Buy credits amount units to the owner at the item's current price.
// The caller has already taken payment; if the ledger or the receipt
// write fails the caller receives an error and must refund, and the
// ledger is left in its pre-operation state.
func (s *Service) Buy(ctx context.Context, owner, symbol string, amount int64) (*model.TradeReceipt, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	item, err := s.tradableItem(ctx, symbol)
	if err != nil {
		return nil, err
	}
	price := item.CurrentPrice

	prev, err := s.ledger.Get(ctx, owner, symbol)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Credit(ctx, owner, symbol, amount, price); err != nil {
		if errors.Is(err, ledger.ErrCapacityExceeded) {
			metrics.CapacityRejections.Inc()
		}
		return nil, err
	}

	receipt := newReceipt(owner, symbol, model.KindBuy, amount, price)
	if err := s.store.AppendReceipt(ctx, receipt); err != nil {
		s.rollback(ctx, prev, receipt)
		return nil, fmt.Errorf("record receipt: %w", err)
	}

	// Demand pressure for the next tick. Losing an increment costs a
	// little pricing pressure, not money, so failure is only logged.
	if err := s.store.RecordActivity(ctx, symbol, amount, 0); err != nil {
		slog.Warn("record demand failed", "item", symbol, "err", err)
	}

	s.finish(receipt)
	return receipt, nil
}

// Sell debits up to amount units and values the proceeds at the item's
// current price. Partial fulfillment is success: the receipt reports
// the actually-removed count.
func (s *Service) Sell(ctx context.Context, owner, symbol string, amount int64) (*model.TradeReceipt, error) {
	receipt, removed, err := s.remove(ctx, owner, symbol, amount, model.KindSell)
	if err != nil {
		return nil, err
	}

	if err := s.store.RecordActivity(ctx, symbol, 0, removed); err != nil {
		slog.Warn("record supply failed", "item", symbol, "err", err)
	}

	s.finish(receipt)
	return receipt, nil
}

// Withdraw debits up to amount units for out-of-market delivery. The
// receipt values the withdrawal at the current price for audit, but no
// supply pressure is recorded: nothing was sold into the market.
func (s *Service) Withdraw(ctx context.Context, owner, symbol string, amount int64) (*model.TradeReceipt, error) {
	receipt, _, err := s.remove(ctx, owner, symbol, amount, model.KindWithdraw)
	if err != nil {
		return nil, err
	}

	s.finish(receipt)
	return receipt, nil
}

// remove is the shared debit path for sells and withdrawals.
func (s *Service) remove(ctx context.Context, owner, symbol string, amount int64, kind string) (*model.TradeReceipt, int64, error) {
	if amount <= 0 {
		return nil, 0, ledger.ErrInvalidAmount
	}

	item, err := s.tradableItem(ctx, symbol)
	if err != nil {
		return nil, 0, err
	}
	price := item.CurrentPrice

	prev, err := s.ledger.Get(ctx, owner, symbol)
	if err != nil {
		return nil, 0, err
	}

	removed, err := s.ledger.Debit(ctx, owner, symbol, amount)
	if err != nil {
		return nil, 0, err
	}
	if removed == 0 {
		return nil, 0, fmt.Errorf("%w: %s/%s", ErrNoHolding, owner, symbol)
	}

	receipt := newReceipt(owner, symbol, kind, removed, price)
	if err := s.store.AppendReceipt(ctx, receipt); err != nil {
		s.rollback(ctx, prev, receipt)
		return nil, 0, fmt.Errorf("record receipt: %w", err)
	}
	return receipt, removed, nil
}

// rollback reinstates the pre-operation holding after a failed paired
// write. A rollback that itself fails is unrecoverable here and loudly
// logged for reconciliation against the receipt log.
func (s *Service) rollback(ctx context.Context, prev model.Holding, r *model.TradeReceipt) {
	if err := s.ledger.Restore(ctx, prev); err != nil {
		slog.Error("ledger rollback failed",
			"owner", r.Owner,
			"item", r.Symbol,
			"kind", r.Kind,
			"amount", r.Amount,
			"err", err,
		)
	}
}

func (s *Service) finish(r *model.TradeReceipt) {
	metrics.TradesTotal.WithLabelValues(r.Kind).Inc()

	slog.Info("trade executed",
		"receipt", r.ID,
		"owner", r.Owner,
		"item", r.Symbol,
		"kind", r.Kind,
		"amount", r.Amount,
		"unit_price", r.UnitPrice.String(),
		"total", r.Total.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "trade_executed",
			Symbol:    r.Symbol,
			Kind:      r.Kind,
			Amount:    r.Amount,
			Price:     r.UnitPrice.String(),
			Timestamp: r.Timestamp,
		})
	}
}

func newReceipt(owner, symbol, kind string, amount int64, unitPrice decimal.Decimal) *model.TradeReceipt {
	return &model.TradeReceipt{
		ID:        uuid.New().String(),
		Owner:     owner,
		Symbol:    symbol,
		Kind:      kind,
		Amount:    amount,
		UnitPrice: unitPrice,
		Total:     unitPrice.Mul(decimal.NewFromInt(amount)),
		Timestamp: time.Now().UTC(),
	}
}
