package pricing

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/goods-engine/internal/metrics"
)

// Verdict is a veto hook's decision on a proposed price change.
type Verdict int

const (
	// Accept commits the proposed price unchanged.
	Accept Verdict = iota
	// Override substitutes the hook's price. It is still re-clamped to
	// the item's hard bounds before commit.
	Override
	// Reject cancels the change; the item keeps its current price.
	Reject
)

// Proposal is the (old, new) price pair offered to the veto hook before
// a tick result is committed.
type Proposal struct {
	Symbol   string
	OldPrice decimal.Decimal
	NewPrice decimal.Decimal
}

// VetoHook is an injected external observer that may substitute a
// different price or cancel a proposed change. The override price is
// only meaningful when the verdict is Override.
type VetoHook interface {
	OnPriceProposed(ctx context.Context, p Proposal) (Verdict, decimal.Decimal)
}

// VetoFunc adapts a function to the VetoHook interface.
type VetoFunc func(ctx context.Context, p Proposal) (Verdict, decimal.Decimal)

func (f VetoFunc) OnPriceProposed(ctx context.Context, p Proposal) (Verdict, decimal.Decimal) {
	return f(ctx, p)
}

// consultVeto offers the proposal to the hook, bounded by the configured
// timeout. The hook is best-effort: if it does not respond in time the
// un-vetoed price is committed and the whole tick is never stalled.
func (e *Engine) consultVeto(ctx context.Context, p Proposal, proposed decimal.Decimal) decimal.Decimal {
	if e.veto == nil {
		return proposed
	}

	hctx := ctx
	if e.cfg.VetoTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, e.cfg.VetoTimeout)
		defer cancel()
	}

	type result struct {
		verdict Verdict
		price   decimal.Decimal
	}

	ch := make(chan result, 1)
	go func() {
		v, price := e.veto.OnPriceProposed(hctx, p)
		ch <- result{verdict: v, price: price}
	}()

	select {
	case res := <-ch:
		switch res.verdict {
		case Reject:
			metrics.VetoOutcomes.WithLabelValues("reject").Inc()
			return p.OldPrice
		case Override:
			metrics.VetoOutcomes.WithLabelValues("override").Inc()
			return res.price
		default:
			metrics.VetoOutcomes.WithLabelValues("accept").Inc()
			return proposed
		}
	case <-hctx.Done():
		metrics.VetoOutcomes.WithLabelValues("timeout").Inc()
		slog.Warn("veto hook timed out, committing un-vetoed price",
			"item", p.Symbol,
			"proposed", proposed.String(),
		)
		return proposed
	}
}
