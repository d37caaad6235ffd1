// Package pricing implements the price update engine: once per tick it
// derives a new bounded price for every catalog item from accumulated
// trade pressure and the optional external pressure signals.
//
// All monetary values use shopspring/decimal at the API and storage
// boundary. The per-tick delta and smoothing arithmetic runs on float64
// internally, with results converted back to decimal and re-clamped to
// the item's hard bounds before commit.
package pricing

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/goods-engine/internal/metrics"
	"github.com/bazaarlabs/goods-engine/internal/model"
	"github.com/bazaarlabs/goods-engine/internal/pressure"
	"github.com/bazaarlabs/goods-engine/internal/store"
)

var (
	// ErrTickInProgress is returned when RunTick is invoked while a
	// previous tick is still running. Ticks never overlap.
	ErrTickInProgress = errors.New("pricing: tick already in progress")

	// ErrInvalidConfig is returned for non-finite or out-of-range
	// engine tunables.
	ErrInvalidConfig = errors.New("pricing: invalid engine configuration")
)

// PriceScale is the number of decimal places for committed prices.
var PriceScale int32 = 4

// Source pairs a pressure provider with its delta parameters. The
// fractional delta for a provider is
//
//	-((quantity - Baseline) / Baseline) * Sensitivity
//
// clamped to ±MaxDelta: abundance above the baseline pushes the price
// down, scarcity below it pushes the price up.
type Source struct {
	Provider    pressure.Provider
	Baseline    float64 // reference quantity, must be > 0
	Sensitivity float64
	MaxDelta    float64 // max absolute fractional delta; 0 = uncapped
}

// Config holds the engine tunables.
type Config struct {
	// Sensitivity scales the trade-driven delta. Clamped to [0, 1].
	Sensitivity float64

	// SmoothingEnabled applies an exponential moving average toward
	// the raw target with factor Alpha in [0, 1].
	SmoothingEnabled bool
	Alpha            float64

	// MaxTickChange bounds the post-smoothing price to within this
	// fraction of the current price per tick, in either direction.
	// 0 disables the cap. The hard [min, max] bounds always win.
	MaxTickChange float64

	// HistoryRetention is the maximum number of price points kept per
	// item.
	HistoryRetention int

	// VetoTimeout bounds how long the veto hook may deliberate per
	// item before the un-vetoed price is committed.
	VetoTimeout time.Duration

	Sources []Source
}

// Validate rejects non-finite or out-of-range tunables. Invalid
// configuration is fatal at load time, never silently coerced.
func (c Config) Validate() error {
	for _, v := range []float64{c.Sensitivity, c.Alpha, c.MaxTickChange} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidConfig
		}
	}
	if c.SmoothingEnabled && (c.Alpha < 0 || c.Alpha > 1) {
		return ErrInvalidConfig
	}
	if c.MaxTickChange < 0 {
		return ErrInvalidConfig
	}
	if c.HistoryRetention < 1 {
		return ErrInvalidConfig
	}
	for _, src := range c.Sources {
		if src.Baseline <= 0 || math.IsNaN(src.Sensitivity) || math.IsInf(src.Sensitivity, 0) || src.MaxDelta < 0 {
			return ErrInvalidConfig
		}
	}
	return nil
}

// PriceListener observes committed price changes (e.g. for WebSocket
// broadcast). Implementations must not block.
type PriceListener interface {
	PriceUpdated(symbol string, oldPrice, newPrice decimal.Decimal, at time.Time)
}

// TickReport summarizes one tick across the catalog.
type TickReport struct {
	Updated int
	Skipped int
	Failed  int
}

// Engine derives and commits per-item prices once per scheduler tick.
type Engine struct {
	store    store.Store
	cfg      Config
	veto     VetoHook
	listener PriceListener
	running  atomic.Bool
	now      func() time.Time
}

// NewEngine creates a price update engine. Pass nil for hook if no
// external observer may veto price changes, and nil for listener if no
// broadcast is needed. A non-nil hook requires a positive VetoTimeout:
// every consultation must be bounded so a hanging hook cannot stall
// the tick.
func NewEngine(st store.Store, cfg Config, hook VetoHook, listener PriceListener) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hook != nil && cfg.VetoTimeout <= 0 {
		return nil, ErrInvalidConfig
	}
	return &Engine{
		store:    st,
		cfg:      cfg,
		veto:     hook,
		listener: listener,
		now:      time.Now,
	}, nil
}

// sourceSnapshot is one provider's data for the current tick.
type sourceSnapshot struct {
	src  Source
	data map[string]float64
}

// collectSignals snapshots every enabled provider once per tick. An
// unavailable provider contributes zero delta for every item.
func (e *Engine) collectSignals(ctx context.Context) []sourceSnapshot {
	var snaps []sourceSnapshot
	for _, src := range e.cfg.Sources {
		if src.Provider == nil || !src.Provider.Enabled() {
			continue
		}
		data, err := src.Provider.Snapshot(ctx)
		if err != nil {
			slog.Warn("pressure signal unavailable",
				"signal", src.Provider.Name(),
				"err", err,
			)
			continue
		}
		snaps = append(snaps, sourceSnapshot{src: src, data: data})
	}
	return snaps
}

// RunTick runs one price update across the full catalog. A failure while
// applying one item's update is isolated: it is logged and counted, and
// the remaining items still update.
func (e *Engine) RunTick(ctx context.Context) (TickReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return TickReport{}, ErrTickInProgress
	}
	defer e.running.Store(false)

	start := e.now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.TicksTotal.Inc()

	items, err := e.store.ListItems(ctx)
	if err != nil {
		return TickReport{}, err
	}

	snaps := e.collectSignals(ctx)

	var report TickReport
	for i := range items {
		it := &items[i]
		if !it.Enabled {
			report.Skipped++
			continue
		}

		if err := e.updateItem(ctx, it, snaps); err != nil {
			report.Failed++
			metrics.TickItemFailures.Inc()
			slog.Error("tick update failed",
				"item", it.Symbol,
				"err", err,
			)
			continue
		}
		report.Updated++
	}

	slog.Info("tick complete",
		"updated", report.Updated,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", time.Since(start).String(),
	)
	return report, nil
}

// updateItem computes, offers, and commits one item's new price.
func (e *Engine) updateItem(ctx context.Context, it *model.MarketItem, snaps []sourceSnapshot) error {
	oldPrice := it.CurrentPrice
	proposed := e.proposePrice(it, snaps)

	final := e.consultVeto(ctx, Proposal{
		Symbol:   it.Symbol,
		OldPrice: oldPrice,
		NewPrice: proposed,
	}, proposed)

	// The hard bounds are authoritative regardless of what the hook
	// substituted. Clamp after rounding so the rounded price cannot
	// land outside the band.
	final = clampDecimal(final.Round(PriceScale), it.MinPrice, it.MaxPrice)

	// Commit with the accumulator values this computation priced;
	// increments landing after the read stay for the next tick.
	at := e.now().UTC()
	if err := e.store.CommitTick(ctx, it.Symbol, final, at, e.cfg.HistoryRetention, it.Demand, it.Supply); err != nil {
		return err
	}

	price, _ := final.Float64()
	metrics.CurrentPrice.WithLabelValues(it.Symbol).Set(price)

	if e.listener != nil && !final.Equal(oldPrice) {
		e.listener.PriceUpdated(it.Symbol, oldPrice, final, at)
	}
	return nil
}

// proposePrice runs the delta/smoothing/cap pipeline for one item and
// returns the pre-veto price.
func (e *Engine) proposePrice(it *model.MarketItem, snaps []sourceSnapshot) decimal.Decimal {
	cur := it.CurrentPrice.InexactFloat64()
	min := it.MinPrice.InexactFloat64()
	max := it.MaxPrice.InexactFloat64()
	if cur <= 0 {
		cur = it.BasePrice.InexactFloat64()
	}

	// Trade-driven delta, normalized by the current price so one unit
	// of net demand moves the price by sensitivity currency units.
	total := float64(it.Demand-it.Supply) * clamp(e.cfg.Sensitivity, 0, 1) / cur

	for _, snap := range snaps {
		total += pressureDelta(snap.data[it.Symbol], snap.src)
	}

	raw := clamp(cur*(1+total), min, max)

	smoothed := raw
	if e.cfg.SmoothingEnabled {
		smoothed = cur*(1-e.cfg.Alpha) + raw*e.cfg.Alpha
	}

	if pct := e.cfg.MaxTickChange; pct > 0 {
		smoothed = clamp(smoothed, cur*(1-pct), cur*(1+pct))
	}

	return decimal.NewFromFloat(clamp(smoothed, min, max)).Round(PriceScale)
}

// pressureDelta converts a signal quantity into a fractional price
// delta: above-baseline abundance is negative pressure, below-baseline
// scarcity is positive.
func pressureDelta(quantity float64, src Source) float64 {
	delta := -((quantity - src.Baseline) / src.Baseline) * src.Sensitivity
	if src.MaxDelta > 0 {
		delta = clamp(delta, -src.MaxDelta, src.MaxDelta)
	}
	return delta
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
