// Package pressure models the optional external pricing signals
// consumed by the price engine: a live-inventory signal (per-participant
// average) and a global-storage signal. Both variants share one
// interface so the engine applies the same delta math to each.
package pressure

import "context"

// Provider exposes a read-only per-item pressure quantity for the
// current tick. The engine treats providers as pure input functions: a
// provider error contributes zero delta and never fails the tick.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Enabled reports whether the signal should be consulted at all.
	Enabled() bool

	// Snapshot returns the per-item pressure quantity. For the
	// inventory variant this is the average quantity held per online
	// participant; for the storage variant the global stored quantity.
	// Items absent from the map have quantity zero.
	Snapshot(ctx context.Context) (map[string]float64, error)
}

// SnapshotFunc reads raw per-item quantities from an external
// collaborator (inventory scan, storage scan).
type SnapshotFunc func(ctx context.Context) (map[string]int64, error)

// Inventory is the per-participant pressure provider: total live
// inventory divided by the online participant count.
type Inventory struct {
	Snapshots    SnapshotFunc
	Participants func(ctx context.Context) int
	On           bool
}

func (p *Inventory) Name() string  { return "inventory" }
func (p *Inventory) Enabled() bool { return p.On && p.Snapshots != nil }

func (p *Inventory) Snapshot(ctx context.Context) (map[string]float64, error) {
	totals, err := p.Snapshots(ctx)
	if err != nil {
		return nil, err
	}

	n := 1
	if p.Participants != nil {
		if c := p.Participants(ctx); c > 0 {
			n = c
		}
	}

	avg := make(map[string]float64, len(totals))
	for symbol, qty := range totals {
		avg[symbol] = float64(qty) / float64(n)
	}
	return avg, nil
}

// GlobalStorage is the global pressure provider: total stored quantity
// per item across all participants.
type GlobalStorage struct {
	Snapshots SnapshotFunc
	On        bool
}

func (p *GlobalStorage) Name() string  { return "storage" }
func (p *GlobalStorage) Enabled() bool { return p.On && p.Snapshots != nil }

func (p *GlobalStorage) Snapshot(ctx context.Context) (map[string]float64, error) {
	totals, err := p.Snapshots(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(totals))
	for symbol, qty := range totals {
		out[symbol] = float64(qty)
	}
	return out, nil
}
