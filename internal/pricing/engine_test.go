package pricing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarlabs/goods-engine/internal/model"
	"github.com/bazaarlabs/goods-engine/internal/pressure"
	"github.com/bazaarlabs/goods-engine/internal/store"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedItem(t *testing.T, st *store.MemoryStore, symbol string, base, min, max float64) {
	t.Helper()
	err := st.CreateItem(context.Background(), &model.MarketItem{
		Symbol:       symbol,
		BasePrice:    d(base),
		MinPrice:     d(min),
		MaxPrice:     d(max),
		CurrentPrice: d(base),
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", symbol, err)
	}
}

func baseConfig() Config {
	return Config{
		Sensitivity:      0.5,
		HistoryRetention: 100,
		VetoTimeout:      time.Second,
	}
}

func mustEngine(t *testing.T, st store.Store, cfg Config, hook VetoHook) *Engine {
	t.Helper()
	e, err := NewEngine(st, cfg, hook, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func currentPrice(t *testing.T, st store.Store, symbol string) decimal.Decimal {
	t.Helper()
	it, err := st.GetItem(context.Background(), symbol)
	if err != nil {
		t.Fatalf("get %s: %v", symbol, err)
	}
	return it.CurrentPrice
}

// --- Constructor tests ---

func TestNewEngine_InvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"alpha above one", func(c *Config) { c.SmoothingEnabled = true; c.Alpha = 1.5 }},
		{"negative cap", func(c *Config) { c.MaxTickChange = -0.1 }},
		{"zero retention", func(c *Config) { c.HistoryRetention = 0 }},
		{"zero baseline", func(c *Config) {
			c.Sources = []Source{{Baseline: 0, Sensitivity: 0.1}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mut(&cfg)
			if _, err := NewEngine(store.NewMemoryStore(), cfg, nil, nil); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestNewEngine_VetoHookRequiresTimeout(t *testing.T) {
	cfg := baseConfig()
	cfg.VetoTimeout = 0
	hook := VetoFunc(func(ctx context.Context, p Proposal) (Verdict, decimal.Decimal) {
		return Accept, decimal.Zero
	})

	if _, err := NewEngine(store.NewMemoryStore(), cfg, hook, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for hook without timeout, got %v", err)
	}
	// Without a hook there is nothing to bound.
	if _, err := NewEngine(store.NewMemoryStore(), cfg, nil, nil); err != nil {
		t.Errorf("unexpected error without hook: %v", err)
	}
}

// --- Tick price derivation ---

func TestRunTick_NetDemandRaisesPrice(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)
	if err := st.RecordActivity(context.Background(), "IRON", 20, 0); err != nil {
		t.Fatal(err)
	}

	e := mustEngine(t, st, baseConfig(), nil)
	report, err := e.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if report.Updated != 1 {
		t.Errorf("expected 1 updated, got %+v", report)
	}

	// 20 net demand at sensitivity 0.5 over price 100 is a 10% delta.
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(110)) {
		t.Errorf("expected price 110, got %s", got)
	}
}

func TestRunTick_NetSupplyLowersPrice(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)
	if err := st.RecordActivity(context.Background(), "IRON", 0, 20); err != nil {
		t.Fatal(err)
	}

	e := mustEngine(t, st, baseConfig(), nil)
	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(90)) {
		t.Errorf("expected price 90, got %s", got)
	}
}

func TestRunTick_QuietTickKeepsPrice(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)

	e := mustEngine(t, st, baseConfig(), nil)
	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(100)) {
		t.Errorf("expected price unchanged at 100, got %s", got)
	}
}

func TestRunTick_ClampsToHardBounds(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 50, 120)
	if err := st.RecordActivity(context.Background(), "IRON", 1000, 0); err != nil {
		t.Fatal(err)
	}

	e := mustEngine(t, st, baseConfig(), nil)
	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(120)) {
		t.Errorf("expected clamp to max 120, got %s", got)
	}
}

func TestRunTick_PeggedItemNeverMoves(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "GOLD", 500, 500, 500)
	if err := st.RecordActivity(context.Background(), "GOLD", 9999, 0); err != nil {
		t.Fatal(err)
	}

	e := mustEngine(t, st, baseConfig(), nil)
	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := currentPrice(t, st, "GOLD"); !got.Equal(d(500)) {
		t.Errorf("pegged item moved to %s", got)
	}
}

func TestRunTick_SmoothingHalvesTheMove(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)
	if err := st.RecordActivity(context.Background(), "IRON", 20, 0); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig()
	cfg.SmoothingEnabled = true
	cfg.Alpha = 0.5

	e := mustEngine(t, st, cfg, nil)
	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Raw target is 110; EMA with alpha 0.5 lands halfway.
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(105)) {
		t.Errorf("expected smoothed price 105, got %s", got)
	}
}

func TestRunTick_MaxTickChangeCapsTheMove(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)
	if err := st.RecordActivity(context.Background(), "IRON", 20, 0); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig()
	cfg.MaxTickChange = 0.05

	e := mustEngine(t, st, cfg, nil)
	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(105)) {
		t.Errorf("expected capped price 105, got %s", got)
	}
}

func TestRunTick_SkipsDisabledItems(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)
	if err := st.SetItemEnabled(context.Background(), "IRON", false); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordActivity(context.Background(), "IRON", 20, 0); err != nil {
		t.Fatal(err)
	}

	e := mustEngine(t, st, baseConfig(), nil)
	report, err := e.RunTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Updated != 0 {
		t.Errorf("expected 1 skipped, got %+v", report)
	}
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(100)) {
		t.Errorf("disabled item repriced to %s", got)
	}
}

// --- Accumulator rollover ---

func TestRunTick_AccumulatorRollover(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)
	if err := st.RecordActivity(ctx, "IRON", 20, 5); err != nil {
		t.Fatal(err)
	}

	e := mustEngine(t, st, baseConfig(), nil)
	if _, err := e.RunTick(ctx); err != nil {
		t.Fatal(err)
	}

	it, err := st.GetItem(ctx, "IRON")
	if err != nil {
		t.Fatal(err)
	}
	if it.Demand != 0 || it.Supply != 0 {
		t.Errorf("accumulators not reset: demand=%d supply=%d", it.Demand, it.Supply)
	}
	if it.LastDemand != 20 || it.LastSupply != 5 {
		t.Errorf("rollover lost: lastDemand=%d lastSupply=%d", it.LastDemand, it.LastSupply)
	}

	// A quiet tick must not erase the last-known activity figures.
	if _, err := e.RunTick(ctx); err != nil {
		t.Fatal(err)
	}
	it, err = st.GetItem(ctx, "IRON")
	if err != nil {
		t.Fatal(err)
	}
	if it.LastDemand != 20 || it.LastSupply != 5 {
		t.Errorf("quiet tick erased rollover: lastDemand=%d lastSupply=%d", it.LastDemand, it.LastSupply)
	}
}

// --- History retention ---

func TestRunTick_HistoryBoundedAndOrdered(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)

	cfg := baseConfig()
	cfg.HistoryRetention = 3

	e := mustEngine(t, st, cfg, nil)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		now = now.Add(5 * time.Minute)
		return now
	}

	for i := 0; i < 5; i++ {
		if err := st.RecordActivity(ctx, "IRON", 1, 0); err != nil {
			t.Fatal(err)
		}
		if _, err := e.RunTick(ctx); err != nil {
			t.Fatal(err)
		}
	}

	points, err := st.GetHistory(ctx, "IRON", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 retained points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if !points[i].Timestamp.After(points[i-1].Timestamp) {
			t.Errorf("history not strictly ordered at %d: %s vs %s",
				i, points[i-1].Timestamp, points[i].Timestamp)
		}
	}
}

// lateActivityStore injects a demand increment between the engine's
// item read and the tick commit, once.
type lateActivityStore struct {
	store.Store
	once sync.Once
}

func (s *lateActivityStore) CommitTick(ctx context.Context, symbol string, price decimal.Decimal, at time.Time, retention int, demand, supply int64) error {
	s.once.Do(func() {
		if err := s.Store.RecordActivity(ctx, symbol, 5, 0); err != nil {
			panic(err)
		}
	})
	return s.Store.CommitTick(ctx, symbol, price, at, retention, demand, supply)
}

func TestRunTick_MidTickTradesSurviveCommit(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedItem(t, mem, "IRON", 100, 1, 1000)
	if err := mem.RecordActivity(ctx, "IRON", 20, 0); err != nil {
		t.Fatal(err)
	}

	e := mustEngine(t, &lateActivityStore{Store: mem}, baseConfig(), nil)
	if _, err := e.RunTick(ctx); err != nil {
		t.Fatal(err)
	}

	it, err := mem.GetItem(ctx, "IRON")
	if err != nil {
		t.Fatal(err)
	}
	// This tick priced the 20 it read; the 5 that landed mid-tick must
	// stay queued for the next one.
	if !it.CurrentPrice.Equal(d(110)) {
		t.Errorf("expected price 110, got %s", it.CurrentPrice)
	}
	if it.Demand != 5 {
		t.Errorf("mid-tick demand lost: expected 5, got %d", it.Demand)
	}
	if it.LastDemand != 20 {
		t.Errorf("expected lastDemand 20, got %d", it.LastDemand)
	}
}

// --- Failure isolation and re-entrancy ---

// commitFailStore fails CommitTick for one symbol.
type commitFailStore struct {
	store.Store
	failSymbol string
}

func (s *commitFailStore) CommitTick(ctx context.Context, symbol string, price decimal.Decimal, at time.Time, retention int, demand, supply int64) error {
	if symbol == s.failSymbol {
		return errors.New("simulated commit failure")
	}
	return s.Store.CommitTick(ctx, symbol, price, at, retention, demand, supply)
}

func TestRunTick_ItemFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedItem(t, mem, "COAL", 100, 1, 1000)
	seedItem(t, mem, "IRON", 100, 1, 1000)
	if err := mem.RecordActivity(ctx, "IRON", 20, 0); err != nil {
		t.Fatal(err)
	}

	e := mustEngine(t, &commitFailStore{Store: mem, failSymbol: "COAL"}, baseConfig(), nil)
	report, err := e.RunTick(ctx)
	if err != nil {
		t.Fatalf("tick must not fail as a whole: %v", err)
	}
	if report.Failed != 1 || report.Updated != 1 {
		t.Errorf("expected 1 failed + 1 updated, got %+v", report)
	}
	if got := currentPrice(t, mem, "IRON"); !got.Equal(d(110)) {
		t.Errorf("surviving item not updated, price %s", got)
	}
}

func TestRunTick_RejectsOverlappingTick(t *testing.T) {
	e := mustEngine(t, store.NewMemoryStore(), baseConfig(), nil)
	e.running.Store(true)
	if _, err := e.RunTick(context.Background()); !errors.Is(err, ErrTickInProgress) {
		t.Errorf("expected ErrTickInProgress, got %v", err)
	}
}

// --- Veto hook ---

func TestRunTick_VetoReject(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)
	if err := st.RecordActivity(context.Background(), "IRON", 20, 0); err != nil {
		t.Fatal(err)
	}

	hook := VetoFunc(func(ctx context.Context, p Proposal) (Verdict, decimal.Decimal) {
		return Reject, decimal.Zero
	})
	e := mustEngine(t, st, baseConfig(), hook)
	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(100)) {
		t.Errorf("rejected change still applied: %s", got)
	}
}

func TestRunTick_VetoOverrideIsClamped(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 50, 120)
	if err := st.RecordActivity(context.Background(), "IRON", 20, 0); err != nil {
		t.Fatal(err)
	}

	hook := VetoFunc(func(ctx context.Context, p Proposal) (Verdict, decimal.Decimal) {
		return Override, d(9000)
	})
	e := mustEngine(t, st, baseConfig(), hook)
	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The hook's substitute is still subject to the hard bounds.
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(120)) {
		t.Errorf("override not clamped, price %s", got)
	}
}

func TestRunTick_VetoTimeoutCommitsProposed(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)
	if err := st.RecordActivity(context.Background(), "IRON", 20, 0); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig()
	cfg.VetoTimeout = 10 * time.Millisecond

	hook := VetoFunc(func(ctx context.Context, p Proposal) (Verdict, decimal.Decimal) {
		<-ctx.Done()
		return Reject, decimal.Zero
	})
	e := mustEngine(t, st, cfg, hook)
	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(110)) {
		t.Errorf("expected un-vetoed price 110 after timeout, got %s", got)
	}
}

// --- Pressure signals ---

func stubProvider(name string, data map[string]float64, err error) pressure.Provider {
	snap := func(ctx context.Context) (map[string]int64, error) {
		if err != nil {
			return nil, err
		}
		out := make(map[string]int64, len(data))
		for k, v := range data {
			out[k] = int64(v)
		}
		return out, nil
	}
	if name == "storage" {
		return &pressure.GlobalStorage{Snapshots: snap, On: true}
	}
	return &pressure.Inventory{Snapshots: snap, On: true}
}

func TestRunTick_AbundanceSignalLowersPrice(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)

	cfg := baseConfig()
	cfg.Sources = []Source{{
		Provider:    stubProvider("storage", map[string]float64{"IRON": 200}, nil),
		Baseline:    100,
		Sensitivity: 0.1,
	}}

	e := mustEngine(t, st, cfg, nil)
	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Stock at twice the baseline with sensitivity 0.1 is a -10% delta.
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(90)) {
		t.Errorf("expected price 90, got %s", got)
	}
}

func TestRunTick_ScarcitySignalRaisesPrice(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)

	cfg := baseConfig()
	cfg.Sources = []Source{{
		Provider:    stubProvider("storage", map[string]float64{"IRON": 50}, nil),
		Baseline:    100,
		Sensitivity: 0.1,
	}}

	e := mustEngine(t, st, cfg, nil)
	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(105)) {
		t.Errorf("expected price 105, got %s", got)
	}
}

func TestRunTick_UnavailableSignalContributesNothing(t *testing.T) {
	st := store.NewMemoryStore()
	seedItem(t, st, "IRON", 100, 1, 1000)

	cfg := baseConfig()
	cfg.Sources = []Source{{
		Provider:    stubProvider("storage", nil, errors.New("scan timed out")),
		Baseline:    100,
		Sensitivity: 0.1,
	}}

	e := mustEngine(t, st, cfg, nil)
	report, err := e.RunTick(context.Background())
	if err != nil {
		t.Fatalf("unavailable signal must not fail the tick: %v", err)
	}
	if report.Updated != 1 {
		t.Errorf("expected item still updated, got %+v", report)
	}
	if got := currentPrice(t, st, "IRON"); !got.Equal(d(100)) {
		t.Errorf("expected price unchanged at 100, got %s", got)
	}
}

func TestPressureDelta_MaxDeltaClamps(t *testing.T) {
	src := Source{Baseline: 100, Sensitivity: 1.0, MaxDelta: 0.05}
	if got := pressureDelta(1000, src); got != -0.05 {
		t.Errorf("expected -0.05, got %f", got)
	}
	if got := pressureDelta(0, src); got != 0.05 {
		t.Errorf("expected 0.05, got %f", got)
	}
}

// --- Listener ---

type recordingListener struct {
	calls []string
}

func (l *recordingListener) PriceUpdated(symbol string, oldPrice, newPrice decimal.Decimal, at time.Time) {
	l.calls = append(l.calls, symbol)
}

func TestRunTick_ListenerOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedItem(t, st, "COAL", 100, 1, 1000) // quiet, price holds
	seedItem(t, st, "IRON", 100, 1, 1000)
	if err := st.RecordActivity(ctx, "IRON", 20, 0); err != nil {
		t.Fatal(err)
	}

	lst := &recordingListener{}
	e, err := NewEngine(st, baseConfig(), nil, lst)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunTick(ctx); err != nil {
		t.Fatal(err)
	}

	if len(lst.calls) != 1 || lst.calls[0] != "IRON" {
		t.Errorf("expected one notification for IRON, got %v", lst.calls)
	}
}
