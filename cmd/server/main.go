package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bazaarlabs/goods-engine/internal/config"
	"github.com/bazaarlabs/goods-engine/internal/ledger"
	"github.com/bazaarlabs/goods-engine/internal/metrics"
	"github.com/bazaarlabs/goods-engine/internal/pressure"
	"github.com/bazaarlabs/goods-engine/internal/pricing"
	"github.com/bazaarlabs/goods-engine/internal/scheduler"
	"github.com/bazaarlabs/goods-engine/internal/store"
	"github.com/bazaarlabs/goods-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Seed catalog ---
	if cfg.CatalogFile != "" {
		seedCatalog(st, cfg.CatalogFile)
	}

	// --- Ledger and trade service ---
	lg := ledger.New(st, cfg.HoldingsCapacity)

	wsHub := trade.NewWSHub()
	go wsHub.Run()

	tradeSvc := trade.NewService(st, lg, wsHub)

	// --- Price update engine ---
	// Pressure snapshot functions come from external collaborators
	// (inventory scanner, storage scanner); without them the signals
	// stay disabled and only trade pressure moves prices.
	engineCfg := pricing.Config{
		Sensitivity:      cfg.Sensitivity,
		SmoothingEnabled: cfg.SmoothingEnabled,
		Alpha:            cfg.SmoothingAlpha,
		MaxTickChange:    cfg.MaxTickChange,
		HistoryRetention: cfg.HistoryRetention,
		VetoTimeout:      cfg.VetoTimeout,
		Sources: []pricing.Source{
			{
				Provider:    &pressure.Inventory{On: cfg.InventorySignalEnabled},
				Baseline:    cfg.InventoryBaseline,
				Sensitivity: cfg.InventorySensitivity,
				MaxDelta:    cfg.InventoryMaxDelta,
			},
			{
				Provider:    &pressure.GlobalStorage{On: cfg.StorageSignalEnabled},
				Baseline:    cfg.StorageBaseline,
				Sensitivity: cfg.StorageSensitivity,
				MaxDelta:    cfg.StorageMaxDelta,
			},
		},
	}

	engine, err := pricing.NewEngine(st, engineCfg, nil, wsHub)
	if err != nil {
		slog.Error("engine configuration invalid", "err", err)
		os.Exit(1)
	}

	// --- Tick scheduler ---
	runCtx, stopTicks := context.WithCancel(context.Background())
	defer stopTicks()

	sched := scheduler.New(runCtx)
	sched.Every(cfg.TickInterval, func(ctx context.Context) {
		if _, err := engine.RunTick(ctx); err != nil {
			slog.Error("tick failed", "err", err)
		}
	})
	sched.Start()
	slog.Info("price ticks scheduled", "interval", cfg.TickInterval.String())

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.ReadTimeout + cfg.WriteTimeout))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"goods-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", wsHub.HandleWS)

		// Catalog and pricing reads.
		r.Get("/items", tradeSvc.ListItems)
		r.Get("/items/{symbol}", tradeSvc.GetItem)
		r.Get("/items/{symbol}/price", tradeSvc.GetPrice)
		r.Get("/items/{symbol}/history", tradeSvc.GetHistory)

		// Trade execution.
		r.Post("/trade", tradeSvc.ExecuteTrade)

		// Ledger reads.
		r.Get("/holdings/{owner}", tradeSvc.GetHoldings)
		r.Get("/receipts/{owner}", tradeSvc.GetReceipts)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		slog.Info("goods-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down goods-engine...")
	stopTicks()
	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("goods-engine stopped")
}

// seedCatalog creates any catalog items not yet present in the store.
// Invalid entries are logged and skipped; an existing item keeps its
// state.
func seedCatalog(st store.Store, path string) {
	items, invalid, err := config.LoadCatalog(path)
	if err != nil {
		slog.Error("catalog load failed", "path", path, "err", err)
		os.Exit(1)
	}

	for _, inv := range invalid {
		slog.Error("catalog item rejected", "item", inv.Symbol, "err", inv.Err)
	}

	ctx := context.Background()
	seeded := 0
	for i := range items {
		it := items[i]
		if err := st.CreateItem(ctx, &it); err != nil {
			if isAlreadyExists(err) {
				continue
			}
			slog.Error("catalog seed failed", "item", it.Symbol, "err", err)
			continue
		}
		seeded++
	}
	slog.Info("catalog seeded", "new", seeded, "rejected", len(invalid))
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505" // unique_violation
	}
	return strings.Contains(err.Error(), "already exists")
}
