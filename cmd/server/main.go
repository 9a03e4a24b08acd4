package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/quantfab/paper-engine/internal/config"
	"github.com/quantfab/paper-engine/internal/engine"
	"github.com/quantfab/paper-engine/internal/feed"
	"github.com/quantfab/paper-engine/internal/kline"
	"github.com/quantfab/paper-engine/internal/ledger"
	"github.com/quantfab/paper-engine/internal/metrics"
	"github.com/quantfab/paper-engine/internal/paper"
	"github.com/quantfab/paper-engine/internal/risk"
	"github.com/quantfab/paper-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Configuration ---
	var cfg *config.Config
	var err error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	// Leverage is accepted as configuration but not applied to margin
	// math; surface that loudly rather than silently ignoring it.
	if leveraged := cfg.LeveragedSymbols(); len(leveraged) > 0 {
		slog.Warn("leverage configured but not applied (margin accounting unsupported)",
			"symbols", leveraged)
	}

	// --- History store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory history store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Risk limits ---
	var limiter *risk.Limiter
	if cfg.MaxPositionQty.IsPositive() || cfg.MaxOpenNotional.IsPositive() {
		limiter = risk.NewLimiter(cfg.MaxPositionQty, cfg.MaxOpenNotional)
		slog.Info("position limits enabled",
			"max_position_qty", cfg.MaxPositionQty.String(),
			"max_open_notional", cfg.MaxOpenNotional.String())
	}

	// --- Ledger + engine ---
	led := ledger.New(cfg.InitialBalance)
	eng := engine.New(led, cfg, limiter)
	slog.Info("account ledger initialized", "initial_balance", cfg.InitialBalance.String())

	// --- WebSocket hub ---
	wsHub := paper.NewWSHub()
	go wsHub.Run()

	// --- Orchestration loop ---
	agg := kline.NewAggregator(st, time.Minute)
	loop := paper.NewLoop(eng, st, wsHub, agg)

	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()
	go loop.Run(loopCtx)

	// --- Market-data bridge (optional) ---
	if feedURL := os.Getenv("MARKET_WS_URL"); feedURL != "" {
		go feed.NewClient(feedURL, loop).Run(loopCtx)
		slog.Info("market-data bridge enabled", "url", feedURL)
	}

	// --- HTTP service ---
	svc := paper.NewService(loop, st)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"paper-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for streaming reports and ticks.
		r.Get("/ws", wsHub.HandleWS)
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("paper-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down paper-engine...")
	loopCancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("paper-engine stopped")
}
