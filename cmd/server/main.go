package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/swapline/pool-engine/internal/custody"
	"github.com/swapline/pool-engine/internal/metrics"
	"github.com/swapline/pool-engine/internal/position"
	"github.com/swapline/pool-engine/internal/service"
	"github.com/swapline/pool-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	admin := os.Getenv("POOL_ADMIN")
	if admin == "" {
		admin = "factory"
	}

	// --- Initialize store ---
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
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Custody and positions ---
	vault := custody.NewVault()
	if err := seedAssets(vault, os.Getenv("SEED_ASSETS")); err != nil {
		slog.Error("invalid SEED_ASSETS", "err", err)
		os.Exit(1)
	}
	dir := position.NewDirectory(admin)

	// --- WebSocket hub ---
	wsHub := service.NewWSHub()
	go wsHub.Run()

	// --- Pool service ---
	poolSvc := service.NewService(admin, vault, dir, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"pool-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time pool events.
		r.Get("/ws", wsHub.HandleWS)

		// Pool management.
		r.Get("/pools", poolSvc.ListPools)
		r.Post("/pools", poolSvc.CreatePool)
		r.Get("/pools/{poolID}", poolSvc.GetPool)
		r.Get("/pools/{poolID}/price", poolSvc.GetPrice)
		r.Get("/pools/{poolID}/quote", poolSvc.GetQuote)
		r.Get("/pools/{poolID}/events", poolSvc.GetPoolEvents)

		// Liquidity and swaps.
		r.Post("/pools/{poolID}/liquidity", poolSvc.AddLiquidity)
		r.Delete("/pools/{poolID}/liquidity", poolSvc.RemoveLiquidity)
		r.Post("/pools/{poolID}/swap", poolSvc.Swap)

		// Position queries.
		r.Get("/positions/{owner}", poolSvc.ListPositions)
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
		slog.Info("pool-engine listening", "port", port)
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

	slog.Info("shutting down pool-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("pool-engine stopped")
}

// seedAssets registers assets from a spec of the form
// "SYMBOL:supply:holder,SYMBOL:supply:holder". Used for development and
// demo deployments; production custody is provisioned out of band.
func seedAssets(vault *custody.Vault, spec string) error {
	if spec == "" {
		return nil
	}
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return fmt.Errorf("malformed asset entry %q", entry)
		}
		supply, err := uint256.FromDecimal(parts[1])
		if err != nil {
			return fmt.Errorf("asset %s: %w", parts[0], err)
		}
		if err := vault.NewAsset(parts[0], parts[0], supply, parts[2]); err != nil {
			return err
		}
		slog.Info("asset registered", "symbol", parts[0], "supply", parts[1], "holder", parts[2])
	}
	return nil
}
