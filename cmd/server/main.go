// Package main runs the presale disbursement service:
// - HTTP API: /verify, /buy-tokens, /presale-info, /disbursements, /health, /metrics
// - Reconciler (scheduled): resolves reservations left open by timed-out transfers
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/woofai-token/Woofaiserver/internal/api"
	"github.com/woofai-token/Woofaiserver/internal/claims"
	"github.com/woofai-token/Woofaiserver/internal/config"
	"github.com/woofai-token/Woofaiserver/internal/disbursement"
	"github.com/woofai-token/Woofaiserver/internal/ledger"
	"github.com/woofai-token/Woofaiserver/internal/pricing"
	"github.com/woofai-token/Woofaiserver/internal/solana"
	"github.com/woofai-token/Woofaiserver/internal/storage"
	chstore "github.com/woofai-token/Woofaiserver/internal/storage/clickhouse"
	"github.com/woofai-token/Woofaiserver/internal/storage/memory"
	"github.com/woofai-token/Woofaiserver/internal/storage/migrations"
	pgstore "github.com/woofai-token/Woofaiserver/internal/storage/postgres"
)

const (
	shutdownTimeout   = 30 * time.Second
	limiterGCPeriod   = time.Minute
	readHeaderTimeout = 10 * time.Second
)

// stores holds the storage implementations.
type stores struct {
	disbursements storage.DisbursementStore
	audit         storage.AuditStore
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "presale")
	slog.SetDefault(logger)

	if err := config.LoadEnvFile(".env"); err != nil {
		logger.Error("load env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("create stores", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	srv, reconciler, closeLedger, err := buildService(ctx, cfg, st, logger)
	if err != nil {
		logger.Error("build service", "error", err)
		os.Exit(1)
	}
	defer closeLedger()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()

		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			logger.Error("graceful shutdown timed out, forcing exit", "timeout", shutdownTimeout)
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, srv, reconciler, logger)
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// buildService wires the ledger, validator, calculator, executor and engine.
func buildService(ctx context.Context, cfg *config.Config, st *stores, logger *slog.Logger) (*api.Server, *disbursement.Reconciler, func(), error) {
	rpc := solana.NewHTTPClient(cfg.RPCEndpoint)
	slot, err := rpc.GetSlot(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to rpc %s: %w", cfg.RPCEndpoint, err)
	}
	logger.Info("connected to rpc", "endpoint", cfg.RPCEndpoint, "slot", slot)

	opts := []ledger.Option{
		ledger.WithPollInterval(cfg.PollInterval),
		ledger.WithLogger(logger.With("component", "ledger")),
	}
	closeWS := func() {}
	if cfg.WSEndpoint != "" {
		ws, err := solana.NewWSClient(ctx, cfg.WSEndpoint, nil)
		if err != nil {
			logger.Warn("websocket unavailable, confirming by polling", "error", err)
		} else {
			opts = append(opts, ledger.WithWebsocket(ws))
			closeWS = func() { _ = ws.Close() }
		}
	}
	client := ledger.NewClient(rpc, opts...)

	treasury, err := ledger.NewTreasury(client, rpc, cfg.TreasuryKey, cfg.TokenMint, logger.With("component", "treasury"))
	if err != nil {
		closeWS()
		return nil, nil, nil, fmt.Errorf("create treasury: %w", err)
	}
	if _, err := treasury.Mint(ctx); err != nil {
		closeWS()
		return nil, nil, nil, fmt.Errorf("load mint %s: %w", cfg.TokenMint, err)
	}
	if _, err := treasury.ResolveTokenAccount(ctx, treasury.TreasuryOwner()); err != nil {
		logger.Warn("treasury token account not found; claims will fail until it exists",
			"treasury", treasury.TreasuryOwner(), "error", err)
	}

	validator, err := claims.NewValidator(claims.Config{
		TreasuryAddress: cfg.TreasuryReceiveAddress,
		Policy:          cfg.AmountPolicy,
		EpsilonLamports: cfg.EpsilonLamports,
		EnforceSender:   cfg.EnforceSender,
	}, st.disbursements, client, logger.With("component", "claims"))
	if err != nil {
		closeWS()
		return nil, nil, nil, fmt.Errorf("create validator: %w", err)
	}

	schedule, err := pricing.NewSchedule(cfg.Phases)
	if err != nil {
		closeWS()
		return nil, nil, nil, fmt.Errorf("pricing schedule: %w", err)
	}
	calculator := pricing.NewCalculator(schedule, treasury, st.disbursements)

	reconciler := disbursement.NewReconciler(st.disbursements, client, logger.With("component", "reconciler"))
	executor := disbursement.NewExecutor(st.disbursements, client, treasury, treasury, reconciler, disbursement.ExecutorConfig{
		ConfirmTimeout: cfg.ConfirmTimeout,
		Logger:         logger.With("component", "executor"),
	})
	engine := disbursement.NewEngine(validator, calculator, executor, st.disbursements, st.audit, logger.With("component", "engine"))

	srv := api.NewServer(engine, schedule, treasury, st.disbursements, api.Config{
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Cluster:        cfg.Cluster,
		Logger:         logger.With("component", "api"),
	})

	logger.Info("service ready",
		"treasury", treasury.TreasuryOwner(),
		"receive_address", cfg.TreasuryReceiveAddress,
		"mint", cfg.TokenMint,
		"phases", len(schedule.Phases()),
		"amount_policy", string(cfg.AmountPolicy),
		"enforce_sender", cfg.EnforceSender,
	)
	return srv, reconciler, closeWS, nil
}

// run serves HTTP and runs the reconciler until ctx is canceled or a
// component fails.
func run(ctx context.Context, cfg *config.Config, srv *api.Server, reconciler *disbursement.Reconciler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		srv.RunLimiterGC(ctx, limiterGCPeriod)
		return nil
	})

	if cfg.ReconcileInterval > 0 {
		g.Go(func() error {
			err := reconciler.Run(ctx, cfg.ReconcileInterval)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("reconciler: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// createStores creates storage: memory, or PostgreSQL with an optional
// ClickHouse audit log. A nil audit store disables auditing.
func createStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, func(), error) {
	if cfg.UseMemory {
		logger.Warn("using in-memory storage; disbursement records are lost on restart")
		return &stores{
			disbursements: memory.NewDisbursementStore(),
			audit:         memory.NewAuditStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	st := &stores{disbursements: pgstore.NewDisbursementStore(pool)}
	cleanup := func() { pool.Close() }

	if cfg.ClickhouseDSN == "" {
		logger.Info("no clickhouse dsn; audit log disabled")
		return st, cleanup, nil
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	st.audit = chstore.NewAuditStore(chConn)

	return st, func() {
		chConn.Close()
		pool.Close()
	}, nil
}
