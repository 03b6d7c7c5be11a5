// Package main resolves open disbursement reservations once and exits.
// Reservations whose transfer landed are settled; expired ones are released.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/woofai-token/Woofaiserver/internal/config"
	"github.com/woofai-token/Woofaiserver/internal/disbursement"
	"github.com/woofai-token/Woofaiserver/internal/ledger"
	"github.com/woofai-token/Woofaiserver/internal/solana"
	pgstore "github.com/woofai-token/Woofaiserver/internal/storage/postgres"
)

type openReservation struct {
	TransactionReference string `json:"transactionReference"`
	Status               string `json:"status"`
	TokenAmount          uint64 `json:"tokenAmount"`
	PhaseID              string `json:"phaseId"`
	TransferSignature    string `json:"transferSignature"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	dryRun := flag.Bool("dry-run", false, "List open reservations without resolving them")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", "reconcile")

	if *postgresDSN == "" {
		logger.Error("--postgres-dsn is required")
		os.Exit(2)
	}
	if !*dryRun && *rpcEndpoint == "" {
		logger.Error("--rpc-endpoint is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, stopping", "signal", sig.String())
		cancel()
	}()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := pgstore.NewDisbursementStore(pool)

	if *dryRun {
		open, err := store.ListOpen(ctx, 0)
		if err != nil {
			logger.Error("list open reservations", "error", err)
			os.Exit(1)
		}
		out := make([]openReservation, 0, len(open))
		for _, r := range open {
			out = append(out, openReservation{
				TransactionReference: r.TransactionReference,
				Status:               string(r.Status),
				TokenAmount:          r.TokenAmount,
				PhaseID:              r.PhaseID,
				TransferSignature:    r.TransferSignature,
				LastValidBlockHeight: r.LastValidBlockHeight,
			})
		}
		printJSON(out)
		return
	}

	client := ledger.NewClient(solana.NewHTTPClient(*rpcEndpoint), ledger.WithLogger(logger))
	reconciler := disbursement.NewReconciler(store, client, logger)

	counts, err := reconciler.RunOnce(ctx)
	if err != nil {
		logger.Error("reconcile failed", "error", err)
		os.Exit(1)
	}
	printJSON(counts)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
