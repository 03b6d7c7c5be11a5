// Package api serves the presale HTTP interface.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/woofai-token/Woofaiserver/internal/disbursement"
	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/observability"
	"github.com/woofai-token/Woofaiserver/internal/pricing"
)

// maxBodyBytes bounds claim request bodies.
const maxBodyBytes = 64 << 10

// Processor handles purchase claims.
type Processor interface {
	Process(ctx context.Context, claim domain.PurchaseClaim) (*disbursement.Result, error)
}

// RecordReader reads disbursement records and phase totals.
type RecordReader interface {
	GetRecord(ctx context.Context, reference string) (*domain.DisbursementRecord, error)
	Stats(ctx context.Context, phaseID string) (*domain.PhaseStats, error)
}

// Config holds HTTP-layer settings.
type Config struct {
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	Cluster        string
	Logger         *slog.Logger
}

// Server routes HTTP requests to the claim engine and read-only views.
type Server struct {
	engine   Processor
	schedule *pricing.Schedule
	mint     pricing.MintSource
	records  RecordReader
	limiter  *ipLimiter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer creates a server.
func NewServer(engine Processor, schedule *pricing.Schedule, mint pricing.MintSource, records RecordReader, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		schedule: schedule,
		mint:     mint,
		records:  records,
		limiter:  newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors(s.cfg.CORSOrigins))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", observability.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Post("/verify", s.handleVerify)
		r.Post("/buy-tokens", s.handleVerify)
		r.Get("/presale-info", s.handlePresaleInfo)
		r.Get("/disbursements/{reference}", s.handleGetDisbursement)
	})
	return r
}

// RunLimiterGC evicts idle rate-limit buckets until ctx is done.
func (s *Server) RunLimiterGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.evict(s.now().Add(-idleBucketTTL))
		}
	}
}

// ExplorerURL returns the block explorer link for a transaction signature.
func ExplorerURL(cluster, signature string) string {
	base := "https://explorer.solana.com/tx/" + signature
	switch cluster {
	case "devnet", "testnet":
		return base + "?cluster=" + cluster
	default:
		return base
	}
}
