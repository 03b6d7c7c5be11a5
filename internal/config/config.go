// Package config loads service settings from flags, the environment, and an
// optional .env file.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/woofai-token/Woofaiserver/internal/claims"
	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/ledger"
)

// Defaults.
const (
	DefaultRPCEndpoint       = "https://api.mainnet-beta.solana.com"
	DefaultCluster           = "mainnet-beta"
	DefaultTokenMint         = "GhX61gZrBwmGQfQWyL7jvjANnLN6smHcYDZxYrA5yfcn"
	DefaultPort              = "3000"
	DefaultRateLimitRPS      = 5.0
	DefaultRateLimitBurst    = 10
	DefaultConfirmTimeout    = 60 * time.Second
	DefaultReconcileInterval = 30 * time.Second
	DefaultPollInterval      = 2 * time.Second
)

// Config holds all service settings. It is immutable after Load.
type Config struct {
	RPCEndpoint string
	WSEndpoint  string // optional; enables signatureSubscribe
	Cluster     string // explorer links: mainnet-beta, devnet or testnet

	TreasuryKey            sol.PrivateKey
	TokenMint              string
	TreasuryReceiveAddress string // defaults to the treasury wallet

	Phases          []domain.PricingPhase
	AmountPolicy    claims.AmountPolicy
	EpsilonLamports uint64
	EnforceSender   bool

	PostgresDSN   string
	ClickhouseDSN string // optional audit sink
	UseMemory     bool

	Addr              string
	CORSOrigins       []string
	RateLimitRPS      float64
	RateLimitBurst    int
	ConfirmTimeout    time.Duration
	ReconcileInterval time.Duration
	PollInterval      time.Duration
}

// LoadEnvFile loads variables from path without overriding the real
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses args with environment-variable defaults and validates the result.
func Load(name string, args []string) (*Config, error) {
	fsFlags := flag.NewFlagSet(name, flag.ContinueOnError)

	rpcEndpoint := fsFlags.String("rpc-endpoint", envOr("SOLANA_RPC_ENDPOINT", DefaultRPCEndpoint), "Solana RPC HTTP endpoint")
	wsEndpoint := fsFlags.String("ws-endpoint", os.Getenv("SOLANA_WS_ENDPOINT"), "Solana WebSocket endpoint (optional)")
	cluster := fsFlags.String("cluster", envOr("SOLANA_CLUSTER", DefaultCluster), "Cluster name for explorer links")
	tokenMint := fsFlags.String("token-mint", envOr("TOKEN_MINT", DefaultTokenMint), "Presale token mint")
	receive := fsFlags.String("treasury-receive-address", os.Getenv("TREASURY_RECEIVE_ADDRESS"), "Address buyers pay SOL to (default: treasury wallet)")
	phases := fsFlags.String("presale-phases", os.Getenv("PRESALE_PHASES"), "Pricing phases as JSON")
	phasesFile := fsFlags.String("presale-phases-file", os.Getenv("PRESALE_PHASES_FILE"), "Path to pricing phases JSON")
	policy := fsFlags.String("amount-policy", envOr("AMOUNT_POLICY", string(claims.PolicyExact)), "Amount match policy: exact or at_least")
	epsilon := fsFlags.Uint64("amount-epsilon-lamports", envUint("AMOUNT_EPSILON_LAMPORTS", claims.DefaultEpsilonLamports), "Amount match tolerance in lamports")
	enforceSender := fsFlags.Bool("enforce-sender", envBool("ENFORCE_SENDER", true), "Require payments to come from the buyer")
	postgresDSN := fsFlags.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := fsFlags.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional audit log)")
	useMemory := fsFlags.Bool("use-memory", envBool("USE_MEMORY", false), "Use in-memory storage instead of PostgreSQL")
	addr := fsFlags.String("addr", ":"+envOr("PORT", DefaultPort), "HTTP listen address")
	corsOrigins := fsFlags.String("cors-origins", envOr("CORS_ORIGINS", "*"), "Comma-separated allowed CORS origins")
	rps := fsFlags.Float64("rate-limit-rps", envFloat("RATE_LIMIT_RPS", DefaultRateLimitRPS), "Per-client request rate")
	burst := fsFlags.Int("rate-limit-burst", envInt("RATE_LIMIT_BURST", DefaultRateLimitBurst), "Per-client burst")
	confirmTimeout := fsFlags.Duration("confirm-timeout", envDuration("CONFIRM_TIMEOUT", DefaultConfirmTimeout), "Transfer confirmation timeout")
	reconcileInterval := fsFlags.Duration("reconcile-interval", envDuration("RECONCILE_INTERVAL", DefaultReconcileInterval), "Reconcile interval (0 disables)")
	pollInterval := fsFlags.Duration("poll-interval", envDuration("POLL_INTERVAL", DefaultPollInterval), "Signature status poll interval")

	if err := fsFlags.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCEndpoint:            *rpcEndpoint,
		WSEndpoint:             *wsEndpoint,
		Cluster:                *cluster,
		TokenMint:              *tokenMint,
		TreasuryReceiveAddress: *receive,
		AmountPolicy:           claims.AmountPolicy(*policy),
		EpsilonLamports:        *epsilon,
		EnforceSender:          *enforceSender,
		PostgresDSN:            *postgresDSN,
		ClickhouseDSN:          *clickhouseDSN,
		UseMemory:              *useMemory,
		Addr:                   *addr,
		CORSOrigins:            splitList(*corsOrigins),
		RateLimitRPS:           *rps,
		RateLimitBurst:         *burst,
		ConfirmTimeout:         *confirmTimeout,
		ReconcileInterval:      *reconcileInterval,
		PollInterval:           *pollInterval,
	}

	key, err := loadKey()
	if err != nil {
		return nil, err
	}
	cfg.TreasuryKey = key
	if cfg.TreasuryReceiveAddress == "" {
		cfg.TreasuryReceiveAddress = key.PublicKey().String()
	}

	raw := *phases
	if raw == "" && *phasesFile != "" {
		data, err := os.ReadFile(*phasesFile)
		if err != nil {
			return nil, fmt.Errorf("read phases file: %w", err)
		}
		raw = string(data)
	}
	cfg.Phases, err = ParsePhases(raw)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadKey reads the treasury key from SECRET_KEY_ARRAY (JSON byte array)
// or TREASURY_PRIVATE_KEY (base58).
func loadKey() (sol.PrivateKey, error) {
	raw := os.Getenv("SECRET_KEY_ARRAY")
	if raw == "" {
		raw = os.Getenv("TREASURY_PRIVATE_KEY")
	}
	if raw == "" {
		return nil, errors.New("SECRET_KEY_ARRAY or TREASURY_PRIVATE_KEY is required")
	}
	key, err := ledger.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("treasury key: %w", err)
	}
	return key, nil
}

// phaseJSON is the wire form of a pricing phase. Rate and allocation accept
// JSON numbers or strings.
type phaseJSON struct {
	ID            string          `json:"id"`
	Rate          decimal.Decimal `json:"rate"`
	AllocationCap decimal.Decimal `json:"allocationCap"`
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
}

// ParsePhases decodes the pricing schedule JSON array.
func ParsePhases(raw string) ([]domain.PricingPhase, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("PRESALE_PHASES or PRESALE_PHASES_FILE is required")
	}
	var items []phaseJSON
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("parse phases: %w", err)
	}
	out := make([]domain.PricingPhase, 0, len(items))
	for _, p := range items {
		out = append(out, domain.PricingPhase{
			ID:            p.ID,
			Rate:          p.Rate,
			AllocationCap: p.AllocationCap,
			StartTime:     p.Start.UTC(),
			EndTime:       p.End.UTC(),
		})
	}
	return out, nil
}

// Validate checks settings that do not need network access. Phase ordering
// is checked by pricing.NewSchedule.
func (c *Config) Validate() error {
	if c.RPCEndpoint == "" {
		return errors.New("--rpc-endpoint is required")
	}
	if len(c.TreasuryKey) != 64 {
		return errors.New("treasury key must be 64 bytes")
	}
	if _, err := sol.PublicKeyFromBase58(c.TokenMint); err != nil {
		return fmt.Errorf("invalid token mint %q: %w", c.TokenMint, err)
	}
	if _, err := sol.PublicKeyFromBase58(c.TreasuryReceiveAddress); err != nil {
		return fmt.Errorf("invalid treasury receive address %q: %w", c.TreasuryReceiveAddress, err)
	}
	if len(c.Phases) == 0 {
		return errors.New("at least one pricing phase is required")
	}
	if !c.AmountPolicy.IsValid() {
		return fmt.Errorf("--amount-policy must be %q or %q", claims.PolicyExact, claims.PolicyAtLeast)
	}
	if !c.UseMemory && c.PostgresDSN == "" {
		return errors.New("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("rate limit rps and burst must be positive")
	}
	if c.ConfirmTimeout <= 0 {
		return errors.New("--confirm-timeout must be positive")
	}
	if c.ReconcileInterval < 0 {
		return errors.New("--reconcile-interval must not be negative")
	}
	if c.PollInterval <= 0 {
		return errors.New("--poll-interval must be positive")
	}
	return nil
}

// TreasuryOwner returns the treasury wallet address.
func (c *Config) TreasuryOwner() string {
	return c.TreasuryKey.PublicKey().String()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envUint(key string, def uint64) uint64 {
	if v, err := strconv.ParseUint(os.Getenv(key), 10, 64); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
