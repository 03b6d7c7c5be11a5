package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sol "github.com/gagliardetto/solana-go"

	"github.com/woofai-token/Woofaiserver/internal/claims"
)

const testPhases = `[
  {"id":"seed","rate":1000000,"allocationCap":"50000000","start":"2025-01-01T00:00:00Z","end":"2025-02-01T00:00:00Z"},
  {"id":"public","rate":"800000.5","allocationCap":40000000,"start":"2025-02-01T00:00:00Z","end":"2025-03-01T00:00:00Z"}
]`

var envKeys = []string{
	"SOLANA_RPC_ENDPOINT", "SOLANA_WS_ENDPOINT", "SECRET_KEY_ARRAY", "TREASURY_PRIVATE_KEY",
	"TOKEN_MINT", "TREASURY_RECEIVE_ADDRESS", "PRESALE_PHASES", "PRESALE_PHASES_FILE",
	"AMOUNT_POLICY", "AMOUNT_EPSILON_LAMPORTS", "ENFORCE_SENDER", "POSTGRES_DSN",
	"CLICKHOUSE_DSN", "USE_MEMORY", "PORT", "CORS_ORIGINS", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST", "CONFIRM_TIMEOUT", "RECONCILE_INTERVAL", "POLL_INTERVAL",
	"SOLANA_CLUSTER",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func newKey(t *testing.T) sol.PrivateKey {
	t.Helper()
	key, err := sol.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey failed: %v", err)
	}
	return key
}

func keyArray(key sol.PrivateKey) string {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	out, _ := json.Marshal(ints)
	return string(out)
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	key := newKey(t)
	t.Setenv("SECRET_KEY_ARRAY", keyArray(key))
	t.Setenv("PRESALE_PHASES", testPhases)

	cfg, err := Load("test", []string{"--use-memory"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RPCEndpoint != DefaultRPCEndpoint {
		t.Errorf("RPCEndpoint = %q", cfg.RPCEndpoint)
	}
	if cfg.Cluster != DefaultCluster {
		t.Errorf("Cluster = %q", cfg.Cluster)
	}
	if cfg.TokenMint != DefaultTokenMint {
		t.Errorf("TokenMint = %q", cfg.TokenMint)
	}
	if cfg.Addr != ":3000" {
		t.Errorf("Addr = %q, want :3000", cfg.Addr)
	}
	if cfg.TreasuryReceiveAddress != key.PublicKey().String() {
		t.Errorf("receive address should default to treasury wallet, got %q", cfg.TreasuryReceiveAddress)
	}
	if cfg.TreasuryOwner() != key.PublicKey().String() {
		t.Errorf("TreasuryOwner = %q", cfg.TreasuryOwner())
	}
	if cfg.AmountPolicy != claims.PolicyExact {
		t.Errorf("AmountPolicy = %q", cfg.AmountPolicy)
	}
	if cfg.EpsilonLamports != claims.DefaultEpsilonLamports {
		t.Errorf("EpsilonLamports = %d", cfg.EpsilonLamports)
	}
	if !cfg.EnforceSender {
		t.Error("EnforceSender should default to true")
	}
	if cfg.ConfirmTimeout != DefaultConfirmTimeout {
		t.Errorf("ConfirmTimeout = %v", cfg.ConfirmTimeout)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}

	if len(cfg.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(cfg.Phases))
	}
	seed := cfg.Phases[0]
	if seed.ID != "seed" || seed.Rate.String() != "1000000" || seed.AllocationCap.String() != "50000000" {
		t.Errorf("unexpected seed phase: %+v", seed)
	}
	if !seed.StartTime.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("seed start = %v", seed.StartTime)
	}
	if cfg.Phases[1].Rate.String() != "800000.5" {
		t.Errorf("public rate = %s", cfg.Phases[1].Rate)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	key := newKey(t)
	receive := newKey(t).PublicKey().String()
	t.Setenv("TREASURY_PRIVATE_KEY", key.String())
	t.Setenv("PRESALE_PHASES", testPhases)
	t.Setenv("PORT", "8080")
	t.Setenv("AMOUNT_POLICY", "exact")
	t.Setenv("ENFORCE_SENDER", "false")
	t.Setenv("CORS_ORIGINS", "https://woofai.io, https://app.woofai.io")

	cfg, err := Load("test", []string{
		"--use-memory",
		"--amount-policy", "at_least",
		"--treasury-receive-address", receive,
		"--confirm-timeout", "15s",
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.AmountPolicy != claims.PolicyAtLeast {
		t.Errorf("flag should override env, got %q", cfg.AmountPolicy)
	}
	if cfg.EnforceSender {
		t.Error("ENFORCE_SENDER=false ignored")
	}
	if cfg.TreasuryReceiveAddress != receive {
		t.Errorf("TreasuryReceiveAddress = %q", cfg.TreasuryReceiveAddress)
	}
	if cfg.ConfirmTimeout != 15*time.Second {
		t.Errorf("ConfirmTimeout = %v", cfg.ConfirmTimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://app.woofai.io" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadPhasesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_KEY_ARRAY", keyArray(newKey(t)))

	path := filepath.Join(t.TempDir(), "phases.json")
	if err := os.WriteFile(path, []byte(testPhases), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PRESALE_PHASES_FILE", path)

	cfg, err := Load("test", []string{"--use-memory"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Phases) != 2 {
		t.Errorf("expected 2 phases, got %d", len(cfg.Phases))
	}
}

func TestLoadErrors(t *testing.T) {
	key := keyArray(newKey(t))

	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr string
	}{
		{
			name:    "missing key",
			env:     map[string]string{"PRESALE_PHASES": testPhases},
			args:    []string{"--use-memory"},
			wantErr: "SECRET_KEY_ARRAY",
		},
		{
			name:    "bad key",
			env:     map[string]string{"SECRET_KEY_ARRAY": "[1,2,3]", "PRESALE_PHASES": testPhases},
			args:    []string{"--use-memory"},
			wantErr: "treasury key",
		},
		{
			name:    "missing phases",
			env:     map[string]string{"SECRET_KEY_ARRAY": key},
			args:    []string{"--use-memory"},
			wantErr: "PRESALE_PHASES",
		},
		{
			name:    "malformed phases",
			env:     map[string]string{"SECRET_KEY_ARRAY": key, "PRESALE_PHASES": `{"id":1}`},
			args:    []string{"--use-memory"},
			wantErr: "parse phases",
		},
		{
			name:    "empty phase list",
			env:     map[string]string{"SECRET_KEY_ARRAY": key, "PRESALE_PHASES": `[]`},
			args:    []string{"--use-memory"},
			wantErr: "pricing phase",
		},
		{
			name:    "bad policy",
			env:     map[string]string{"SECRET_KEY_ARRAY": key, "PRESALE_PHASES": testPhases},
			args:    []string{"--use-memory", "--amount-policy", "roughly"},
			wantErr: "amount-policy",
		},
		{
			name:    "missing postgres",
			env:     map[string]string{"SECRET_KEY_ARRAY": key, "PRESALE_PHASES": testPhases},
			wantErr: "postgres-dsn",
		},
		{
			name:    "bad mint",
			env:     map[string]string{"SECRET_KEY_ARRAY": key, "PRESALE_PHASES": testPhases},
			args:    []string{"--use-memory", "--token-mint", "nope"},
			wantErr: "token mint",
		},
		{
			name:    "zero rate limit",
			env:     map[string]string{"SECRET_KEY_ARRAY": key, "PRESALE_PHASES": testPhases},
			args:    []string{"--use-memory", "--rate-limit-rps", "0"},
			wantErr: "rate limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("test", tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("WOOFAI_ENV_FILE_PORT=4000\nTOKEN_MINT=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOKEN_MINT", "from-env")
	t.Cleanup(func() { os.Unsetenv("WOOFAI_ENV_FILE_PORT") })

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile failed: %v", err)
	}
	if got := os.Getenv("WOOFAI_ENV_FILE_PORT"); got != "4000" {
		t.Errorf("WOOFAI_ENV_FILE_PORT = %q, want 4000", got)
	}
	if got := os.Getenv("TOKEN_MINT"); got != "from-env" {
		t.Errorf("env file overrode existing variable: %q", got)
	}
}
