package claims

import (
	"context"
	"errors"
	"testing"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/ledger/stub"
	"github.com/woofai-token/Woofaiserver/internal/storage/memory"
)

func randomWallet(t *testing.T) string {
	t.Helper()
	key, err := sol.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey failed: %v", err)
	}
	return key.PublicKey().String()
}

func reference(seed byte) string {
	sig := make([]byte, 64)
	for i := range sig {
		sig[i] = seed + byte(i)
	}
	return base58.Encode(sig)
}

type fixture struct {
	validator *Validator
	chain     *stub.Chain
	store     *memory.DisbursementStore
	treasury  string
	buyer     string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		treasury: randomWallet(t),
		buyer:    randomWallet(t),
		store:    memory.NewDisbursementStore(),
	}
	f.chain = stub.NewChain(f.treasury)
	cfg.TreasuryAddress = f.treasury
	v, err := NewValidator(cfg, f.store, f.chain, nil)
	if err != nil {
		t.Fatalf("NewValidator failed: %v", err)
	}
	f.validator = v
	return f
}

func (f *fixture) claim(ref string, amount string) domain.PurchaseClaim {
	return domain.PurchaseClaim{
		TransactionReference: ref,
		BuyerAddress:         f.buyer,
		NativeAmount:         decimal.RequireFromString(amount),
	}
}

func TestValidateAcceptsGenuinePayment(t *testing.T) {
	f := newFixture(t, Config{EpsilonLamports: DefaultEpsilonLamports, EnforceSender: true})
	ref := reference(1)
	f.chain.AddPayment(ref, f.buyer, f.treasury, 1_000_000_000)

	got, err := f.validator.Validate(context.Background(), f.claim(ref, "1"))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got.NativeLamports != 1_000_000_000 {
		t.Errorf("expected 1e9 lamports, got %d", got.NativeLamports)
	}
	if !got.Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("expected block time, got %v", got.Timestamp)
	}
	if got.BuyerAddress != f.buyer || got.TransactionReference != ref {
		t.Errorf("unexpected purchase: %+v", got)
	}
}

func TestValidateUsesLedgerAmountWithinEpsilon(t *testing.T) {
	f := newFixture(t, Config{EpsilonLamports: DefaultEpsilonLamports})
	ref := reference(2)
	f.chain.AddPayment(ref, f.buyer, f.treasury, 999_995_000)

	got, err := f.validator.Validate(context.Background(), f.claim(ref, "1"))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got.NativeLamports != 999_995_000 {
		t.Errorf("quantity must come from the ledger amount, got %d", got.NativeLamports)
	}
}

func TestValidateSumsAllCreditingTransfers(t *testing.T) {
	f := newFixture(t, Config{EnforceSender: true})
	ref := reference(3)
	f.chain.AddTransaction(&domain.LedgerTransaction{
		Reference: ref,
		Confirmed: true,
		Transfers: []domain.NativeTransfer{
			{Source: f.buyer, Destination: f.treasury, Lamports: 300_000_000},
			{Source: f.buyer, Destination: randomWallet(t), Lamports: 5_000},
			{Source: f.buyer, Destination: f.treasury, Lamports: 200_000_000},
		},
	})

	got, err := f.validator.Validate(context.Background(), f.claim(ref, "0.5"))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got.NativeLamports != 500_000_000 {
		t.Errorf("expected 5e8, got %d", got.NativeLamports)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		setup   func(f *fixture, ref string)
		amount  string
		wantErr error
	}{
		{
			name:    "unknown transaction",
			setup:   func(f *fixture, ref string) {},
			amount:  "1",
			wantErr: domain.ErrUnconfirmedTransaction,
		},
		{
			name: "not confirmed",
			setup: func(f *fixture, ref string) {
				f.chain.AddTransaction(&domain.LedgerTransaction{Reference: ref})
			},
			amount:  "1",
			wantErr: domain.ErrUnconfirmedTransaction,
		},
		{
			name: "failed on-chain",
			setup: func(f *fixture, ref string) {
				f.chain.AddTransaction(&domain.LedgerTransaction{
					Reference: ref,
					Confirmed: true,
					Err:       "InstructionError",
					Transfers: []domain.NativeTransfer{{Source: f.buyer, Destination: f.treasury, Lamports: 1_000_000_000}},
				})
			},
			amount:  "1",
			wantErr: domain.ErrUnconfirmedTransaction,
		},
		{
			name: "paid someone else",
			setup: func(f *fixture, ref string) {
				f.chain.AddPayment(ref, f.buyer, "11111111111111111111111111111112", 1_000_000_000)
			},
			amount:  "1",
			wantErr: domain.ErrWrongRecipient,
		},
		{
			name: "underpaid",
			setup: func(f *fixture, ref string) {
				f.chain.AddPayment(ref, f.buyer, f.treasury, 500_000_000)
			},
			amount:  "1",
			wantErr: domain.ErrAmountMismatch,
		},
		{
			name: "overpaid under exact policy",
			cfg:  Config{Policy: PolicyExact, EpsilonLamports: DefaultEpsilonLamports},
			setup: func(f *fixture, ref string) {
				f.chain.AddPayment(ref, f.buyer, f.treasury, 2_000_000_000)
			},
			amount:  "1",
			wantErr: domain.ErrAmountMismatch,
		},
		{
			name: "sender is not buyer",
			cfg:  Config{EnforceSender: true},
			setup: func(f *fixture, ref string) {
				f.chain.AddPayment(ref, "11111111111111111111111111111112", f.treasury, 1_000_000_000)
			},
			amount:  "1",
			wantErr: domain.ErrSenderMismatch,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cfg)
			ref := reference(byte(10 + i))
			tt.setup(f, ref)

			_, err := f.validator.Validate(context.Background(), f.claim(ref, tt.amount))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateAtLeastPolicyAcceptsOverpayment(t *testing.T) {
	f := newFixture(t, Config{Policy: PolicyAtLeast})
	ref := reference(30)
	f.chain.AddPayment(ref, f.buyer, f.treasury, 2_000_000_000)

	got, err := f.validator.Validate(context.Background(), f.claim(ref, "1"))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got.NativeLamports != 2_000_000_000 {
		t.Errorf("expected ledger amount 2e9, got %d", got.NativeLamports)
	}
}

func TestValidateSenderBindingDisabled(t *testing.T) {
	f := newFixture(t, Config{EnforceSender: false})
	ref := reference(31)
	f.chain.AddPayment(ref, randomWallet(t), f.treasury, 1_000_000_000)

	if _, err := f.validator.Validate(context.Background(), f.claim(ref, "1")); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateAlreadyProcessed(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	ref := reference(32)
	f.chain.AddPayment(ref, f.buyer, f.treasury, 1_000_000_000)

	err := f.store.Reserve(ctx, &domain.Reservation{
		TransactionReference: ref,
		BuyerAddress:         f.buyer,
		ReceivingAccount:     "ata",
		TokenAmount:          10,
		NativeLamports:       1_000_000_000,
		PhaseID:              "p1",
		TransferSignature:    "transfer",
	}, 100)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if _, err := f.store.Settle(ctx, ref, time.Now()); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	_, err = f.validator.Validate(ctx, f.claim(ref, "1"))
	if !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	var ape *domain.AlreadyProcessedError
	if !errors.As(err, &ape) || ape.Record.LedgerTxReference != "transfer" {
		t.Errorf("expected prior record, got %v", err)
	}
}

func TestCheckStructure(t *testing.T) {
	buyer := randomWallet(t)
	mint := sol.MustPublicKeyFromBase58("GhX61gZrBwmGQfQWyL7jvjANnLN6smHcYDZxYrA5yfcn")
	pda, _, err := sol.FindAssociatedTokenAddress(sol.MustPublicKeyFromBase58(buyer), mint)
	if err != nil {
		t.Fatalf("FindAssociatedTokenAddress failed: %v", err)
	}

	tests := []struct {
		name    string
		claim   domain.PurchaseClaim
		want    uint64
		wantErr bool
	}{
		{
			name:  "valid",
			claim: domain.PurchaseClaim{TransactionReference: reference(1), BuyerAddress: buyer, NativeAmount: decimal.RequireFromString("0.25")},
			want:  250_000_000,
		},
		{
			name:  "one lamport",
			claim: domain.PurchaseClaim{TransactionReference: reference(1), BuyerAddress: buyer, NativeAmount: decimal.RequireFromString("0.000000001")},
			want:  1,
		},
		{
			name:    "empty reference",
			claim:   domain.PurchaseClaim{BuyerAddress: buyer, NativeAmount: decimal.NewFromInt(1)},
			wantErr: true,
		},
		{
			name:    "short reference",
			claim:   domain.PurchaseClaim{TransactionReference: buyer, BuyerAddress: buyer, NativeAmount: decimal.NewFromInt(1)},
			wantErr: true,
		},
		{
			name:    "invalid base58 buyer",
			claim:   domain.PurchaseClaim{TransactionReference: reference(1), BuyerAddress: "0OIl", NativeAmount: decimal.NewFromInt(1)},
			wantErr: true,
		},
		{
			name:    "off-curve buyer",
			claim:   domain.PurchaseClaim{TransactionReference: reference(1), BuyerAddress: pda.String(), NativeAmount: decimal.NewFromInt(1)},
			wantErr: true,
		},
		{
			name:    "zero amount",
			claim:   domain.PurchaseClaim{TransactionReference: reference(1), BuyerAddress: buyer},
			wantErr: true,
		},
		{
			name:    "negative amount",
			claim:   domain.PurchaseClaim{TransactionReference: reference(1), BuyerAddress: buyer, NativeAmount: decimal.NewFromInt(-1)},
			wantErr: true,
		},
		{
			name:    "dust amount",
			claim:   domain.PurchaseClaim{TransactionReference: reference(1), BuyerAddress: buyer, NativeAmount: decimal.RequireFromString("0.0000000001")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckStructure(tt.claim)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrMalformedClaim) {
					t.Errorf("expected ErrMalformedClaim, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckStructure failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d lamports, got %d", tt.want, got)
			}
		})
	}
}

func TestNewValidatorRejectsBadConfig(t *testing.T) {
	store := memory.NewDisbursementStore()
	chain := stub.NewChain("t")

	if _, err := NewValidator(Config{TreasuryAddress: "nope"}, store, chain, nil); err == nil {
		t.Error("expected error for invalid treasury address")
	}
	if _, err := NewValidator(Config{TreasuryAddress: randomWallet(t), Policy: "fuzzy"}, store, chain, nil); err == nil {
		t.Error("expected error for unknown policy")
	}
}
