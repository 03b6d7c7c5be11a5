package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	sol "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/singleflight"

	"github.com/woofai-token/Woofaiserver/internal/solana"
)

// ErrAccountNotFound is returned when a token account does not exist.
var ErrAccountNotFound = errors.New("token account not found")

// Treasury resolves token accounts for the presale mint and signs transfers
// with the treasury key. It implements Directory and Transferer.
type Treasury struct {
	ledger Ledger
	rpc    solana.RPCClient
	key    sol.PrivateKey
	owner  sol.PublicKey
	mint   sol.PublicKey
	logger *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	info  *MintInfo
}

// Compile-time interface checks.
var (
	_ Directory  = (*Treasury)(nil)
	_ Transferer = (*Treasury)(nil)
)

// NewTreasury creates a Treasury for mint, paying and signing with key.
func NewTreasury(ledger Ledger, rpc solana.RPCClient, key sol.PrivateKey, mint string, logger *slog.Logger) (*Treasury, error) {
	mintKey, err := sol.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("parse mint %q: %w", mint, err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("treasury key must be 64 bytes, got %d", len(key))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Treasury{
		ledger: ledger,
		rpc:    rpc,
		key:    key,
		owner:  key.PublicKey(),
		mint:   mintKey,
		logger: logger,
	}, nil
}

// TreasuryOwner returns the treasury wallet address.
func (t *Treasury) TreasuryOwner() string {
	return t.owner.String()
}

// Mint returns mint decimals and token program, fetched once and cached.
// Concurrent first calls share one RPC request.
func (t *Treasury) Mint(ctx context.Context) (*MintInfo, error) {
	t.mu.RLock()
	info := t.info
	t.mu.RUnlock()
	if info != nil {
		out := *info
		return &out, nil
	}

	v, err, _ := t.group.Do("mint", func() (interface{}, error) {
		return t.fetchMint(ctx)
	})
	if err != nil {
		return nil, err
	}
	fetched := v.(*MintInfo)

	t.mu.Lock()
	if t.info == nil {
		t.info = fetched
	}
	t.mu.Unlock()

	out := *fetched
	return &out, nil
}

func (t *Treasury) fetchMint(ctx context.Context) (*MintInfo, error) {
	account, err := t.rpc.GetAccountInfo(ctx, t.mint.String())
	if err != nil {
		return nil, fmt.Errorf("get mint account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("mint account %s not found", t.mint)
	}
	switch account.Owner {
	case solana.TokenProgramID, solana.Token2022ProgramID:
	default:
		return nil, fmt.Errorf("mint %s owned by unexpected program %s", t.mint, account.Owner)
	}

	data, err := base64.StdEncoding.DecodeString(account.Data)
	if err != nil {
		return nil, fmt.Errorf("decode mint data: %w", err)
	}
	decimals, err := parseMintDecimals(data)
	if err != nil {
		return nil, err
	}

	t.logger.Info("mint loaded",
		"event", "mint_loaded",
		"mint", t.mint.String(),
		"decimals", decimals,
		"token_program", account.Owner,
	)
	return &MintInfo{
		Address:      t.mint.String(),
		Decimals:     decimals,
		TokenProgram: account.Owner,
	}, nil
}

// derive returns the associated token account of owner for the presale mint.
func (t *Treasury) derive(ctx context.Context, owner string) (sol.PublicKey, sol.PublicKey, *MintInfo, error) {
	ownerKey, err := sol.PublicKeyFromBase58(owner)
	if err != nil {
		return sol.PublicKey{}, sol.PublicKey{}, nil, fmt.Errorf("parse owner %q: %w", owner, err)
	}
	info, err := t.Mint(ctx)
	if err != nil {
		return sol.PublicKey{}, sol.PublicKey{}, nil, err
	}
	program, err := sol.PublicKeyFromBase58(info.TokenProgram)
	if err != nil {
		return sol.PublicKey{}, sol.PublicKey{}, nil, fmt.Errorf("parse token program: %w", err)
	}
	ata, err := DeriveTokenAccount(ownerKey, t.mint, program)
	if err != nil {
		return sol.PublicKey{}, sol.PublicKey{}, nil, err
	}
	return ownerKey, ata, info, nil
}

// ResolveTokenAccount returns the owner's token account. The returned error
// wraps ErrAccountNotFound when the account does not exist.
func (t *Treasury) ResolveTokenAccount(ctx context.Context, owner string) (*AccountHandle, error) {
	_, ata, _, err := t.derive(ctx, owner)
	if err != nil {
		return nil, err
	}
	exists, err := t.ledger.AccountExists(ctx, ata.String())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s (owner %s)", ErrAccountNotFound, ata, owner)
	}
	return &AccountHandle{Address: ata.String(), Owner: owner, Exists: true}, nil
}

// ResolveOrCreateTokenAccount returns the owner's token account, creating it
// with the treasury as payer when missing. Creation is confirmed before return.
func (t *Treasury) ResolveOrCreateTokenAccount(ctx context.Context, owner string) (*AccountHandle, error) {
	ownerKey, ata, info, err := t.derive(ctx, owner)
	if err != nil {
		return nil, err
	}
	handle := &AccountHandle{Address: ata.String(), Owner: owner}

	exists, err := t.ledger.AccountExists(ctx, handle.Address)
	if err != nil {
		return nil, err
	}
	if exists {
		handle.Exists = true
		return handle, nil
	}

	program := sol.MustPublicKeyFromBase58(info.TokenProgram)
	blockhash, err := t.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := signTransaction(t.key, blockhash,
		createTokenAccountInstruction(t.owner, ata, ownerKey, t.mint, program))
	if err != nil {
		return nil, err
	}

	t.logger.Info("creating token account",
		"event", "token_account_create",
		"owner", owner,
		"token_account", handle.Address,
		"transfer_signature", tx.Signature,
	)
	submitErr := t.ledger.SubmitTransaction(ctx, tx)
	if errors.Is(submitErr, ErrRejected) {
		// A concurrent create for the same owner makes this one fail preflight.
		if exists, err := t.ledger.AccountExists(ctx, handle.Address); err == nil && exists {
			handle.Exists = true
			return handle, nil
		}
		return nil, fmt.Errorf("create token account %s: %w", handle.Address, submitErr)
	}

	outcome, confirmErr := t.ledger.Confirm(ctx, tx.Signature, tx.LastValidBlockHeight)
	if outcome == OutcomeConfirmed {
		handle.Exists = true
		handle.Created = true
		return handle, nil
	}

	// The create is idempotent and may have been landed by a concurrent
	// request; the account existing is what matters.
	if exists, err := t.ledger.AccountExists(ctx, handle.Address); err == nil && exists {
		handle.Exists = true
		return handle, nil
	}
	if confirmErr == nil {
		confirmErr = submitErr
	}
	return nil, fmt.Errorf("create token account %s: %s: %v", handle.Address, outcome, confirmErr)
}

// BuildTransfer signs one TransferChecked of amount smallest units from
// source to destination with a fresh blockhash.
func (t *Treasury) BuildTransfer(ctx context.Context, source, destination string, amount uint64) (*SignedTransaction, error) {
	info, err := t.Mint(ctx)
	if err != nil {
		return nil, err
	}
	src, err := sol.PublicKeyFromBase58(source)
	if err != nil {
		return nil, fmt.Errorf("parse source %q: %w", source, err)
	}
	dst, err := sol.PublicKeyFromBase58(destination)
	if err != nil {
		return nil, fmt.Errorf("parse destination %q: %w", destination, err)
	}
	program, err := sol.PublicKeyFromBase58(info.TokenProgram)
	if err != nil {
		return nil, fmt.Errorf("parse token program: %w", err)
	}

	ix, err := transferCheckedInstruction(src, t.mint, dst, t.owner, program, amount, info.Decimals)
	if err != nil {
		return nil, err
	}
	blockhash, err := t.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	return signTransaction(t.key, blockhash, ix)
}
