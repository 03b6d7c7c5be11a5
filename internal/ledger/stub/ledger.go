// Package stub provides an in-memory chain implementing the ledger
// interfaces for engine tests.
package stub

import (
	"context"
	"fmt"
	"sync"

	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/ledger"
	"github.com/woofai-token/Woofaiserver/internal/solana"
)

// Transfer is a token transfer built by the stub.
type Transfer struct {
	Signature   string
	Source      string
	Destination string
	Amount      uint64
}

// Chain implements ledger.Ledger, ledger.Directory, and ledger.Transferer.
// Submitted transfers land according to Outcome.
type Chain struct {
	mu sync.Mutex

	Transactions  map[string]*domain.LedgerTransaction
	Balances      map[string]uint64
	TokenAccounts map[string]string // owner -> token account
	Statuses      map[string]*solana.SignatureStatus

	MintInfo  ledger.MintInfo
	Treasury  string
	Height    uint64
	LastValid uint64

	// Outcome is returned by Confirm for submitted transfers.
	// OutcomeUnknown blocks until the context ends.
	Outcome ledger.Outcome

	// SubmitErr, when set, is returned by SubmitTransaction.
	SubmitErr error
	// CreateErr, when set, fails token account creation.
	CreateErr error

	built     map[string]Transfer
	Submitted []Transfer
	Created   []string
	seq       int
}

// Compile-time interface checks.
var (
	_ ledger.Ledger     = (*Chain)(nil)
	_ ledger.Directory  = (*Chain)(nil)
	_ ledger.Transferer = (*Chain)(nil)
)

// NewChain creates a chain whose treasury owner already holds a token account.
func NewChain(treasury string) *Chain {
	c := &Chain{
		Transactions:  make(map[string]*domain.LedgerTransaction),
		Balances:      make(map[string]uint64),
		TokenAccounts: make(map[string]string),
		Statuses:      make(map[string]*solana.SignatureStatus),
		MintInfo: ledger.MintInfo{
			Address:      "GhX61gZrBwmGQfQWyL7jvjANnLN6smHcYDZxYrA5yfcn",
			Decimals:     9,
			TokenProgram: solana.Token2022ProgramID,
		},
		Treasury:  treasury,
		Height:    1000,
		LastValid: 1150,
		Outcome:   ledger.OutcomeConfirmed,
		built:     make(map[string]Transfer),
	}
	c.TokenAccounts[treasury] = "ata-" + treasury
	return c
}

// AddPayment records a confirmed transaction paying lamports from source to destination.
func (c *Chain) AddPayment(reference, source, destination string, lamports uint64) {
	c.AddTransaction(&domain.LedgerTransaction{
		Reference: reference,
		Slot:      1,
		BlockTime: 1_700_000_000,
		Confirmed: true,
		Transfers: []domain.NativeTransfer{
			{Source: source, Destination: destination, Lamports: lamports},
		},
	})
}

// AddTransaction stores a ledger transaction.
func (c *Chain) AddTransaction(tx *domain.LedgerTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Reference] = tx
}

// RemoveTreasuryAccount deletes the treasury token account.
func (c *Chain) RemoveTreasuryAccount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.TokenAccounts, c.Treasury)
}

// SubmittedCount returns the number of accepted transfers.
func (c *Chain) SubmittedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Submitted)
}

// GetTransaction returns a stored transaction or nil.
func (c *Chain) GetTransaction(_ context.Context, reference string) (*domain.LedgerTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.Transactions[reference]
	if !ok {
		return nil, nil
	}
	out := *tx
	out.Transfers = append([]domain.NativeTransfer(nil), tx.Transfers...)
	return &out, nil
}

// GetAccountBalance returns a stored lamport balance.
func (c *Chain) GetAccountBalance(_ context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Balances[address], nil
}

// GetTokenAccountBalance returns a stored token balance.
func (c *Chain) GetTokenAccountBalance(_ context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Balances[address], nil
}

// AccountExists reports whether address is a known token account.
func (c *Chain) AccountExists(_ context.Context, address string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ata := range c.TokenAccounts {
		if ata == address {
			return true, nil
		}
	}
	return false, nil
}

// LatestBlockhash returns a fixed blockhash.
func (c *Chain) LatestBlockhash(_ context.Context) (*solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &solana.Blockhash{Blockhash: "stub-blockhash", LastValidBlockHeight: c.LastValid}, nil
}

// SubmitTransaction accepts a transfer built by BuildTransfer.
func (c *Chain) SubmitTransaction(_ context.Context, tx *ledger.SignedTransaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubmitErr != nil {
		return c.SubmitErr
	}
	transfer, ok := c.built[tx.Signature]
	if !ok {
		return fmt.Errorf("%w: unknown transaction %s", ledger.ErrRejected, tx.Signature)
	}
	for _, s := range c.Submitted {
		if s.Signature == tx.Signature {
			return nil
		}
	}
	c.Submitted = append(c.Submitted, transfer)
	return nil
}

// SignatureStatus returns a stored status, or one derived from Outcome for
// submitted transfers.
func (c *Chain) SignatureStatus(_ context.Context, signature string) (*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.Statuses[signature]; ok {
		out := *st
		return &out, nil
	}
	for _, s := range c.Submitted {
		if s.Signature != signature {
			continue
		}
		switch c.Outcome {
		case ledger.OutcomeConfirmed:
			return &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentConfirmed}, nil
		case ledger.OutcomeFailed:
			return &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentConfirmed, Err: "InstructionError"}, nil
		}
	}
	return nil, nil
}

// BlockHeight returns the configured block height.
func (c *Chain) BlockHeight(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Height, nil
}

// Confirm returns Outcome, blocking until ctx ends when it is OutcomeUnknown.
func (c *Chain) Confirm(ctx context.Context, _ string, _ uint64) (ledger.Outcome, error) {
	c.mu.Lock()
	outcome := c.Outcome
	c.mu.Unlock()
	if outcome == ledger.OutcomeUnknown {
		<-ctx.Done()
		return ledger.OutcomeUnknown, ctx.Err()
	}
	return outcome, nil
}

// Mint returns the configured mint info.
func (c *Chain) Mint(_ context.Context) (*ledger.MintInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.MintInfo
	return &info, nil
}

// ResolveTokenAccount returns an existing token account.
func (c *Chain) ResolveTokenAccount(_ context.Context, owner string) (*ledger.AccountHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ata, ok := c.TokenAccounts[owner]
	if !ok {
		return nil, fmt.Errorf("%w: owner %s", ledger.ErrAccountNotFound, owner)
	}
	return &ledger.AccountHandle{Address: ata, Owner: owner, Exists: true}, nil
}

// ResolveOrCreateTokenAccount returns or creates the owner's token account.
func (c *Chain) ResolveOrCreateTokenAccount(_ context.Context, owner string) (*ledger.AccountHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ata, ok := c.TokenAccounts[owner]; ok {
		return &ledger.AccountHandle{Address: ata, Owner: owner, Exists: true}, nil
	}
	if c.CreateErr != nil {
		return nil, c.CreateErr
	}
	ata := "ata-" + owner
	c.TokenAccounts[owner] = ata
	c.Created = append(c.Created, owner)
	return &ledger.AccountHandle{Address: ata, Owner: owner, Exists: true, Created: true}, nil
}

// TreasuryOwner returns the treasury wallet.
func (c *Chain) TreasuryOwner() string {
	return c.Treasury
}

// BuildTransfer returns a transfer with a unique fake signature.
func (c *Chain) BuildTransfer(_ context.Context, source, destination string, amount uint64) (*ledger.SignedTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	sig := fmt.Sprintf("transfer-%d", c.seq)
	c.built[sig] = Transfer{Signature: sig, Source: source, Destination: destination, Amount: amount}
	return &ledger.SignedTransaction{
		Signature:            sig,
		Encoded:              sig,
		LastValidBlockHeight: c.LastValid,
	}, nil
}
