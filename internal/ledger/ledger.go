// Package ledger adapts the Solana RPC node to the operations the presale
// needs: reading payment transactions, resolving token accounts, and
// submitting and confirming token transfers.
package ledger

import (
	"context"
	"errors"

	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/solana"
)

// ErrRejected marks a submission the node definitely refused (preflight or
// validation failure). Any other submission error leaves the outcome unknown.
var ErrRejected = errors.New("transaction rejected by node")

// Ledger is the read/write view of the chain used by the disbursement engine.
type Ledger interface {
	// GetTransaction returns the projection of a confirmed transaction,
	// or nil, nil if the node does not know it.
	GetTransaction(ctx context.Context, reference string) (*domain.LedgerTransaction, error)

	// GetAccountBalance returns the lamport balance of an address.
	GetAccountBalance(ctx context.Context, address string) (uint64, error)

	// GetTokenAccountBalance returns the raw token balance of a token account.
	GetTokenAccountBalance(ctx context.Context, address string) (uint64, error)

	// AccountExists reports whether an account exists at confirmed commitment.
	AccountExists(ctx context.Context, address string) (bool, error)

	// LatestBlockhash returns a blockhash for signing new transactions.
	LatestBlockhash(ctx context.Context) (*solana.Blockhash, error)

	// SubmitTransaction sends a signed transaction. Errors wrapping ErrRejected
	// are definite failures; other errors are ambiguous.
	SubmitTransaction(ctx context.Context, tx *SignedTransaction) error

	// SignatureStatus returns the status of a signature, nil if unknown.
	SignatureStatus(ctx context.Context, signature string) (*solana.SignatureStatus, error)

	// BlockHeight returns the finalized block height.
	BlockHeight(ctx context.Context) (uint64, error)

	// Confirm waits until the signature is confirmed, failed, or expired.
	// When ctx ends first it returns OutcomeUnknown with ctx.Err().
	Confirm(ctx context.Context, signature string, lastValidBlockHeight uint64) (Outcome, error)
}

// Directory resolves associated token accounts for the presale mint.
type Directory interface {
	// Mint returns the presale mint's decimals and owning token program.
	Mint(ctx context.Context) (*MintInfo, error)

	// ResolveTokenAccount derives the owner's token account and checks that it exists.
	ResolveTokenAccount(ctx context.Context, owner string) (*AccountHandle, error)

	// ResolveOrCreateTokenAccount returns the owner's token account, creating it
	// with the treasury as payer when missing. Creation is confirmed before return.
	ResolveOrCreateTokenAccount(ctx context.Context, owner string) (*AccountHandle, error)
}

// Transferer builds signed token transfers out of the treasury.
type Transferer interface {
	// TreasuryOwner returns the treasury wallet address.
	TreasuryOwner() string

	// BuildTransfer signs one TransferChecked from source to destination.
	BuildTransfer(ctx context.Context, source, destination string, amount uint64) (*SignedTransaction, error)
}

// MintInfo describes the token being sold.
type MintInfo struct {
	Address      string
	Decimals     uint8
	TokenProgram string // SPL Token or Token-2022
}

// AccountHandle is a resolved token account.
type AccountHandle struct {
	Address string
	Owner   string
	Exists  bool
	Created bool // created during this call
}

// SignedTransaction is a serialized, signed transaction ready for submission.
// Its signature is fixed before it is sent.
type SignedTransaction struct {
	Signature            string
	Encoded              string // base64 wire format
	LastValidBlockHeight uint64
}

// Outcome is the final state of a submitted transaction.
type Outcome int

const (
	// OutcomeUnknown means the transaction has neither landed nor expired.
	OutcomeUnknown Outcome = iota
	// OutcomeConfirmed means it landed at confirmed commitment without error.
	OutcomeConfirmed
	// OutcomeFailed means it landed but the program returned an error.
	OutcomeFailed
	// OutcomeExpired means its blockhash expired before it landed.
	OutcomeExpired
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeFailed:
		return "failed"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Final reports whether the outcome can no longer change.
func (o Outcome) Final() bool {
	return o != OutcomeUnknown
}
