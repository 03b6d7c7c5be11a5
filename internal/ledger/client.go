package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/solana"
)

const defaultPollInterval = 2 * time.Second

// Client implements Ledger over a Solana RPC node, with an optional websocket
// client for signature notifications.
type Client struct {
	rpc          solana.RPCClient
	ws           solana.WSClient
	pollInterval time.Duration
	logger       *slog.Logger
}

// Compile-time interface check.
var _ Ledger = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithWebsocket enables signatureSubscribe alongside status polling.
func WithWebsocket(ws solana.WSClient) Option {
	return func(c *Client) {
		c.ws = ws
	}
}

// WithPollInterval sets the getSignatureStatuses polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a ledger client.
func NewClient(rpc solana.RPCClient, opts ...Option) *Client {
	c := &Client{
		rpc:          rpc,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetTransaction fetches a transaction and projects its native transfers.
func (c *Client) GetTransaction(ctx context.Context, reference string) (*domain.LedgerTransaction, error) {
	tx, err := c.rpc.GetTransaction(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", reference, err)
	}
	if tx == nil {
		return nil, nil
	}
	return project(reference, tx), nil
}

// project converts an RPC transaction into the ledger view. Transactions
// returned by getTransaction at confirmed commitment are confirmed by definition.
func project(reference string, tx *solana.Transaction) *domain.LedgerTransaction {
	out := &domain.LedgerTransaction{
		Reference: reference,
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime,
		Confirmed: tx.Meta != nil,
	}
	if tx.Meta != nil && tx.Meta.Err != nil {
		out.Err = tx.Meta.Err
	}
	for _, ix := range tx.AllInstructions() {
		transfer, ok := ix.SystemTransfer()
		if !ok {
			continue
		}
		out.Transfers = append(out.Transfers, domain.NativeTransfer{
			Source:      transfer.Source,
			Destination: transfer.Destination,
			Lamports:    transfer.Lamports,
		})
	}
	return out
}

// GetAccountBalance returns the lamport balance of an address.
func (c *Client) GetAccountBalance(ctx context.Context, address string) (uint64, error) {
	balance, err := c.rpc.GetBalance(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", address, err)
	}
	return balance, nil
}

// GetTokenAccountBalance returns the raw token amount held by a token account.
func (c *Client) GetTokenAccountBalance(ctx context.Context, address string) (uint64, error) {
	amount, err := c.rpc.GetTokenAccountBalance(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("get token balance %s: %w", address, err)
	}
	if amount == nil {
		return 0, nil
	}
	v, ok := new(big.Int).SetString(amount.Amount, 10)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("get token balance %s: invalid amount %q", address, amount.Amount)
	}
	return v.Uint64(), nil
}

// AccountExists reports whether an account exists.
func (c *Client) AccountExists(ctx context.Context, address string) (bool, error) {
	info, err := c.rpc.GetAccountInfo(ctx, address)
	if err != nil {
		return false, fmt.Errorf("get account %s: %w", address, err)
	}
	return info != nil, nil
}

// LatestBlockhash returns a fresh blockhash.
func (c *Client) LatestBlockhash(ctx context.Context) (*solana.Blockhash, error) {
	bh, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}
	return bh, nil
}

// SubmitTransaction sends a signed transaction. A JSON-RPC error on the first
// attempt is wrapped with ErrRejected. An error on a resend is not: the
// earlier attempt may have landed, so the outcome stays unknown.
func (c *Client) SubmitTransaction(ctx context.Context, tx *SignedTransaction) error {
	sig, err := c.rpc.SendTransaction(ctx, tx.Encoded)
	if err != nil {
		var rpcErr *solana.RPCError
		if errors.As(err, &rpcErr) {
			if rpcErr.Attempt > 0 {
				return fmt.Errorf("send transaction %s: resend after attempt %d: %w", tx.Signature, rpcErr.Attempt, err)
			}
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return fmt.Errorf("send transaction %s: %w", tx.Signature, err)
	}
	if sig != "" && sig != tx.Signature {
		c.logger.Warn("node returned unexpected signature",
			"event", "signature_mismatch",
			"expected", tx.Signature,
			"got", sig,
		)
	}
	return nil
}

// SignatureStatus returns the status of one signature.
func (c *Client) SignatureStatus(ctx context.Context, signature string) (*solana.SignatureStatus, error) {
	statuses, err := c.rpc.GetSignatureStatuses(ctx, []string{signature})
	if err != nil {
		return nil, fmt.Errorf("get signature status %s: %w", signature, err)
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	return statuses[0], nil
}

// BlockHeight returns the finalized block height.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	h, err := c.rpc.GetBlockHeight(ctx, solana.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("get block height: %w", err)
	}
	return h, nil
}

// Confirm waits for a final outcome of the signature. It polls
// getSignatureStatuses and, when a websocket client is configured, also
// wakes on signatureSubscribe notifications. A transaction is expired once
// the finalized block height passes lastValidBlockHeight while the node
// still has no status for it.
func (c *Client) Confirm(ctx context.Context, signature string, lastValidBlockHeight uint64) (Outcome, error) {
	var notify <-chan solana.SignatureNotification
	if c.ws != nil {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch, err := c.ws.SubscribeSignature(subCtx, signature)
		if err != nil {
			c.logger.Warn("signature subscribe failed, polling only",
				"event", "ws_subscribe_failed",
				"transfer_signature", signature,
				"error", err,
			)
		} else {
			notify = ch
		}
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		outcome, err := c.check(ctx, signature, lastValidBlockHeight)
		if err != nil {
			c.logger.Warn("signature status check failed",
				"event", "status_check_failed",
				"transfer_signature", signature,
				"error", err,
			)
		} else if outcome.Final() {
			return outcome, nil
		}

		select {
		case <-ctx.Done():
			return OutcomeUnknown, ctx.Err()
		case n, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			if n.Err != nil {
				return OutcomeFailed, nil
			}
			return OutcomeConfirmed, nil
		case <-ticker.C:
		}
	}
}

// check performs one status poll.
func (c *Client) check(ctx context.Context, signature string, lastValidBlockHeight uint64) (Outcome, error) {
	status, err := c.SignatureStatus(ctx, signature)
	if err != nil {
		return OutcomeUnknown, err
	}
	if status != nil {
		if status.Err != nil {
			return OutcomeFailed, nil
		}
		if status.Landed() {
			return OutcomeConfirmed, nil
		}
		// Processed but not yet confirmed; it can still land.
		return OutcomeUnknown, nil
	}
	if lastValidBlockHeight == 0 {
		return OutcomeUnknown, nil
	}

	height, err := c.BlockHeight(ctx)
	if err != nil {
		return OutcomeUnknown, err
	}
	if height <= lastValidBlockHeight {
		return OutcomeUnknown, nil
	}

	// The height moved past expiry; re-check once so a late landing is not
	// misread as expiry.
	status, err = c.SignatureStatus(ctx, signature)
	if err != nil {
		return OutcomeUnknown, err
	}
	switch {
	case status == nil:
		return OutcomeExpired, nil
	case status.Err != nil:
		return OutcomeFailed, nil
	case status.Landed():
		return OutcomeConfirmed, nil
	}
	return OutcomeUnknown, nil
}
