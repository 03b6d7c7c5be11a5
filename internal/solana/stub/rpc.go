// Package stub provides an in-memory Solana node for tests.
package stub

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/woofai-token/Woofaiserver/internal/solana"
)

// ErrNotFound is returned when an account is not found.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
// Sent transactions are recorded; their statuses are controlled by the test.
type RPCClient struct {
	mu sync.Mutex

	Transactions  map[string]*solana.Transaction
	Accounts      map[string]*solana.AccountInfo
	Balances      map[string]uint64
	TokenBalances map[string]*solana.TokenAmount
	Statuses      map[string]*solana.SignatureStatus

	Blockhash   solana.Blockhash
	BlockHeight uint64

	// Sent holds every payload passed to SendTransaction, in order.
	Sent []string

	// SendErr, when set, is returned by SendTransaction instead of accepting.
	SendErr error

	// OnSend runs after a payload is accepted with its signature.
	// Tests use it to simulate landing, e.g. by setting Statuses.
	OnSend func(signature string, payload []byte)
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions:  make(map[string]*solana.Transaction),
		Accounts:      make(map[string]*solana.AccountInfo),
		Balances:      make(map[string]uint64),
		TokenBalances: make(map[string]*solana.TokenAmount),
		Statuses:      make(map[string]*solana.SignatureStatus),
		Blockhash: solana.Blockhash{
			Blockhash:            "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
			LastValidBlockHeight: 1150,
		},
		BlockHeight: 1000,
	}
}

// GetTransaction retrieves a transaction by signature. Unknown signatures return nil, nil.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Transactions[signature], nil
}

// GetAccountInfo returns a stored account or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.Accounts[pubkey]
	if !ok {
		return nil, nil
	}
	copy := *info
	return &copy, nil
}

// GetBalance returns a stored lamport balance.
func (c *RPCClient) GetBalance(_ context.Context, pubkey string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Balances[pubkey], nil
}

// GetTokenAccountBalance returns a stored token balance.
func (c *RPCClient) GetTokenAccountBalance(_ context.Context, pubkey string) (*solana.TokenAmount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	amt, ok := c.TokenBalances[pubkey]
	if !ok {
		return nil, fmt.Errorf("token account %s: %w", pubkey, ErrNotFound)
	}
	copy := *amt
	return &copy, nil
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bh := c.Blockhash
	return &bh, nil
}

// SendTransaction records the payload and returns its first signature.
func (c *RPCClient) SendTransaction(_ context.Context, encoded string) (string, error) {
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &solana.RPCError{Code: -32602, Message: "invalid base64"}
	}
	signature, err := FirstSignature(payload)
	if err != nil {
		return "", &solana.RPCError{Code: -32602, Message: err.Error()}
	}

	c.mu.Lock()
	if c.SendErr != nil {
		err := c.SendErr
		c.mu.Unlock()
		return "", err
	}
	c.Sent = append(c.Sent, encoded)
	onSend := c.OnSend
	c.mu.Unlock()

	if onSend != nil {
		onSend(signature, payload)
	}
	return signature, nil
}

// GetSignatureStatuses returns stored statuses; unknown signatures map to nil.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		if st, ok := c.Statuses[sig]; ok {
			copy := *st
			out[i] = &copy
		}
	}
	return out, nil
}

// GetBlockHeight returns the configured block height for every commitment.
func (c *RPCClient) GetBlockHeight(_ context.Context, _ solana.Commitment) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.BlockHeight, nil
}

// GetSlot returns a fixed slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	return 1, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// SetAccount stores an account.
func (c *RPCClient) SetAccount(pubkey string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = info
}

// SetStatus stores a signature status. A nil status removes it.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status == nil {
		delete(c.Statuses, signature)
		return
	}
	c.Statuses[signature] = status
}

// SetBlockHeight sets the current block height.
func (c *RPCClient) SetBlockHeight(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BlockHeight = h
}

// SentCount returns the number of accepted payloads.
func (c *RPCClient) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}

// FirstSignature extracts the fee payer signature from a wire transaction.
// Signatures are prefixed by a compact-u16 count; presale transactions carry
// fewer than 128 signatures, so the count is a single byte.
func FirstSignature(payload []byte) (string, error) {
	if len(payload) < 1+64 || payload[0] == 0 || payload[0] >= 0x80 {
		return "", fmt.Errorf("malformed transaction payload")
	}
	return base58.Encode(payload[1:65]), nil
}
