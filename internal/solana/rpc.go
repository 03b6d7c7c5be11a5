package solana

import "context"

// RPCClient defines Solana RPC HTTP interface.
type RPCClient interface {
	// GetTransaction retrieves a jsonParsed transaction at confirmed commitment.
	// Returns nil, nil if the transaction is unknown to the node.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetAccountInfo retrieves account info. Returns nil, nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetBalance returns the lamport balance of an account.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// GetTokenAccountBalance returns the token balance of a token account.
	GetTokenAccountBalance(ctx context.Context, pubkey string) (*TokenAmount, error)

	// GetLatestBlockhash returns a recent blockhash and its last valid block height.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// SendTransaction submits a base64-encoded signed transaction and returns its signature.
	SendTransaction(ctx context.Context, encoded string) (string, error)

	// GetSignatureStatuses returns statuses in request order; unknown signatures map to nil.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetBlockHeight returns the current block height at the given commitment.
	GetBlockHeight(ctx context.Context, commitment Commitment) (uint64, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	LogMessages       []string
	InnerInstructions []Instruction // flattened across all outer instructions
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys  []string
	Instructions []Instruction
}

// AllInstructions returns top-level instructions followed by inner instructions.
func (t *Transaction) AllInstructions() []Instruction {
	var out []Instruction
	if t.Message != nil {
		out = append(out, t.Message.Instructions...)
	}
	if t.Meta != nil {
		out = append(out, t.Meta.InnerInstructions...)
	}
	return out
}
