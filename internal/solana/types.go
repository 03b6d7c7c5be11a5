package solana

import "encoding/json"

// Well-known program IDs.
const (
	SystemProgramID          = "11111111111111111111111111111111"
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// Commitment is a Solana commitment level.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Instruction is a jsonParsed instruction. Parsed is nil when the node
// could not parse the program's instruction data.
type Instruction struct {
	Program   string
	ProgramID string
	Parsed    *ParsedInstruction
}

// ParsedInstruction holds the parsed type and raw info object.
type ParsedInstruction struct {
	Type string
	Info json.RawMessage
}

// SystemTransfer is a decoded system-program lamport transfer.
type SystemTransfer struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Lamports    uint64 `json:"lamports"`
}

// SystemTransfer decodes the instruction as a system transfer.
// Returns false for any other instruction.
func (ix Instruction) SystemTransfer() (SystemTransfer, bool) {
	if ix.ProgramID != SystemProgramID || ix.Parsed == nil {
		return SystemTransfer{}, false
	}
	switch ix.Parsed.Type {
	case "transfer", "transferWithSeed":
	default:
		return SystemTransfer{}, false
	}

	var info SystemTransfer
	if err := json.Unmarshal(ix.Parsed.Info, &info); err != nil {
		return SystemTransfer{}, false
	}
	if info.Destination == "" || info.Lamports == 0 {
		return SystemTransfer{}, false
	}
	return info, true
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// TokenAmount is a token account balance.
type TokenAmount struct {
	Amount         string // raw amount in smallest units
	Decimals       uint8
	UIAmountString string
}

// Blockhash is a recent blockhash with its expiry height.
type Blockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
	Slot                 int64
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64
	Confirmations      *uint64 // nil once rooted
	Err                interface{}
	ConfirmationStatus Commitment
}

// Landed reports whether the transaction reached at least confirmed commitment.
func (s *SignatureStatus) Landed() bool {
	if s == nil {
		return false
	}
	return s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized
}
