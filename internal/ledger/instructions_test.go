package ledger

import (
	"bytes"
	"encoding/base64"
	"testing"

	bin "github.com/gagliardetto/binary"
	sol "github.com/gagliardetto/solana-go"

	"github.com/woofai-token/Woofaiserver/internal/solana"
)

func decodeTransaction(t *testing.T, encoded string) *sol.Transaction {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	var tx sol.Transaction
	if err := tx.UnmarshalWithDecoder(bin.NewBinDecoder(raw)); err != nil {
		t.Fatalf("unmarshal transaction: %v", err)
	}
	return &tx
}

func TestDeriveTokenAccountMatchesSPLDerivation(t *testing.T) {
	owner := sol.MustPublicKeyFromBase58(testBuyer)
	mint := sol.MustPublicKeyFromBase58("GhX61gZrBwmGQfQWyL7jvjANnLN6smHcYDZxYrA5yfcn")

	got, err := DeriveTokenAccount(owner, mint, sol.TokenProgramID)
	if err != nil {
		t.Fatalf("DeriveTokenAccount failed: %v", err)
	}
	want, _, err := sol.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		t.Fatalf("FindAssociatedTokenAddress failed: %v", err)
	}
	if !got.Equals(want) {
		t.Errorf("expected %s, got %s", want, got)
	}

	token2022, err := DeriveTokenAccount(owner, mint, sol.MustPublicKeyFromBase58(solana.Token2022ProgramID))
	if err != nil {
		t.Fatalf("DeriveTokenAccount failed: %v", err)
	}
	if token2022.Equals(got) {
		t.Error("token program must be part of the derivation")
	}
}

func TestEncodeTransferChecked(t *testing.T) {
	data, err := encodeTransferChecked(1_000_000, 6)
	if err != nil {
		t.Fatalf("encodeTransferChecked failed: %v", err)
	}
	want := []byte{12, 0x40, 0x42, 0x0f, 0, 0, 0, 0, 0, 6}
	if !bytes.Equal(data, want) {
		t.Errorf("expected %v, got %v", want, data)
	}
}

func TestSignTransactionSignatureIsKnownBeforeSubmission(t *testing.T) {
	key, err := sol.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey failed: %v", err)
	}
	owner := key.PublicKey()
	mint := sol.MustPublicKeyFromBase58("GhX61gZrBwmGQfQWyL7jvjANnLN6smHcYDZxYrA5yfcn")
	dest := sol.MustPublicKeyFromBase58(testBuyer)
	program := sol.MustPublicKeyFromBase58(solana.Token2022ProgramID)

	ix, err := transferCheckedInstruction(owner, mint, dest, owner, program, 42, 9)
	if err != nil {
		t.Fatalf("transferCheckedInstruction failed: %v", err)
	}
	bh := &solana.Blockhash{Blockhash: "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N", LastValidBlockHeight: 77}
	signed, err := signTransaction(key, bh, ix)
	if err != nil {
		t.Fatalf("signTransaction failed: %v", err)
	}
	if signed.LastValidBlockHeight != 77 {
		t.Errorf("expected last valid 77, got %d", signed.LastValidBlockHeight)
	}

	tx := decodeTransaction(t, signed.Encoded)
	if tx.Signatures[0].String() != signed.Signature {
		t.Errorf("signature mismatch: %s vs %s", tx.Signatures[0], signed.Signature)
	}
	if len(tx.Message.Instructions) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(tx.Message.Instructions))
	}
	compiled := tx.Message.Instructions[0]
	if !tx.Message.AccountKeys[compiled.ProgramIDIndex].Equals(program) {
		t.Errorf("unexpected program %s", tx.Message.AccountKeys[compiled.ProgramIDIndex])
	}
	if len(compiled.Accounts) != 4 {
		t.Errorf("expected 4 accounts, got %d", len(compiled.Accounts))
	}
	if compiled.Data[0] != tokenTransferChecked {
		t.Errorf("expected TransferChecked tag, got %d", compiled.Data[0])
	}
}

func TestParseMintDecimals(t *testing.T) {
	data := make([]byte, mintMinimumDataLength)
	data[mintDecimalsOffset] = 6
	data[mintDecimalsOffset+1] = 1

	got, err := parseMintDecimals(data)
	if err != nil {
		t.Fatalf("parseMintDecimals failed: %v", err)
	}
	if got != 6 {
		t.Errorf("expected 6, got %d", got)
	}

	if _, err := parseMintDecimals(data[:40]); err == nil {
		t.Error("expected error for short data")
	}
	data[mintDecimalsOffset+1] = 0
	if _, err := parseMintDecimals(data); err == nil {
		t.Error("expected error for uninitialized mint")
	}
}
