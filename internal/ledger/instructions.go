package ledger

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	sol "github.com/gagliardetto/solana-go"

	"github.com/woofai-token/Woofaiserver/internal/solana"
)

// SPL instruction tags.
const (
	ataCreateIdempotent   = 1
	tokenTransferChecked  = 12
	mintDecimalsOffset    = 44
	mintMinimumDataLength = 82
)

var (
	systemProgram          = sol.MustPublicKeyFromBase58(solana.SystemProgramID)
	associatedTokenProgram = sol.MustPublicKeyFromBase58(solana.AssociatedTokenProgramID)
)

// DeriveTokenAccount returns the associated token account of owner for mint
// under the given token program.
func DeriveTokenAccount(owner, mint, tokenProgram sol.PublicKey) (sol.PublicKey, error) {
	ata, _, err := sol.FindProgramAddress(
		[][]byte{
			owner.Bytes(),
			tokenProgram.Bytes(),
			mint.Bytes(),
		},
		associatedTokenProgram,
	)
	if err != nil {
		return sol.PublicKey{}, fmt.Errorf("derive token account: %w", err)
	}
	return ata, nil
}

// createTokenAccountInstruction builds the idempotent associated token
// account create. It succeeds when the account already exists.
func createTokenAccountInstruction(payer, ata, owner, mint, tokenProgram sol.PublicKey) sol.Instruction {
	return sol.NewInstruction(
		associatedTokenProgram,
		sol.AccountMetaSlice{
			sol.Meta(payer).WRITE().SIGNER(),
			sol.Meta(ata).WRITE(),
			sol.Meta(owner),
			sol.Meta(mint),
			sol.Meta(systemProgram),
			sol.Meta(tokenProgram),
		},
		[]byte{ataCreateIdempotent},
	)
}

// transferCheckedInstruction builds a TransferChecked from source to
// destination signed by authority.
func transferCheckedInstruction(source, mint, destination, authority, tokenProgram sol.PublicKey, amount uint64, decimals uint8) (sol.Instruction, error) {
	data, err := encodeTransferChecked(amount, decimals)
	if err != nil {
		return nil, err
	}
	return sol.NewInstruction(
		tokenProgram,
		sol.AccountMetaSlice{
			sol.Meta(source).WRITE(),
			sol.Meta(mint),
			sol.Meta(destination).WRITE(),
			sol.Meta(authority).SIGNER(),
		},
		data,
	), nil
}

// encodeTransferChecked lays out tag, amount (u64 LE), decimals.
func encodeTransferChecked(amount uint64, decimals uint8) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint8(tokenTransferChecked); err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	if err := enc.WriteUint64(amount, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	if err := enc.WriteUint8(decimals); err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	return buf.Bytes(), nil
}

// signTransaction builds, signs, and serializes a transaction paid by key.
func signTransaction(key sol.PrivateKey, blockhash *solana.Blockhash, instructions ...sol.Instruction) (*SignedTransaction, error) {
	recent, err := sol.HashFromBase58(blockhash.Blockhash)
	if err != nil {
		return nil, fmt.Errorf("parse blockhash: %w", err)
	}
	payer := key.PublicKey()

	tx, err := sol.NewTransaction(instructions, recent, sol.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	_, err = tx.Sign(func(k sol.PublicKey) *sol.PrivateKey {
		if payer.Equals(k) {
			return &key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if len(tx.Signatures) == 0 {
		return nil, fmt.Errorf("sign transaction: no signatures")
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	return &SignedTransaction{
		Signature:            tx.Signatures[0].String(),
		Encoded:              base64.StdEncoding.EncodeToString(raw),
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
	}, nil
}

// parseMintDecimals reads decimals from SPL mint account data. Token-2022
// mints share the base layout and append extensions after it.
func parseMintDecimals(data []byte) (uint8, error) {
	if len(data) < mintMinimumDataLength {
		return 0, fmt.Errorf("mint data too short: %d bytes", len(data))
	}
	if data[mintDecimalsOffset+1] == 0 {
		return 0, fmt.Errorf("mint not initialized")
	}
	return data[mintDecimalsOffset], nil
}
