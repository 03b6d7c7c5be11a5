package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	sol "github.com/gagliardetto/solana-go"
)

// ParsePrivateKey accepts a 64-byte keypair either as a JSON byte array
// ("[12,34,...]", the Solana CLI keyfile format) or as base58.
func ParsePrivateKey(s string) (sol.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty private key")
	}

	var key sol.PrivateKey
	if strings.HasPrefix(s, "[") {
		var raw []byte
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("parse key array: %w", err)
		}
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("parse key array: byte %d out of range: %d", i, v)
			}
			raw = append(raw, byte(v))
		}
		key = sol.PrivateKey(raw)
	} else {
		k, err := sol.PrivateKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("parse base58 key: %w", err)
		}
		key = k
	}

	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("private key public half does not match its seed")
	}
	return key, nil
}
