package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// NativeDecimals is the decimal precision of SOL.
const NativeDecimals = 9

// PurchaseClaim is a buyer's claim that a purchase was paid on-chain.
// It is created per request and never persisted as-is.
type PurchaseClaim struct {
	TransactionReference string          // base58 signature of the payment transaction
	BuyerAddress         string          // base58 wallet address of the buyer
	NativeAmount         decimal.Decimal // claimed amount in SOL
}

// ValidatedPurchase is a claim whose payment was confirmed on the ledger.
// NativeLamports is the ledger-confirmed value, never the client-supplied one.
type ValidatedPurchase struct {
	TransactionReference string
	BuyerAddress         string
	NativeLamports       uint64
	Timestamp            time.Time // block time of the payment
}

// NativeAmount returns the confirmed payment in SOL.
func (p *ValidatedPurchase) NativeAmount() decimal.Decimal {
	return decimal.NewFromUint64(p.NativeLamports).Shift(-NativeDecimals)
}
