package domain

// LedgerTransaction is the read-only projection of an on-chain transaction
// consumed by claim validation.
type LedgerTransaction struct {
	Reference string
	Slot      int64
	BlockTime int64 // Unix timestamp (seconds), 0 if unknown
	Confirmed bool  // reached at least "confirmed" commitment
	Err       interface{}
	Transfers []NativeTransfer
}

// NativeTransfer is a system-program lamport transfer inside a transaction.
type NativeTransfer struct {
	Source      string
	Destination string
	Lamports    uint64
}

// Succeeded reports whether the transaction is confirmed and executed without error.
func (t *LedgerTransaction) Succeeded() bool {
	return t != nil && t.Confirmed && t.Err == nil
}

// CreditedTo returns transfers whose destination is the given address.
func (t *LedgerTransaction) CreditedTo(address string) []NativeTransfer {
	var out []NativeTransfer
	for _, tr := range t.Transfers {
		if tr.Destination == address {
			out = append(out, tr)
		}
	}
	return out
}
