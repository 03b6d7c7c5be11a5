package domain

import "time"

// DisbursementRecord is the immutable proof that a claim was paid out.
// At most one exists per TransactionReference.
type DisbursementRecord struct {
	TransactionReference string    // payment signature (unique key)
	BuyerAddress         string    // wallet that received tokens
	TokenAmount          uint64    // smallest units
	NativeLamports       uint64    // ledger-confirmed payment
	PhaseID              string    // pricing phase used
	SettledAt            time.Time // when the transfer was confirmed
	LedgerTxReference    string    // token transfer signature
}

// ReservationStatus tracks a reservation through the transfer lifecycle.
type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationAmbiguous ReservationStatus = "ambiguous"
	ReservationSettled   ReservationStatus = "settled"
	ReservationReleased  ReservationStatus = "released"
)

// IsValid checks if the status is a known value.
func (s ReservationStatus) IsValid() bool {
	switch s {
	case ReservationReserved, ReservationAmbiguous, ReservationSettled, ReservationReleased:
		return true
	}
	return false
}

// Open reports whether the reservation still awaits a final outcome.
func (s ReservationStatus) Open() bool {
	return s == ReservationReserved || s == ReservationAmbiguous
}

// Reservation is written before a token transfer is submitted. Its unique
// key guards against a second transfer for the same payment, and its token
// amount counts against the phase allocation until it is released.
type Reservation struct {
	TransactionReference string
	BuyerAddress         string
	ReceivingAccount     string
	TokenAmount          uint64
	NativeLamports       uint64
	PhaseID              string
	TransferSignature    string // known before submission
	LastValidBlockHeight uint64 // transfer cannot land after this height
	Status               ReservationStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Record builds the disbursement record for a settled reservation.
func (r *Reservation) Record(settledAt time.Time) *DisbursementRecord {
	return &DisbursementRecord{
		TransactionReference: r.TransactionReference,
		BuyerAddress:         r.BuyerAddress,
		TokenAmount:          r.TokenAmount,
		NativeLamports:       r.NativeLamports,
		PhaseID:              r.PhaseID,
		SettledAt:            settledAt,
		LedgerTxReference:    r.TransferSignature,
	}
}

// PhaseStats aggregates disbursement activity for one phase.
type PhaseStats struct {
	PhaseID         string
	TokensAllocated uint64 // reserved or settled, smallest units
	TokensSettled   uint64 // settled only, smallest units
	LamportsRaised  uint64 // settled only
	Disbursements   int64  // settled count
}
