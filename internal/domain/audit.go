package domain

import "time"

// AuditEvent records the outcome of one claim submission.
type AuditEvent struct {
	EventID              string
	TransactionReference string
	BuyerAddress         string
	Reason               string // stable outcome code, "OK" on success
	TokenAmount          uint64
	PhaseID              string
	OccurredAt           time.Time
}

// AuditReasonOK marks a successful disbursement.
const AuditReasonOK = "OK"

// AuditReasonReplayed marks an already-processed claim.
const AuditReasonReplayed = "ALREADY_PROCESSED"
