package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeAuditEventID computes a deterministic audit event_id using SHA256.
// Formula: SHA256(transaction_reference|reason|occurred_at_unix_nano)
// Returns hex-encoded hash (64 characters).
func ComputeAuditEventID(reference, reason string, occurredAt time.Time) string {
	data := fmt.Sprintf("%s|%s|%d",
		reference,
		reason,
		occurredAt.UnixNano(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
