package disbursement

import (
	"errors"
	"net/http"

	"github.com/woofai-token/Woofaiserver/internal/domain"
)

// Claim outcome errors, shared with the claims and pricing packages.
var (
	ErrMalformedClaim           = domain.ErrMalformedClaim
	ErrUnconfirmedTransaction   = domain.ErrUnconfirmedTransaction
	ErrWrongRecipient           = domain.ErrWrongRecipient
	ErrAmountMismatch           = domain.ErrAmountMismatch
	ErrSenderMismatch           = domain.ErrSenderMismatch
	ErrPresaleInactive          = domain.ErrPresaleInactive
	ErrAllocationExhausted      = domain.ErrAllocationExhausted
	ErrAccountCreationFailed    = domain.ErrAccountCreationFailed
	ErrTransferFailed           = domain.ErrTransferFailed
	ErrAmbiguousTransferOutcome = domain.ErrAmbiguousTransferOutcome
	ErrTreasuryAccountMissing   = domain.ErrTreasuryAccountMissing
	ErrAlreadyProcessed         = domain.ErrAlreadyProcessed
)

// Stable outcome codes.
const (
	CodeOK                       = domain.AuditReasonOK
	CodeAlreadyProcessed         = domain.AuditReasonReplayed
	CodeMalformedClaim           = "MALFORMED_CLAIM"
	CodeUnconfirmedTransaction   = "UNCONFIRMED_TRANSACTION"
	CodeWrongRecipient           = "WRONG_RECIPIENT"
	CodeAmountMismatch           = "AMOUNT_MISMATCH"
	CodeSenderMismatch           = "SENDER_MISMATCH"
	CodePresaleInactive          = "PRESALE_INACTIVE"
	CodeAllocationExhausted      = "ALLOCATION_EXHAUSTED"
	CodeAccountCreationFailed    = "ACCOUNT_CREATION_FAILED"
	CodeTransferFailed           = "TRANSFER_FAILED"
	CodeAmbiguousTransferOutcome = "AMBIGUOUS_TRANSFER_OUTCOME"
	CodeTreasuryAccountMissing   = "TREASURY_ACCOUNT_MISSING"
	CodeRateLimited              = "RATE_LIMITED"
	CodeInternal                 = "INTERNAL_ERROR"
)

// Reason is the client-facing classification of a claim outcome.
type Reason struct {
	Code    string
	Status  int
	Message string
}

var reasons = []struct {
	err    error
	reason Reason
}{
	{ErrAlreadyProcessed, Reason{CodeAlreadyProcessed, http.StatusOK, "transaction already processed"}},
	{ErrMalformedClaim, Reason{CodeMalformedClaim, http.StatusBadRequest, "claim is malformed"}},
	{ErrUnconfirmedTransaction, Reason{CodeUnconfirmedTransaction, http.StatusUnprocessableEntity, "transaction not found or not confirmed"}},
	{ErrWrongRecipient, Reason{CodeWrongRecipient, http.StatusUnprocessableEntity, "transaction did not pay the presale treasury"}},
	{ErrAmountMismatch, Reason{CodeAmountMismatch, http.StatusUnprocessableEntity, "paid amount does not match the claimed amount"}},
	{ErrSenderMismatch, Reason{CodeSenderMismatch, http.StatusUnprocessableEntity, "payment was not sent by the buyer"}},
	{ErrPresaleInactive, Reason{CodePresaleInactive, http.StatusForbidden, "presale is not active"}},
	{ErrAllocationExhausted, Reason{CodeAllocationExhausted, http.StatusConflict, "phase allocation exhausted"}},
	{ErrAccountCreationFailed, Reason{CodeAccountCreationFailed, http.StatusBadGateway, "could not create the buyer token account, retry later"}},
	{ErrTransferFailed, Reason{CodeTransferFailed, http.StatusBadGateway, "token transfer failed, retry later"}},
	{ErrAmbiguousTransferOutcome, Reason{CodeAmbiguousTransferOutcome, http.StatusAccepted, "token transfer submitted, outcome pending; retry the same claim later"}},
	{ErrTreasuryAccountMissing, Reason{CodeTreasuryAccountMissing, http.StatusInternalServerError, "presale treasury is misconfigured"}},
}

// ReasonOf maps an error to its stable code and HTTP status. A nil error is
// success; unknown errors map to INTERNAL_ERROR without exposing details.
func ReasonOf(err error) Reason {
	if err == nil {
		return Reason{Code: CodeOK, Status: http.StatusOK}
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return Reason{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal error"}
}
