package domain

import "errors"

// Claim outcome errors. Callers wrap them with context; classification
// uses errors.Is.
var (
	// ErrMalformedClaim indicates a structurally invalid claim or a dust amount.
	ErrMalformedClaim = errors.New("malformed claim")

	// ErrUnconfirmedTransaction indicates the payment is unknown, not yet
	// confirmed, or failed on-chain.
	ErrUnconfirmedTransaction = errors.New("transaction not confirmed")

	// ErrWrongRecipient indicates no transfer in the payment credits the treasury.
	ErrWrongRecipient = errors.New("payment does not credit the treasury")

	// ErrAmountMismatch indicates the credited amount does not match the claim.
	ErrAmountMismatch = errors.New("payment amount does not match claim")

	// ErrSenderMismatch indicates the treasury was credited by someone other than the buyer.
	ErrSenderMismatch = errors.New("payment sender does not match buyer")

	// ErrPresaleInactive indicates no pricing phase is active.
	ErrPresaleInactive = errors.New("presale is not active")

	// ErrAllocationExhausted indicates the phase cap cannot cover the purchase.
	ErrAllocationExhausted = errors.New("phase allocation exhausted")

	// ErrAccountCreationFailed indicates the buyer's token account could not be created.
	ErrAccountCreationFailed = errors.New("token account creation failed")

	// ErrTransferFailed indicates the token transfer definitely did not happen.
	ErrTransferFailed = errors.New("token transfer failed")

	// ErrAmbiguousTransferOutcome indicates the transfer may still land.
	ErrAmbiguousTransferOutcome = errors.New("token transfer outcome unknown")

	// ErrTreasuryAccountMissing indicates the treasury holds no token account for the mint.
	ErrTreasuryAccountMissing = errors.New("treasury token account missing")

	// ErrAlreadyProcessed indicates the payment was already disbursed.
	ErrAlreadyProcessed = errors.New("transaction already processed")
)

// AlreadyProcessedError carries the record of a previously disbursed payment.
type AlreadyProcessedError struct {
	Record *DisbursementRecord
}

func (e *AlreadyProcessedError) Error() string {
	return "transaction " + e.Record.TransactionReference + " already processed"
}

// Is matches ErrAlreadyProcessed.
func (e *AlreadyProcessedError) Is(target error) bool {
	return target == ErrAlreadyProcessed
}
