package billing

import "errors"

// Failure categories for webhook processing. Everything up to and including
// the ledger insert aborts the request; provider schedule synchronization
// after a successful insert is best-effort and only logged.
var (
	// ErrProviderFetch means the authoritative payment lookup failed. No
	// ledger row has been written when this is returned.
	ErrProviderFetch = errors.New("provider payment lookup failed")

	// ErrLedgerWrite means the ledger insert itself failed.
	ErrLedgerWrite = errors.New("ledger insert failed")

	// ErrNothingToCancel means a cancellation arrived for a transaction key
	// with no prior paid ledger row.
	ErrNothingToCancel = errors.New("no paid payment found to cancel")
)
