package billing

import (
	"time"

	"github.com/HyeonKimDev/SubLedger/app/models"
)

// Subscription status values derived from the ledger.
const (
	StatusSubscribed = "subscribed"
	StatusFree       = "free"
)

// SubscriptionState is the derived status for one customer: whether any
// payment lineage is currently active, and if so which one.
type SubscriptionState struct {
	Status         string `json:"status"`
	TransactionKey string `json:"transaction_key,omitempty"`
}

// ResolveStatus derives the current subscription state from ledger rows.
// Each transaction key forms a lineage; only the newest row per lineage
// counts, and a customer is subscribed iff some lineage's newest row is paid
// with now inside [StartAt, EndGraceAt]. The result does not depend on the
// order rows are supplied in.
func ResolveStatus(records []models.Payment, now time.Time) SubscriptionState {
	latest := make(map[string]models.Payment, len(records))
	for _, rec := range records {
		cur, ok := latest[rec.TransactionKey]
		if !ok || newerThan(rec, cur) {
			latest[rec.TransactionKey] = rec
		}
	}

	var winner models.Payment
	found := false
	for _, rec := range latest {
		if !isActive(rec, now) {
			continue
		}
		if !found || newerLineage(rec, winner) {
			winner = rec
			found = true
		}
	}

	if !found {
		return SubscriptionState{Status: StatusFree}
	}
	return SubscriptionState{Status: StatusSubscribed, TransactionKey: winner.TransactionKey}
}

func isActive(rec models.Payment, now time.Time) bool {
	if !rec.IsPaid() {
		return false
	}
	// Rows with missing period bounds never count as active.
	if rec.StartAt.IsZero() || rec.EndGraceAt.IsZero() {
		return false
	}
	return !rec.StartAt.After(now) && !now.After(rec.EndGraceAt)
}

// newerThan orders rows within one lineage: newest CreatedAt wins, equal
// timestamps fall back to the store-assigned id.
func newerThan(a, b models.Payment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// newerLineage picks between active lineages. Equal CreatedAt ties resolve
// by transaction key so the winner is stable regardless of input order.
func newerLineage(a, b models.Payment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.TransactionKey < b.TransactionKey
}
