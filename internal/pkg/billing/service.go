package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/HyeonKimDev/SubLedger/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// scheduleLookupSlack is the window around a stored NextScheduleAt used when
// searching the provider for the matching pending schedule.
const scheduleLookupSlack = 24 * time.Hour

// Provider is the remote recurring-billing API surface the orchestrator
// consumes. Satisfied by PortOneClient.
type Provider interface {
	GetPayment(ctx context.Context, paymentID string) (*PortOnePayment, error)
	CreateSchedule(ctx context.Context, schedulePaymentID string, in ScheduleRequest) error
	GetSchedules(ctx context.Context, billingKey string, from, until time.Time) ([]PortOneSchedule, error)
	RevokeSchedules(ctx context.Context, scheduleIDs []string) error
}

// Service orchestrates webhook-driven ledger writes and provider schedule
// synchronization. The ledger insert is the authoritative step: any failure
// before or during it aborts the request, anything after it is best-effort.
type Service struct {
	repo     Repository
	provider Provider

	now           func() time.Time
	minuteDraw    func() int
	newScheduleID func() string
}

// NewService creates a billing service from an injected repository and
// provider client.
func NewService(repo Repository, provider Provider) *Service {
	return &Service{
		repo:          repo,
		provider:      provider,
		now:           time.Now,
		minuteDraw:    func() int { return rand.Intn(scheduleSlots) },
		newScheduleID: uuid.NewString,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, provider Provider) *Service {
	return NewService(NewRepository(db), provider)
}

// ProcessPaid handles a Paid webhook event: it fetches the authoritative
// payment, appends a paid ledger row covering the next 30-day period, and
// registers the follow-up recurring charge when a billing key exists.
func (s *Service) ProcessPaid(ctx context.Context, paymentID string) (*models.Payment, error) {
	pay, err := s.provider.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFetch, err)
	}

	win := ComputeWindow(s.now(), s.minuteDraw())
	scheduleID := s.newScheduleID()

	record := &models.Payment{
		CustomerID:     pay.CustomerID,
		TransactionKey: pay.ID,
		Amount:         pay.Amount,
		Status:         models.PaymentStatusPaid,
		StartAt:        win.StartAt,
		EndAt:          win.EndAt,
		EndGraceAt:     win.EndGraceAt,
		NextScheduleAt: &win.NextScheduleAt,
		NextScheduleID: scheduleID,
	}
	if err := s.repo.InsertPayment(record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	// Without a billing key there is nothing to schedule; the customer will
	// pay manually next period.
	if pay.BillingKey == "" {
		return record, nil
	}

	err = s.provider.CreateSchedule(ctx, scheduleID, ScheduleRequest{
		BillingKey: pay.BillingKey,
		OrderName:  pay.OrderName,
		CustomerID: pay.CustomerID,
		Amount:     pay.Amount,
		Currency:   currencyOrDefault(pay.Currency),
		TimeToPay:  win.NextScheduleAt,
	})
	if err != nil {
		// The ledger row is already committed and authoritative; a failed
		// schedule registration is repaired by reconciliation, not by
		// failing the webhook.
		log.Printf("billing: schedule registration failed for payment %s (schedule %s): %v", pay.ID, scheduleID, err)
	}

	return record, nil
}

// ProcessCancelled handles a Cancelled webhook event: it appends a negated
// cancellation row for the most recent paid row of the same transaction key
// and best-effort revokes the pending provider-side schedule.
func (s *Service) ProcessCancelled(ctx context.Context, paymentID string) (*models.Payment, error) {
	pay, err := s.provider.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFetch, err)
	}

	paid, err := s.repo.LatestPaidByTransactionKey(pay.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: transaction key %s", ErrNothingToCancel, pay.ID)
		}
		return nil, err
	}

	// The cancellation annotates the same period: period and schedule fields
	// are copied verbatim, only amount and status change.
	record := &models.Payment{
		CustomerID:     paid.CustomerID,
		TransactionKey: paid.TransactionKey,
		Amount:         -paid.Amount,
		Status:         models.PaymentStatusCancelled,
		StartAt:        paid.StartAt,
		EndAt:          paid.EndAt,
		EndGraceAt:     paid.EndGraceAt,
		NextScheduleAt: paid.NextScheduleAt,
		NextScheduleID: paid.NextScheduleID,
	}
	if err := s.repo.InsertPayment(record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	if paid.NextScheduleID != "" && pay.BillingKey != "" && paid.NextScheduleAt != nil {
		s.revokePendingSchedule(ctx, pay.BillingKey, paid.NextScheduleID, *paid.NextScheduleAt)
	}

	return record, nil
}

// revokePendingSchedule locates the provider-side schedule correlated with
// scheduleID and deletes it. Failures are logged and swallowed: the
// cancellation ledger row is already committed.
func (s *Service) revokePendingSchedule(ctx context.Context, billingKey, scheduleID string, nextScheduleAt time.Time) {
	from := nextScheduleAt.Add(-scheduleLookupSlack)
	until := nextScheduleAt.Add(scheduleLookupSlack)

	schedules, err := s.provider.GetSchedules(ctx, billingKey, from, until)
	if err != nil {
		log.Printf("billing: schedule lookup failed for schedule %s: %v", scheduleID, err)
		return
	}

	for _, sched := range schedules {
		if sched.PaymentID != scheduleID {
			continue
		}
		if err := s.provider.RevokeSchedules(ctx, []string{sched.ID}); err != nil {
			log.Printf("billing: schedule revocation failed for schedule %s: %v", scheduleID, err)
		}
		return
	}

	log.Printf("billing: no pending provider schedule found for schedule %s", scheduleID)
}

// Status derives the subscription state for a customer from their ledger.
func (s *Service) Status(ctx context.Context, customerID string) (SubscriptionState, error) {
	_ = ctx
	records, err := s.repo.ListPaymentsByCustomer(customerID)
	if err != nil {
		return SubscriptionState{}, err
	}
	return ResolveStatus(records, s.now()), nil
}

// RecordWebhookEvent persists a webhook delivery idempotently. The returned
// bool is false when the same delivery was already recorded, in which case
// the caller must not process it again.
func (s *Service) RecordWebhookEvent(ctx context.Context, req WebhookRequest, payload string) (bool, *models.WebhookEvent, error) {
	_ = ctx
	event := &models.WebhookEvent{
		Provider: models.BillingProviderPortOne,
		// Payment id + status dedups retried deliveries of one event while
		// still letting a later Cancelled for the same payment through.
		ProviderEventID: req.PaymentID + ":" + req.Status,
		EventType:       req.Status,
		PayloadJSON:     payload,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint64, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return "KRW"
	}
	return currency
}
