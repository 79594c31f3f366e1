package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/HyeonKimDev/SubLedger/app/models"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) InsertPayment(p *models.Payment) error {
	args := m.Called(p)
	return args.Error(0)
}

func (m *mockRepository) LatestPaidByTransactionKey(transactionKey string) (*models.Payment, error) {
	args := m.Called(transactionKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockRepository) ListPaymentsByCustomer(customerID string) ([]models.Payment, error) {
	args := m.Called(customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Payment), args.Error(1)
}

func (m *mockRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	args := m.Called(event)
	if args.Get(1) == nil {
		return args.Bool(0), nil, args.Error(2)
	}
	return args.Bool(0), args.Get(1).(*models.WebhookEvent), args.Error(2)
}

func (m *mockRepository) MarkWebhookProcessed(id uint64, processingError string) error {
	args := m.Called(id, processingError)
	return args.Error(0)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetPayment(ctx context.Context, paymentID string) (*PortOnePayment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PortOnePayment), args.Error(1)
}

func (m *mockProvider) CreateSchedule(ctx context.Context, schedulePaymentID string, in ScheduleRequest) error {
	args := m.Called(ctx, schedulePaymentID, in)
	return args.Error(0)
}

func (m *mockProvider) GetSchedules(ctx context.Context, billingKey string, from, until time.Time) ([]PortOneSchedule, error) {
	args := m.Called(ctx, billingKey, from, until)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]PortOneSchedule), args.Error(1)
}

func (m *mockProvider) RevokeSchedules(ctx context.Context, scheduleIDs []string) error {
	args := m.Called(ctx, scheduleIDs)
	return args.Error(0)
}

var serviceNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestService(repo Repository, provider Provider) *Service {
	svc := NewService(repo, provider)
	svc.now = func() time.Time { return serviceNow }
	svc.minuteDraw = func() int { return 15 }
	svc.newScheduleID = func() string { return "sched-test-1" }
	return svc
}

func TestProcessPaid_InsertsLedgerRowAndSchedules(t *testing.T) {
	repo := &mockRepository{}
	provider := &mockProvider{}
	svc := newTestService(repo, provider)

	provider.On("GetPayment", mock.Anything, "pay_1").Return(&PortOnePayment{
		ID:         "pay_1",
		OrderName:  "SubLedger monthly",
		Amount:     10000,
		Currency:   "KRW",
		BillingKey: "bk_1",
		CustomerID: "cust_1",
	}, nil)
	repo.On("InsertPayment", mock.AnythingOfType("*models.Payment")).Return(nil)
	provider.On("CreateSchedule", mock.Anything, "sched-test-1", mock.AnythingOfType("billing.ScheduleRequest")).Return(nil)

	rec, err := svc.ProcessPaid(context.Background(), "pay_1")
	require.NoError(t, err)

	assert.Equal(t, "pay_1", rec.TransactionKey)
	assert.Equal(t, "cust_1", rec.CustomerID)
	assert.Equal(t, int64(10000), rec.Amount)
	assert.Equal(t, models.PaymentStatusPaid, rec.Status)
	assert.Equal(t, "sched-test-1", rec.NextScheduleID)
	assert.True(t, rec.StartAt.Equal(serviceNow))
	assert.True(t, rec.EndAt.Equal(serviceNow.AddDate(0, 0, 30)))
	assert.True(t, rec.EndGraceAt.Equal(serviceNow.AddDate(0, 0, 31)))
	require.NotNil(t, rec.NextScheduleAt)
	assert.True(t, rec.NextScheduleAt.Equal(time.Date(2024, 2, 1, 10, 15, 0, 0, time.UTC)))

	provider.AssertExpectations(t)
	repo.AssertExpectations(t)

	// The registered charge must reuse the payment's amount, customer and
	// billing key and fire at the computed next schedule instant.
	call := provider.Calls[len(provider.Calls)-1]
	req := call.Arguments.Get(2).(ScheduleRequest)
	assert.Equal(t, "bk_1", req.BillingKey)
	assert.Equal(t, "cust_1", req.CustomerID)
	assert.Equal(t, int64(10000), req.Amount)
	assert.True(t, req.TimeToPay.Equal(*rec.NextScheduleAt))
}

func TestProcessPaid_NoBillingKeySkipsScheduling(t *testing.T) {
	repo := &mockRepository{}
	provider := &mockProvider{}
	svc := newTestService(repo, provider)

	provider.On("GetPayment", mock.Anything, "pay_1").Return(&PortOnePayment{
		ID:         "pay_1",
		Amount:     10000,
		CustomerID: "cust_1",
	}, nil)
	repo.On("InsertPayment", mock.AnythingOfType("*models.Payment")).Return(nil)

	_, err := svc.ProcessPaid(context.Background(), "pay_1")
	require.NoError(t, err)

	repo.AssertExpectations(t)
	provider.AssertNotCalled(t, "CreateSchedule", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessPaid_ProviderFetchFailureWritesNothing(t *testing.T) {
	repo := &mockRepository{}
	provider := &mockProvider{}
	svc := newTestService(repo, provider)

	provider.On("GetPayment", mock.Anything, "pay_1").Return(nil, errors.New("boom"))

	_, err := svc.ProcessPaid(context.Background(), "pay_1")
	require.ErrorIs(t, err, ErrProviderFetch)

	repo.AssertNotCalled(t, "InsertPayment", mock.Anything)
}

func TestProcessPaid_InsertFailureAborts(t *testing.T) {
	repo := &mockRepository{}
	provider := &mockProvider{}
	svc := newTestService(repo, provider)

	provider.On("GetPayment", mock.Anything, "pay_1").Return(&PortOnePayment{
		ID:         "pay_1",
		Amount:     10000,
		BillingKey: "bk_1",
		CustomerID: "cust_1",
	}, nil)
	repo.On("InsertPayment", mock.AnythingOfType("*models.Payment")).Return(errors.New("db down"))

	_, err := svc.ProcessPaid(context.Background(), "pay_1")
	require.ErrorIs(t, err, ErrLedgerWrite)

	provider.AssertNotCalled(t, "CreateSchedule", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessPaid_ScheduleRegistrationFailureIsNonFatal(t *testing.T) {
	repo := &mockRepository{}
	provider := &mockProvider{}
	svc := newTestService(repo, provider)

	provider.On("GetPayment", mock.Anything, "pay_1").Return(&PortOnePayment{
		ID:         "pay_1",
		Amount:     10000,
		BillingKey: "bk_1",
		CustomerID: "cust_1",
	}, nil)
	repo.On("InsertPayment", mock.AnythingOfType("*models.Payment")).Return(nil)
	provider.On("CreateSchedule", mock.Anything, "sched-test-1", mock.Anything).Return(errors.New("provider timeout"))

	rec, err := svc.ProcessPaid(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, rec.Status)
}

func cancellablePaidRow() *models.Payment {
	next := time.Date(2024, 2, 1, 10, 15, 0, 0, time.UTC)
	return &models.Payment{
		ID:             7,
		CustomerID:     "cust_1",
		TransactionKey: "pay_1",
		Amount:         10000,
		Status:         models.PaymentStatusPaid,
		StartAt:        serviceNow,
		EndAt:          serviceNow.AddDate(0, 0, 30),
		EndGraceAt:     serviceNow.AddDate(0, 0, 31),
		NextScheduleAt: &next,
		NextScheduleID: "s1",
	}
}

func TestProcessCancelled_InsertsNegatedCopyAndRevokesSchedule(t *testing.T) {
	repo := &mockRepository{}
	provider := &mockProvider{}
	svc := newTestService(repo, provider)

	paid := cancellablePaidRow()
	provider.On("GetPayment", mock.Anything, "pay_1").Return(&PortOnePayment{
		ID:         "pay_1",
		BillingKey: "bk_1",
		CustomerID: "cust_1",
	}, nil)
	repo.On("LatestPaidByTransactionKey", "pay_1").Return(paid, nil)
	repo.On("InsertPayment", mock.AnythingOfType("*models.Payment")).Return(nil)
	provider.On("GetSchedules", mock.Anything, "bk_1",
		paid.NextScheduleAt.Add(-24*time.Hour), paid.NextScheduleAt.Add(24*time.Hour)).
		Return([]PortOneSchedule{
			{ID: "row_a", PaymentID: "other"},
			{ID: "row_b", PaymentID: "s1"},
		}, nil)
	provider.On("RevokeSchedules", mock.Anything, []string{"row_b"}).Return(nil)

	rec, err := svc.ProcessCancelled(context.Background(), "pay_1")
	require.NoError(t, err)

	assert.Equal(t, "pay_1", rec.TransactionKey)
	assert.Equal(t, int64(-10000), rec.Amount)
	assert.Equal(t, models.PaymentStatusCancelled, rec.Status)
	assert.Equal(t, "s1", rec.NextScheduleID)
	assert.True(t, rec.StartAt.Equal(paid.StartAt))
	assert.True(t, rec.EndAt.Equal(paid.EndAt))
	assert.True(t, rec.EndGraceAt.Equal(paid.EndGraceAt))

	// The original paid row must stay untouched.
	assert.Equal(t, int64(10000), paid.Amount)
	assert.Equal(t, models.PaymentStatusPaid, paid.Status)

	provider.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestProcessCancelled_NothingToCancel(t *testing.T) {
	repo := &mockRepository{}
	provider := &mockProvider{}
	svc := newTestService(repo, provider)

	provider.On("GetPayment", mock.Anything, "pay_1").Return(&PortOnePayment{
		ID:         "pay_1",
		CustomerID: "cust_1",
	}, nil)
	repo.On("LatestPaidByTransactionKey", "pay_1").Return(nil, gorm.ErrRecordNotFound)

	_, err := svc.ProcessCancelled(context.Background(), "pay_1")
	require.ErrorIs(t, err, ErrNothingToCancel)

	repo.AssertNotCalled(t, "InsertPayment", mock.Anything)
}

func TestProcessCancelled_ScheduleLookupFailureIsNonFatal(t *testing.T) {
	repo := &mockRepository{}
	provider := &mockProvider{}
	svc := newTestService(repo, provider)

	paid := cancellablePaidRow()
	provider.On("GetPayment", mock.Anything, "pay_1").Return(&PortOnePayment{
		ID:         "pay_1",
		BillingKey: "bk_1",
		CustomerID: "cust_1",
	}, nil)
	repo.On("LatestPaidByTransactionKey", "pay_1").Return(paid, nil)
	repo.On("InsertPayment", mock.AnythingOfType("*models.Payment")).Return(nil)
	provider.On("GetSchedules", mock.Anything, "bk_1", mock.Anything, mock.Anything).
		Return(nil, errors.New("network error"))

	rec, err := svc.ProcessCancelled(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, rec.Status)

	provider.AssertNotCalled(t, "RevokeSchedules", mock.Anything, mock.Anything)
}

func TestProcessCancelled_NoBillingKeySkipsScheduleLookup(t *testing.T) {
	repo := &mockRepository{}
	provider := &mockProvider{}
	svc := newTestService(repo, provider)

	paid := cancellablePaidRow()
	provider.On("GetPayment", mock.Anything, "pay_1").Return(&PortOnePayment{
		ID:         "pay_1",
		CustomerID: "cust_1",
	}, nil)
	repo.On("LatestPaidByTransactionKey", "pay_1").Return(paid, nil)
	repo.On("InsertPayment", mock.AnythingOfType("*models.Payment")).Return(nil)

	_, err := svc.ProcessCancelled(context.Background(), "pay_1")
	require.NoError(t, err)

	provider.AssertNotCalled(t, "GetSchedules", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStatus_DerivesFromLedger(t *testing.T) {
	repo := &mockRepository{}
	provider := &mockProvider{}
	svc := newTestService(repo, provider)

	next := serviceNow.AddDate(0, 0, 31)
	repo.On("ListPaymentsByCustomer", "cust_1").Return([]models.Payment{
		{
			CustomerID:     "cust_1",
			TransactionKey: "pay_1",
			Amount:         10000,
			Status:         models.PaymentStatusPaid,
			StartAt:        serviceNow.AddDate(0, 0, -1),
			EndAt:          serviceNow.AddDate(0, 0, 29),
			EndGraceAt:     serviceNow.AddDate(0, 0, 30),
			NextScheduleAt: &next,
			CreatedAt:      serviceNow.AddDate(0, 0, -1),
		},
	}, nil)

	state, err := svc.Status(context.Background(), "cust_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSubscribed, state.Status)
	assert.Equal(t, "pay_1", state.TransactionKey)
}
