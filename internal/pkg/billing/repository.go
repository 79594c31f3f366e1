package billing

import (
	"time"

	"github.com/HyeonKimDev/SubLedger/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. The payments
// table is append-only: there is intentionally no update or delete here.
type Repository interface {
	InsertPayment(p *models.Payment) error
	LatestPaidByTransactionKey(transactionKey string) (*models.Payment, error)
	ListPaymentsByCustomer(customerID string) ([]models.Payment, error)
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint64, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) InsertPayment(p *models.Payment) error {
	return r.db.Create(p).Error
}

func (r *gormRepository) LatestPaidByTransactionKey(transactionKey string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.
		Where("transaction_key = ? AND status = ?", transactionKey, models.PaymentStatusPaid).
		Order("created_at DESC, id DESC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListPaymentsByCustomer(customerID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint64, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
