package models

import "time"

// Payment status constants used across billing models.
const (
	PaymentStatusPaid      = "paid"
	PaymentStatusCancelled = "cancelled"
)

// Payment is one append-only ledger entry for a subscription charge or its
// cancellation. Rows are only ever inserted; a state change is a new row
// sharing the same TransactionKey, never an update of an old one.
type Payment struct {
	ID             uint64     `gorm:"primaryKey" json:"id"`
	CustomerID     string     `gorm:"type:varchar(100);not null;index:idx_payments_customer_created,priority:1" json:"customer_id"`
	TransactionKey string     `gorm:"type:varchar(191);not null;index:idx_payments_txkey_status,priority:1" json:"transaction_key"`
	Amount         int64      `gorm:"not null" json:"amount"`
	Status         string     `gorm:"type:varchar(16);not null;index:idx_payments_txkey_status,priority:2" json:"status"`
	StartAt        time.Time  `gorm:"type:timestamp;not null" json:"start_at"`
	EndAt          time.Time  `gorm:"type:timestamp;not null" json:"end_at"`
	EndGraceAt     time.Time  `gorm:"type:timestamp;not null" json:"end_grace_at"`
	NextScheduleAt *time.Time `gorm:"type:timestamp;default:null" json:"next_schedule_at,omitempty"`
	NextScheduleID string     `gorm:"type:varchar(191);default:''" json:"next_schedule_id"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index:idx_payments_customer_created,priority:2" json:"created_at"`
}

// TableName specifies the table name for the Payment model
func (Payment) TableName() string {
	return "payments"
}

// IsPaid reports whether this row records a successful charge.
func (p *Payment) IsPaid() bool {
	return p.Status == PaymentStatusPaid
}
