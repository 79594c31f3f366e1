package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderPortOne = "portone"
)

// WebhookEvent stores provider webhook deliveries with deduplication
// metadata so retried deliveries are processed at most once.
type WebhookEvent struct {
	ID              uint64     `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(50);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:text;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the WebhookEvent model
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
