package billing

import (
	"github.com/HyeonKimDev/SubLedger/app/models"
	"github.com/go-playground/validator/v10"
)

// Webhook event statuses the orchestrator models. Anything else is
// acknowledged without a ledger write so the provider stops retrying.
const (
	WebhookStatusPaid      = "Paid"
	WebhookStatusCancelled = "Cancelled"
)

// WebhookRequest is the inbound provider notification body.
type WebhookRequest struct {
	PaymentID string `json:"payment_id" validate:"required"`
	Status    string `json:"status" validate:"required"`
}

func (r *WebhookRequest) Validate() error {
	v := validator.New()

	return v.Struct(r)
}

// WebhookResponse is the envelope returned to the provider.
type WebhookResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Payment   *models.Payment `json:"payment,omitempty"`
	Error     string          `json:"error,omitempty"`
	Duplicate bool            `json:"duplicate,omitempty"`
}
