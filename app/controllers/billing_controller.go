package controllers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/HyeonKimDev/SubLedger/internal/pkg/billing"
	"github.com/HyeonKimDev/SubLedger/internal/pkg/cache"
	"github.com/HyeonKimDev/SubLedger/internal/pkg/database"
	"github.com/gofiber/fiber/v2"
)

const statusCacheTTL = 30 * time.Second

var billingService *billing.Service

// InitializeBillingController wires the billing service with the shared DB
// handle and a configured provider client. Called once during startup;
// missing provider credentials are a startup failure.
func InitializeBillingController() error {
	provider, err := billing.NewPortOneClientFromEnv()
	if err != nil {
		return err
	}
	billingService = billing.NewServiceFromDB(database.GetDB(), provider)
	return nil
}

// SetBillingService overrides the wired service. Used by tests.
func SetBillingService(svc *billing.Service) {
	billingService = svc
}

// HandleBillingWebhook processes inbound provider payment notifications.
// Duplicate deliveries are acknowledged without reprocessing; statuses the
// ledger does not model are acknowledged without a write so the provider
// does not retry them.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	var req billing.WebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(billing.WebhookResponse{
			Success: false,
			Error:   "invalid_payload",
		})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(billing.WebhookResponse{
			Success: false,
			Error:   "payment_id and status are required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := billingService.RecordWebhookEvent(ctx, req, string(rawBody))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(billing.WebhookResponse{
			Success: false,
			Error:   "webhook_persist_failed",
		})
	}
	// Only deliveries that already processed cleanly are answered as
	// duplicates. A recorded delivery whose first attempt failed (or never
	// finished) is reprocessed, otherwise the provider's retry could never
	// repair a transient failure.
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return c.Status(fiber.StatusOK).JSON(billing.WebhookResponse{
			Success:   true,
			Duplicate: true,
		})
	}

	switch req.Status {
	case billing.WebhookStatusPaid:
		payment, procErr := billingService.ProcessPaid(ctx, req.PaymentID)
		_ = billingService.MarkWebhookProcessed(ctx, stored.ID, procErr)
		if procErr != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(billing.WebhookResponse{
				Success: false,
				Error:   procErr.Error(),
			})
		}
		invalidateStatusCache(payment.CustomerID)
		return c.Status(fiber.StatusOK).JSON(billing.WebhookResponse{
			Success: true,
			Payment: payment,
		})

	case billing.WebhookStatusCancelled:
		payment, procErr := billingService.ProcessCancelled(ctx, req.PaymentID)
		_ = billingService.MarkWebhookProcessed(ctx, stored.ID, procErr)
		if procErr != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(billing.WebhookResponse{
				Success: false,
				Error:   procErr.Error(),
			})
		}
		invalidateStatusCache(payment.CustomerID)
		return c.Status(fiber.StatusOK).JSON(billing.WebhookResponse{
			Success: true,
			Payment: payment,
		})

	default:
		_ = billingService.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(billing.WebhookResponse{
			Success: true,
			Message: "unhandled status acknowledged",
		})
	}
}

// HandleBillingStatus returns the derived subscription state for a customer.
// Results are cached briefly; webhook processing invalidates the entry.
func HandleBillingStatus(c *fiber.Ctx) error {
	customerID := strings.TrimSpace(c.Params("customerID"))
	if customerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "customer id missing"})
	}

	cacheKey := statusCacheKey(customerID)
	if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := billingService.Status(ctx, customerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "status_lookup_failed"})
	}

	if buf, err := json.Marshal(state); err == nil {
		_ = cache.Set(cacheKey, string(buf), statusCacheTTL)
	}
	return c.Status(fiber.StatusOK).JSON(state)
}

func statusCacheKey(customerID string) string {
	return "billing:status:" + customerID
}

func invalidateStatusCache(customerID string) {
	if customerID == "" {
		return
	}
	_ = cache.Delete(statusCacheKey(customerID))
}
