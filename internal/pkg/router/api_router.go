package router

import (
	"github.com/HyeonKimDev/SubLedger/app/controllers"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")

	// Provider webhook (no rate limit concerns beyond the group limiter;
	// the provider retries on non-2xx)
	v1.Post("/billing/webhook", controllers.HandleBillingWebhook)

	// Derived subscription status for the status widget
	v1.Get("/billing/status/:customerID", controllers.HandleBillingStatus)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
