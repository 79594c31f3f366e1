package router

import (
	"log"

	"github.com/HyeonKimDev/SubLedger/app/controllers"
	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Initialize billing controller with repository and provider client.
	// Provider credentials are required; refusing to start beats accepting
	// webhooks we cannot verify against the provider.
	if err := controllers.InitializeBillingController(); err != nil {
		log.Fatalf("billing controller initialization failed: %v", err)
	}

	h.registerPublicRoutes(app)
}

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	})
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
