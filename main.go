package main

import (
	"fmt"
	"log"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/HyeonKimDev/SubLedger/internal/pkg/cache"
	"github.com/HyeonKimDev/SubLedger/internal/pkg/database"
	"github.com/HyeonKimDev/SubLedger/internal/pkg/env"
	"github.com/HyeonKimDev/SubLedger/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		AppName: "SubLedger",
	})
	app.Use(recover.New(), logger.New())

	// fiber metrics, open in dev and basicauth-protected otherwise
	if env.IsDev() {
		app.Get("/metrics", monitor.New())
	} else {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				"admin": env.GetEnv("METRICS_PASSWORD", "changeme"),
			},
		}), monitor.New())
	}

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
