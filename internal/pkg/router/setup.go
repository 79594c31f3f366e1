package router

import (
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App) {
	// HttpRouter initializes controller wiring (billing service, provider
	// client); ApiRouter registers the JSON endpoints on top of it.
	setup(app, NewHttpRouter(), NewApiRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
