package router

import (
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/tiergate/app/controllers"
)

// HttpRouter installs operational routes: health, metrics and API docs.
type HttpRouter struct {
	deps Deps
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	health := controllers.NewHealthController(h.deps.DB, h.deps.Cache)
	app.Get("/healthz", health.HandleHealth)

	app.Get("/metrics", adminAuth(h.deps.Config), adaptor.HTTPHandler(promhttp.Handler()))

	if len(h.deps.OpenAPI) > 0 {
		app.Use(swagger.New(swagger.Config{
			BasePath:    "/docs/api/",
			FilePath:    "openapi.yml",
			FileContent: h.deps.OpenAPI,
			Path:        "v1",
			Title:       "tiergate API",
		}))
	}
}
