package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/prolocal/prolocal/app/controllers"
	"github.com/prolocal/prolocal/app/repository"
	"github.com/prolocal/prolocal/internal/pkg/middleware"
)

// ApiRouter wires the JSON API. The webhook route is installed outside the
// authenticated group and before any body-parsing middleware: signature
// verification needs the untouched raw body.
type ApiRouter struct {
	repos         *repository.Repositories
	users         *controllers.UserController
	services      *controllers.ServiceController
	subscriptions *controllers.SubscriptionController
}

func NewApiRouter(
	repos *repository.Repositories,
	users *controllers.UserController,
	services *controllers.ServiceController,
	subscriptions *controllers.SubscriptionController,
) *ApiRouter {
	return &ApiRouter{
		repos:         repos,
		users:         users,
		services:      services,
		subscriptions: subscriptions,
	}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Public routes
	v1.Get("/plans", h.subscriptions.HandleListPlans)
	v1.Post("/subscriptions/webhook", h.subscriptions.HandleWebhook)
	v1.Post("/users/register", h.users.HandleRegister)

	// Authenticated routes
	authed := v1.Group("", middleware.APIKeyAuthMiddleware(h.repos.User))

	authed.Get("/users/me", h.users.HandleGetProfile)
	authed.Post("/users/me/api-key", h.users.HandleRotateAPIKey)

	authed.Post("/subscriptions/checkout", h.subscriptions.HandleCreateCheckout)
	authed.Get("/subscriptions/me", h.subscriptions.HandleGetMySubscription)
	authed.Delete("/subscriptions/cancel", h.subscriptions.HandleCancelSubscription)

	authed.Post("/services", h.services.HandleCreateService)
	authed.Get("/services", h.services.HandleListMyServices)
	authed.Get("/services/:uuid", h.services.HandleGetService)
	authed.Put("/services/:uuid", h.services.HandleUpdateService)
	authed.Delete("/services/:uuid", h.services.HandleDeleteService)
	authed.Post("/services/:uuid/activate", h.services.HandleActivateService)
	authed.Post("/services/:uuid/deactivate", h.services.HandleDeactivateService)
	authed.Post("/services/:uuid/highlight", h.services.HandleHighlightService)
	authed.Delete("/services/:uuid/highlight", h.services.HandleUnhighlightService)
}
