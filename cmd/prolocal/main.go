package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/prolocal/prolocal/app/controllers"
	"github.com/prolocal/prolocal/app/repository"
	"github.com/prolocal/prolocal/internal/pkg/billing"
	"github.com/prolocal/prolocal/internal/pkg/cache"
	"github.com/prolocal/prolocal/internal/pkg/database"
	"github.com/prolocal/prolocal/internal/pkg/entitlements"
	"github.com/prolocal/prolocal/internal/pkg/env"
	"github.com/prolocal/prolocal/internal/pkg/router"
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

	db := database.GetDB()
	repos := repository.NewFactory(db).GetRepositories()

	provider := billing.NewStripeProvider(
		env.GetEnv("STRIPE_SECRET_KEY", ""),
		env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		cache.GetClient(),
	)
	enforcer := entitlements.NewEnforcer(db)
	checkout := billing.NewCheckoutService(db, provider,
		env.GetEnv("CHECKOUT_SUCCESS_URL", "http://localhost:4000/checkout/success"),
		env.GetEnv("CHECKOUT_CANCEL_URL", "http://localhost:4000/checkout/cancel"),
	)
	reconciler := billing.NewReconciler(db, provider)

	userController := controllers.NewUserController(repos)
	serviceController := controllers.NewServiceController(enforcer, repos)
	subscriptionController := controllers.NewSubscriptionController(enforcer, checkout, reconciler)

	app := fiber.New(fiber.Config{
		AppName: "ProLocal",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app, router.NewApiRouter(
		repos,
		userController,
		serviceController,
		subscriptionController,
	))

	return app
}
