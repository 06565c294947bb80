package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prolocal/prolocal/app/models"
	"github.com/prolocal/prolocal/app/repository"
	"github.com/prolocal/prolocal/internal/pkg/apperr"
	"github.com/prolocal/prolocal/internal/pkg/billing"
	"github.com/prolocal/prolocal/internal/pkg/entitlements"
	"github.com/prolocal/prolocal/internal/pkg/middleware"
)

// stubProvider satisfies billing.Provider for HTTP-level tests. Webhook
// verification accepts the "valid" signature and yields a harmless event.
type stubProvider struct{}

func (stubProvider) EnsureCustomer(context.Context, string, string, uint) (string, error) {
	return "cus_stub", nil
}

func (stubProvider) EnsurePrice(_ context.Context, tier entitlements.PlanTier) (string, error) {
	return "price_" + string(tier.ID), nil
}

func (stubProvider) CreateCheckoutSession(context.Context, billing.CheckoutParams) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{ID: "cs_stub", URL: "https://checkout.example.com/cs_stub"}, nil
}

func (stubProvider) GetSubscription(context.Context, string) (*billing.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (stubProvider) GetPriceAmount(context.Context, string) (int64, error) {
	return 0, errors.New("not implemented")
}

func (stubProvider) CancelAtPeriodEnd(context.Context, string) (*billing.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (stubProvider) VerifyWebhook(payload []byte, signature string) (*billing.Event, error) {
	if signature != "valid" {
		return nil, apperr.SignatureInvalid(errors.New("bad signature"))
	}
	return &billing.Event{ID: "evt_stub", Type: "ping", RawPayload: payload}, nil
}

func setupTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Service{},
		&models.Subscription{},
		&models.BillingWebhookEvent{},
	))

	repos := repository.NewRepositories(db)
	provider := stubProvider{}
	enforcer := entitlements.NewEnforcer(db)
	checkout := billing.NewCheckoutService(db, provider, "https://example.com/ok", "https://example.com/cancel")
	reconciler := billing.NewReconciler(db, provider)

	subscriptions := NewSubscriptionController(enforcer, checkout, reconciler)
	services := NewServiceController(enforcer, repos)
	users := NewUserController(repos)

	app := fiber.New()
	v1 := app.Group("/api/v1")
	v1.Get("/plans", subscriptions.HandleListPlans)
	v1.Post("/subscriptions/webhook", subscriptions.HandleWebhook)
	v1.Post("/users/register", users.HandleRegister)

	authed := v1.Group("", middleware.APIKeyAuthMiddleware(repos.User))
	authed.Get("/subscriptions/me", subscriptions.HandleGetMySubscription)
	authed.Post("/subscriptions/checkout", subscriptions.HandleCreateCheckout)
	authed.Post("/services", services.HandleCreateService)

	return app, db
}

func registerTestUser(t *testing.T, app *fiber.App) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"name":     "Morgan Fields",
		"email":    "morgan@example.com",
		"password": "secret-pass",
	})
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/users/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var out struct {
		APIKey string `json:"api_key"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.APIKey)
	return out.APIKey
}

func TestListPlansEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/plans", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	for _, plan := range []string{"free", "plus", "premium", "enterprise"} {
		assert.Contains(t, string(raw), fmt.Sprintf("%q", plan))
	}
}

func TestWebhookSignatureHandling(t *testing.T) {
	app, db := setupTestApp(t)

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/subscriptions/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "forged")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodPost, "/api/v1/subscriptions/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "valid")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"received":true`)

	var eventCount int64
	require.NoError(t, db.Model(&models.BillingWebhookEvent{}).Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)
}

func TestAuthenticatedRoutesRequireAPIKey(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/subscriptions/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/subscriptions/me", nil)
	req.Header.Set("X-API-Key", "plk_not_a_real_key")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterAndReadSubscription(t *testing.T) {
	app, _ := setupTestApp(t)
	apiKey := registerTestUser(t, app)

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/subscriptions/me", nil)
	req.Header.Set("X-API-Key", apiKey)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"plan":"free"`)
}

func TestCreateServiceQuotaOverHTTP(t *testing.T) {
	app, _ := setupTestApp(t)
	apiKey := registerTestUser(t, app)

	post := func(title string) int {
		body, _ := json.Marshal(map[string]interface{}{
			"title":       title,
			"price_cents": 5000,
			"charge_type": "hour",
		})
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/services", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", apiKey)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusCreated, post("Lawn mowing"))
	// Free plan owns at most one service.
	assert.Equal(t, fiber.StatusForbidden, post("Hedge trimming"))
}
