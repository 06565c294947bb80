package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/prolocal/prolocal/internal/pkg/apperr"
	"github.com/prolocal/prolocal/internal/pkg/billing"
	"github.com/prolocal/prolocal/internal/pkg/entitlements"
	"github.com/prolocal/prolocal/internal/pkg/usercontext"
)

const providerCallTimeout = 20 * time.Second

// SubscriptionController exposes the plan catalog, checkout, entitlement
// reads and the provider webhook endpoint.
type SubscriptionController struct {
	enforcer   *entitlements.Enforcer
	checkout   *billing.CheckoutService
	reconciler *billing.Reconciler
}

func NewSubscriptionController(enforcer *entitlements.Enforcer, checkout *billing.CheckoutService, reconciler *billing.Reconciler) *SubscriptionController {
	return &SubscriptionController{
		enforcer:   enforcer,
		checkout:   checkout,
		reconciler: reconciler,
	}
}

// HandleListPlans returns the public plan catalog.
func (sc *SubscriptionController) HandleListPlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plans": entitlements.ListPlans()})
}

type createCheckoutRequest struct {
	PlanID string `json:"plan_id"`
}

// HandleCreateCheckout starts a hosted checkout for the requested plan.
func (sc *SubscriptionController) HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req createCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return renderError(c, apperr.InvalidRequest("invalid request body"))
	}
	if req.PlanID == "" {
		return renderError(c, apperr.InvalidRequest("plan_id is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	session, err := sc.checkout.CreateCheckoutSession(ctx, userCtx.UserID, req.PlanID)
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(fiber.Map{
		"session_id": session.ID,
		"url":        session.URL,
	})
}

// HandleGetMySubscription returns the caller's current entitlement,
// materializing the free row on first read.
func (sc *SubscriptionController) HandleGetMySubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	sub, tier, err := sc.enforcer.CurrentSubscription(userCtx.UserID)
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(fiber.Map{
		"subscription": sub,
		"plan":         tier,
	})
}

// HandleCancelSubscription flags the caller's paid subscription to end at
// the period boundary.
func (sc *SubscriptionController) HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	sub, err := sc.checkout.CancelSubscription(ctx, userCtx.UserID)
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":   "Subscription will be canceled at the end of the current period",
		"cancel_at": sub.CurrentPeriodEnd,
	})
}

// HandleWebhook receives provider webhook deliveries. The route must see the
// raw, unparsed body: signature verification covers the exact bytes sent.
// Only a signature failure produces a 400; unprocessable events are
// acknowledged so the provider does not retry them forever.
func (sc *SubscriptionController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	if err := sc.reconciler.HandleWebhook(ctx, rawBody, signature); err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Code == apperr.CodeSignatureInvalid {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}
		return renderError(c, err)
	}
	return c.JSON(fiber.Map{"received": true})
}
