package billing

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/prolocal/prolocal/app/models"
	"github.com/prolocal/prolocal/app/repository"
	"github.com/prolocal/prolocal/internal/pkg/apperr"
	"github.com/prolocal/prolocal/internal/pkg/entitlements"
)

// Reconciler applies verified billing events to local entitlement state.
// Handlers are idempotent: they recompute the full target state from the
// event payload instead of mutating incrementally, so at-least-once delivery
// and reordering are safe. Events referencing unknown users or subscriptions
// are logged and skipped rather than failed, since the provider would retry
// permanently-unprocessable deliveries forever.
type Reconciler struct {
	db       *gorm.DB
	provider Provider
}

// NewReconciler creates a reconciler on the given database handle and
// payment provider.
func NewReconciler(db *gorm.DB, provider Provider) *Reconciler {
	return &Reconciler{db: db, provider: provider}
}

// HandleWebhook verifies, records and processes a raw webhook delivery.
// Signature failures return an error (the only case the HTTP layer maps to
// 400); handler-level problems are recorded on the event row and swallowed
// so the provider gets its 200. Infrastructure errors bubble up so the
// provider redelivers.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := r.provider.VerifyWebhook(payload, signature)
	if err != nil {
		return err
	}

	repos := repository.NewRepositories(r.db)
	created, stored, err := repos.WebhookEvent.CreateIfNotExists(&models.BillingWebhookEvent{
		Provider:        ProviderName,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PayloadJSON:     string(event.RawPayload),
		SignatureValid:  true,
	})
	if err != nil {
		return err
	}
	if !created && stored.ProcessedAt != nil {
		log.Printf("[Billing] Skipping already processed event %s (%s)", event.ID, event.Type)
		return nil
	}

	procErr := r.ProcessEvent(ctx, event)
	if procErr != nil {
		var appErr *apperr.Error
		if errors.As(procErr, &appErr) {
			// Permanently unprocessable for this delivery (unknown plan,
			// price mismatch, missing rows): record and acknowledge.
			log.Printf("[Billing] Event %s (%s) not applied: %v", event.ID, event.Type, procErr)
			return repos.WebhookEvent.MarkProcessed(stored.ID, procErr.Error())
		}
		if markErr := repos.WebhookEvent.MarkProcessed(stored.ID, procErr.Error()); markErr != nil {
			log.Printf("[Billing] Failed to mark event %s: %v", event.ID, markErr)
		}
		return procErr
	}

	return repos.WebhookEvent.MarkProcessed(stored.ID, "")
}

// ProcessEvent dispatches a parsed event to its handler. Unknown event types
// are a no-op.
func (r *Reconciler) ProcessEvent(ctx context.Context, event *Event) error {
	switch event.Type {
	case EventCheckoutCompleted:
		return r.handleCheckoutCompleted(ctx, event.Checkout)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return r.handleSubscriptionChanged(ctx, event.Subscription)
	case EventSubscriptionDeleted:
		return r.handleSubscriptionDeleted(event.Subscription)
	case EventInvoicePaid:
		return r.handleInvoicePaid(ctx, event.Invoice)
	case EventInvoicePaymentFailed:
		return r.handleInvoicePaymentFailed(event.Invoice)
	default:
		log.Printf("[Billing] Ignoring unhandled event type %s", event.Type)
		return nil
	}
}

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, checkout *CheckoutResult) error {
	if checkout == nil {
		return nil
	}
	userID, ok := userIDFromMetadata(checkout.Metadata)
	if !ok {
		log.Printf("[Billing] Checkout session %s carries no user correlation, skipping", checkout.SessionID)
		return nil
	}
	if checkout.SubscriptionID == "" {
		log.Printf("[Billing] Checkout session %s completed without a subscription, skipping", checkout.SessionID)
		return nil
	}

	remote, err := r.provider.GetSubscription(ctx, checkout.SubscriptionID)
	if err != nil {
		return err
	}
	if remote.CustomerID == "" {
		remote.CustomerID = checkout.CustomerID
	}
	// Checkout metadata is the authoritative correlation source; the
	// subscription copy may lag behind it or come back as an empty map, so
	// fill in any keys the subscription is missing.
	if remote.Metadata == nil {
		remote.Metadata = make(map[string]string, len(checkout.Metadata))
	}
	for k, v := range checkout.Metadata {
		if _, ok := remote.Metadata[k]; !ok {
			remote.Metadata[k] = v
		}
	}
	return r.applySubscription(ctx, userID, remote)
}

func (r *Reconciler) handleSubscriptionChanged(ctx context.Context, remote *Subscription) error {
	if remote == nil {
		return nil
	}
	userID, ok := userIDFromMetadata(remote.Metadata)
	if !ok {
		// Fall back to the stored linkage for subscriptions created before
		// metadata correlation existed.
		repos := repository.NewRepositories(r.db)
		sub, err := repos.Subscription.GetByProviderSubscriptionID(remote.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("[Billing] Subscription %s is not correlated to any user, skipping", remote.ID)
				return nil
			}
			return err
		}
		userID = sub.UserID
	}
	return r.applySubscription(ctx, userID, remote)
}

func (r *Reconciler) handleSubscriptionDeleted(remote *Subscription) error {
	if remote == nil {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)

		sub, err := repos.Subscription.GetByProviderSubscriptionID(remote.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("[Billing] Deleted subscription %s is unknown locally, skipping", remote.ID)
				return nil
			}
			return err
		}

		if _, err := repos.User.GetByIDForUpdate(sub.UserID); err != nil {
			return err
		}

		now := time.Now()
		canceledAt := remote.CanceledAt
		if canceledAt == nil {
			canceledAt = &now
		}

		log.Printf("[Billing] Subscription %s deleted, downgrading user %d to free", remote.ID, sub.UserID)

		sub.Plan = string(entitlements.PlanFree)
		sub.Status = models.SubscriptionStatusCanceled
		sub.CanceledAt = canceledAt
		sub.CancelAtPeriodEnd = false
		sub.ProviderSubscriptionID = ""
		sub.ProviderPriceID = ""
		if !remote.CurrentPeriodEnd.IsZero() {
			end := remote.CurrentPeriodEnd
			sub.CurrentPeriodEnd = &end
		}
		if err := repos.Subscription.Update(sub); err != nil {
			return err
		}
		if err := repos.User.SetHasActivePlan(sub.UserID, false); err != nil {
			return err
		}
		return entitlements.CascadeDeactivateAndStripHighlights(repos, sub.UserID)
	})
}

// handleInvoicePaid is a safety net for providers that signal payment
// recovery through invoice events only: a past_due entitlement flips back to
// active.
func (r *Reconciler) handleInvoicePaid(ctx context.Context, invoice *InvoiceResult) error {
	if invoice == nil || invoice.SubscriptionID == "" {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)

		sub, err := repos.Subscription.GetByProviderSubscriptionID(invoice.SubscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("[Billing] Invoice %s references unknown subscription %s, skipping", invoice.InvoiceID, invoice.SubscriptionID)
				return nil
			}
			return err
		}
		if sub.Status == models.SubscriptionStatusActive {
			return nil
		}

		if _, err := repos.User.GetByIDForUpdate(sub.UserID); err != nil {
			return err
		}

		sub.Status = models.SubscriptionStatusActive
		if remote, err := r.provider.GetSubscription(ctx, invoice.SubscriptionID); err == nil {
			start := remote.CurrentPeriodStart
			end := remote.CurrentPeriodEnd
			sub.CurrentPeriodStart = &start
			sub.CurrentPeriodEnd = &end
		} else {
			log.Printf("[Billing] Could not refresh subscription %s after payment: %v", invoice.SubscriptionID, err)
		}
		if err := repos.Subscription.Update(sub); err != nil {
			return err
		}
		return repos.User.SetHasActivePlan(sub.UserID, sub.Plan != string(entitlements.PlanFree))
	})
}

// handleInvoicePaymentFailed moves the entitlement into the past_due grace
// state. Resources stay untouched; only deletion or lapse removes access.
func (r *Reconciler) handleInvoicePaymentFailed(invoice *InvoiceResult) error {
	if invoice == nil || invoice.SubscriptionID == "" {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)

		sub, err := repos.Subscription.GetByProviderSubscriptionID(invoice.SubscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("[Billing] Failed invoice %s references unknown subscription %s, skipping", invoice.InvoiceID, invoice.SubscriptionID)
				return nil
			}
			return err
		}

		log.Printf("[Billing] Payment failed for subscription %s (user %d), marking past_due", invoice.SubscriptionID, sub.UserID)
		sub.Status = models.SubscriptionStatusPastDue
		return repos.Subscription.Update(sub)
	})
}

// applySubscription is the shared upsert for checkout-completed and
// subscription-created/updated events. It verifies the provider-reported
// price against the plan catalog before any entitlement write, then
// recomputes the full local row from the remote state.
func (r *Reconciler) applySubscription(ctx context.Context, userID uint, remote *Subscription) error {
	planID, ok := planIDFromMetadata(remote.Metadata)
	if !ok {
		return apperr.New(apperr.CodeUnknownPlan,
			"subscription "+remote.ID+" carries no plan correlation", 400)
	}
	tier, err := entitlements.GetPlan(entitlements.Plan(planID))
	if err != nil {
		return err
	}

	if remote.PriceID != "" {
		amount, err := r.provider.GetPriceAmount(ctx, remote.PriceID)
		if err != nil {
			return err
		}
		if amount != tier.PriceCents {
			log.Printf("[Billing] CRITICAL: price mismatch for plan %s on subscription %s: provider reports %d, catalog says %d",
				tier.ID, remote.ID, amount, tier.PriceCents)
			return apperr.IntegrityViolation("provider price does not match the plan catalog")
		}
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)

		if _, err := repos.User.GetByIDForUpdate(userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("[Billing] Subscription %s references unknown user %d, skipping", remote.ID, userID)
				return nil
			}
			return err
		}

		sub, err := repos.Subscription.GetByUserID(userID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			sub = &models.Subscription{UserID: userID}
		}

		start := remote.CurrentPeriodStart
		end := remote.CurrentPeriodEnd
		sub.Plan = string(tier.ID)
		sub.Status = remote.Status
		sub.ProviderCustomerID = remote.CustomerID
		sub.ProviderSubscriptionID = remote.ID
		sub.ProviderPriceID = remote.PriceID
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &end
		sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
		sub.CanceledAt = remote.CanceledAt

		if sub.ID == 0 {
			err = repos.Subscription.Create(sub)
		} else {
			err = repos.Subscription.Update(sub)
		}
		if err != nil {
			return err
		}

		entitling := sub.IsEntitling() && sub.Plan != string(entitlements.PlanFree)
		if err := repos.User.SetHasActivePlan(userID, entitling); err != nil {
			return err
		}

		stripped, err := entitlements.PruneExcessHighlights(repos, userID, tier.HighlightLimit)
		if err != nil {
			return err
		}
		if stripped > 0 {
			log.Printf("[Billing] Stripped %d excess highlights for user %d after plan change to %s", stripped, userID, tier.ID)
		}
		return nil
	})
}

func userIDFromMetadata(metadata map[string]string) (uint, bool) {
	raw, ok := metadata["userId"]
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func planIDFromMetadata(metadata map[string]string) (string, bool) {
	plan, ok := metadata["planId"]
	return plan, ok && plan != ""
}
