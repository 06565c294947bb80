package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	stripe "github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/price"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/prolocal/prolocal/internal/pkg/apperr"
	"github.com/prolocal/prolocal/internal/pkg/entitlements"
)

const priceCacheTTL = 12 * time.Hour

// StripeProvider implements Provider against the Stripe API. Prices are
// looked up by a stable lookup key per plan and created on first use, so the
// catalog in code stays the single source of truth for amounts. Resolved
// price ids are cached in Redis when a client is configured.
type StripeProvider struct {
	webhookSecret string
	cache         *redis.Client
}

// NewStripeProvider creates a Stripe-backed provider. cache may be nil; the
// adapter then resolves prices against the API on every call.
func NewStripeProvider(secretKey, webhookSecret string, cache *redis.Client) *StripeProvider {
	stripe.Key = secretKey
	return &StripeProvider{
		webhookSecret: webhookSecret,
		cache:         cache,
	}
}

func (p *StripeProvider) EnsureCustomer(ctx context.Context, email, name string, userID uint) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata("userId", strconv.FormatUint(uint64(userID), 10))

	cus, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cus.ID, nil
}

func (p *StripeProvider) EnsurePrice(ctx context.Context, tier entitlements.PlanTier) (string, error) {
	lookupKey := "prolocal_" + string(tier.ID)
	cacheKey := "billing:price:" + string(tier.ID)

	if p.cache != nil {
		if cached, err := p.cache.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
			return cached, nil
		}
	}

	listParams := &stripe.PriceListParams{
		LookupKeys: stripe.StringSlice([]string{lookupKey}),
		Active:     stripe.Bool(true),
	}
	listParams.Context = ctx
	iter := price.List(listParams)
	for iter.Next() {
		existing := iter.Price()
		p.cachePriceID(ctx, cacheKey, existing.ID)
		return existing.ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("list prices: %w", err)
	}

	createParams := &stripe.PriceParams{
		Currency:   stripe.String(string(stripe.CurrencyEUR)),
		UnitAmount: stripe.Int64(tier.PriceCents),
		LookupKey:  stripe.String(lookupKey),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		},
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String("ProLocal " + tier.DisplayName),
		},
	}
	createParams.Context = ctx
	createParams.AddMetadata("planId", string(tier.ID))

	created, err := price.New(createParams)
	if err != nil {
		return "", fmt.Errorf("create price for plan %s: %w", tier.ID, err)
	}
	p.cachePriceID(ctx, cacheKey, created.ID)
	return created.ID, nil
}

func (p *StripeProvider) cachePriceID(ctx context.Context, key, priceID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, key, priceID, priceCacheTTL).Err(); err != nil {
		log.Printf("[Billing] Failed to cache price id: %v", err)
	}
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(params.CustomerID),
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: params.Metadata,
		},
	}
	sessionParams.Context = ctx
	for k, v := range params.Metadata {
		sessionParams.AddMetadata(k, v)
	}

	sess, err := checkoutsession.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", subscriptionID, err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) GetPriceAmount(ctx context.Context, priceID string) (int64, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	pr, err := price.Get(priceID, params)
	if err != nil {
		return 0, fmt.Errorf("get price %s: %w", priceID, err)
	}
	return pr.UnitAmount, nil
}

func (p *StripeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx
	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, apperr.SignatureInvalid(err)
	}

	event := &Event{
		ID:         stripeEvent.ID,
		RawPayload: stripeEvent.Data.Raw,
	}

	switch stripeEvent.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("parse checkout session payload: %w", err)
		}
		event.Type = EventCheckoutCompleted
		event.Checkout = &CheckoutResult{
			SessionID: sess.ID,
			Metadata:  sess.Metadata,
		}
		if sess.Customer != nil {
			event.Checkout.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			event.Checkout.SubscriptionID = sess.Subscription.ID
		}

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("parse subscription payload: %w", err)
		}
		switch stripeEvent.Type {
		case "customer.subscription.created":
			event.Type = EventSubscriptionCreated
		case "customer.subscription.updated":
			event.Type = EventSubscriptionUpdated
		default:
			event.Type = EventSubscriptionDeleted
		}
		event.Subscription = fromStripeSubscription(&sub)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("parse invoice payload: %w", err)
		}
		if stripeEvent.Type == "invoice.payment_succeeded" {
			event.Type = EventInvoicePaid
		} else {
			event.Type = EventInvoicePaymentFailed
		}
		event.Invoice = &InvoiceResult{InvoiceID: inv.ID}
		if inv.Customer != nil {
			event.Invoice.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			event.Invoice.SubscriptionID = inv.Subscription.ID
		}

	default:
		// Unhandled types keep the provider's raw type string; the
		// reconciler records and skips them.
		event.Type = string(stripeEvent.Type)
	}

	return event, nil
}

func fromStripeSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		Metadata:           sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0)
		out.CanceledAt = &t
	}
	return out
}
