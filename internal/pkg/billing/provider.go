package billing

import (
	"context"
	"time"

	"github.com/prolocal/prolocal/internal/pkg/entitlements"
)

// ProviderName identifies the configured payment provider in stored rows.
const ProviderName = "stripe"

// Neutral event types the reconciler dispatches on. The provider adapter
// maps its own vocabulary onto these.
const (
	EventCheckoutCompleted    = "checkout.completed"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionDeleted  = "subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// CheckoutParams describes a hosted checkout session to create. The price is
// always a provider price resolved server-side from the plan catalog; client
// input never reaches it.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	// Metadata is attached to both the session and the resulting
	// subscription so webhook events can be correlated back to a user.
	Metadata map[string]string
}

// CheckoutSession is the created hosted session the client gets redirected to.
type CheckoutSession struct {
	ID  string
	URL string
}

// Subscription is the provider-neutral view of a remote subscription.
type Subscription struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	Metadata           map[string]string
}

// CheckoutResult carries the fields of a completed checkout session the
// reconciler needs.
type CheckoutResult struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
}

// InvoiceResult carries the subscription linkage of an invoice event.
type InvoiceResult struct {
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
}

// Event is a verified, parsed webhook delivery. Exactly one of Checkout,
// Subscription or Invoice is set depending on Type; unknown provider event
// types arrive with Type left as the provider's raw string and no payload
// view, and are skipped by the reconciler.
type Event struct {
	ID           string
	Type         string
	RawPayload   []byte
	Checkout     *CheckoutResult
	Subscription *Subscription
	Invoice      *InvoiceResult
}

// Provider is the payment-provider surface the checkout orchestrator and the
// webhook reconciler depend on. Implemented by the Stripe adapter in
// production and by fakes in tests.
type Provider interface {
	// EnsureCustomer returns the provider customer id for the user,
	// creating one if none exists yet.
	EnsureCustomer(ctx context.Context, email, name string, userID uint) (string, error)

	// EnsurePrice resolves the provider price for a plan tier, creating
	// product and price on first use. The returned price always carries the
	// catalog amount.
	EnsurePrice(ctx context.Context, tier entitlements.PlanTier) (string, error)

	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetPriceAmount returns the unit amount in cents of a provider price,
	// used for the integrity check against the plan catalog.
	GetPriceAmount(ctx context.Context, priceID string) (int64, error)

	// CancelAtPeriodEnd flags the remote subscription to end at the current
	// period boundary without revoking the entitlement immediately.
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error)

	// VerifyWebhook checks the delivery signature and parses the payload
	// into a neutral event. Returns an error for invalid signatures.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
