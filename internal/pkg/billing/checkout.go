package billing

import (
	"context"
	"errors"
	"log"
	"strconv"

	"gorm.io/gorm"

	"github.com/prolocal/prolocal/app/models"
	"github.com/prolocal/prolocal/app/repository"
	"github.com/prolocal/prolocal/internal/pkg/apperr"
	"github.com/prolocal/prolocal/internal/pkg/entitlements"
)

// CheckoutService creates hosted checkout sessions for plan purchases and
// flags cancellations. Pricing is always resolved server-side from the plan
// catalog; nothing in the client request influences the amount. The checkout
// call itself grants no entitlement — only a confirmed billing event does.
type CheckoutService struct {
	db         *gorm.DB
	provider   Provider
	successURL string
	cancelURL  string
}

// NewCheckoutService creates a checkout service. successURL and cancelURL
// are where the provider redirects the customer after the hosted flow.
func NewCheckoutService(db *gorm.DB, provider Provider, successURL, cancelURL string) *CheckoutService {
	return &CheckoutService{
		db:         db,
		provider:   provider,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// CreateCheckoutSession starts a purchase of the given plan for the user and
// returns the hosted session to redirect to.
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, userID uint, planID string) (*CheckoutSession, error) {
	tier, err := entitlements.GetPlan(entitlements.Plan(planID))
	if err != nil {
		return nil, err
	}
	if tier.ID == entitlements.PlanFree {
		return nil, apperr.InvalidRequest("the free plan does not require a purchase")
	}

	var user *models.User
	var sub *models.Subscription
	// The user-row lock serializes concurrent checkouts for the same user,
	// so only one of them seeds the pending row behind the unique user_id
	// index.
	err = s.db.Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)

		var err error
		user, err = repos.User.GetByIDForUpdate(userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("user")
			}
			return err
		}

		sub, err = repos.Subscription.GetByUserID(userID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if sub != nil && sub.Status == models.SubscriptionStatusActive && sub.Plan != string(entitlements.PlanFree) {
			return apperr.Conflict("an active subscription already exists, cancel it before purchasing a new plan")
		}

		// Seed the row now so later events can be correlated even if the
		// checkout never completes. Plan and status stay unconfirmed until
		// a billing event arrives.
		if sub == nil {
			sub = &models.Subscription{
				UserID: userID,
				Plan:   string(entitlements.PlanFree),
				Status: models.SubscriptionStatusTrialing,
			}
			return repos.Subscription.Create(sub)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	repos := repository.NewRepositories(s.db)

	customerID := sub.ProviderCustomerID
	if customerID == "" {
		customerID, err = s.provider.EnsureCustomer(ctx, user.Email, user.Name, user.ID)
		if err != nil {
			return nil, err
		}
	}
	if sub.ProviderCustomerID != customerID {
		sub.ProviderCustomerID = customerID
		if err := repos.Subscription.Update(sub); err != nil {
			return nil, err
		}
	}

	priceID, err := s.provider.EnsurePrice(ctx, tier)
	if err != nil {
		return nil, err
	}

	session, err := s.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
		Metadata: map[string]string{
			"userId": strconv.FormatUint(uint64(userID), 10),
			"planId": string(tier.ID),
		},
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Billing] Created checkout session %s for user %d (plan %s)", session.ID, userID, tier.ID)
	return session, nil
}

// CancelSubscription flags the user's paid subscription to end at the
// current period boundary. The entitlement stays intact until the provider
// confirms the deletion or the period lapses.
func (s *CheckoutService) CancelSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	repos := repository.NewRepositories(s.db)

	sub, err := repos.Subscription.GetByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("subscription")
		}
		return nil, err
	}
	if sub.Plan == string(entitlements.PlanFree) || sub.ProviderSubscriptionID == "" {
		return nil, apperr.InvalidState("no paid subscription to cancel")
	}
	if sub.Status == models.SubscriptionStatusCanceled || sub.CancelAtPeriodEnd {
		return nil, apperr.InvalidState("subscription is already canceled")
	}

	remote, err := s.provider.CancelAtPeriodEnd(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}

	sub.CancelAtPeriodEnd = true
	if !remote.CurrentPeriodEnd.IsZero() {
		end := remote.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
	if err := repos.Subscription.Update(sub); err != nil {
		return nil, err
	}

	log.Printf("[Billing] Subscription %s for user %d set to cancel at period end", sub.ProviderSubscriptionID, userID)
	return sub, nil
}
