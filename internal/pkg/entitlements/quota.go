package entitlements

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prolocal/prolocal/app/models"
	"github.com/prolocal/prolocal/app/repository"
	"github.com/prolocal/prolocal/internal/pkg/apperr"
)

// Enforcer gates service creation, activation and highlighting against the
// owner's plan. Every count-then-write sequence runs inside a transaction
// that locks the owner's user row first, so two concurrent requests cannot
// both pass the same quota check.
type Enforcer struct {
	db  *gorm.DB
	now func() time.Time
}

// NewEnforcer creates a quota enforcer on the given database handle.
func NewEnforcer(db *gorm.DB) *Enforcer {
	return &Enforcer{
		db:  db,
		now: time.Now,
	}
}

// CurrentSubscription returns the user's entitlement row, materializing a
// free/active row on first read. A paid subscription whose period end has
// passed without a renewal event is downgraded to free here, including the
// cascade over the user's services.
func (e *Enforcer) CurrentSubscription(userID uint) (*models.Subscription, PlanTier, error) {
	var sub *models.Subscription
	err := e.db.Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)

		if _, err := repos.User.GetByIDForUpdate(userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("user")
			}
			return err
		}

		var err error
		sub, err = e.loadOrCreate(repos, userID)
		if err != nil {
			return err
		}
		return e.lapseIfExpired(repos, sub)
	})
	if err != nil {
		return nil, PlanTier{}, err
	}

	tier, err := GetPlan(Plan(sub.Plan))
	if err != nil {
		return nil, PlanTier{}, err
	}
	return sub, tier, nil
}

// CreateService persists a new listing if the owner is below the creation
// cap. The cap counts every owned service regardless of active state.
func (e *Enforcer) CreateService(userID uint, service *models.Service) error {
	if err := service.Validate(); err != nil {
		return apperr.InvalidRequest(err.Error())
	}

	return e.db.Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)

		tier, err := e.lockAndResolveTier(repos, userID)
		if err != nil {
			return err
		}

		if !tier.Unbounded() {
			count, err := repos.Service.CountByUserID(userID)
			if err != nil {
				return err
			}
			if count >= int64(tier.ServiceLimit) {
				return apperr.QuotaExceeded(tier.ServiceLimit, string(tier.ID), "service")
			}
		}

		service.UUID = uuid.New().String()
		service.UserID = userID
		service.IsActive = false
		service.IsHighlighted = false
		service.HighlightTier = ""
		return repos.Service.Create(service)
	})
}

// ActivateService makes a listing visible if the owner is below the active
// cap. Activating an already active service is rejected rather than treated
// as a no-op so clients notice state drift.
func (e *Enforcer) ActivateService(userID uint, serviceUUID string) (*models.Service, error) {
	var service *models.Service
	err := e.db.Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)

		tier, err := e.lockAndResolveTier(repos, userID)
		if err != nil {
			return err
		}

		service, err = e.ownedService(repos, userID, serviceUUID)
		if err != nil {
			return err
		}
		if service.IsActive {
			return apperr.InvalidState("service is already active")
		}

		if !tier.Unbounded() {
			active, err := repos.Service.CountActiveByUserID(userID)
			if err != nil {
				return err
			}
			if active >= int64(tier.ServiceLimit) {
				return apperr.QuotaExceeded(tier.ServiceLimit, string(tier.ID), "active service")
			}
		}

		service.IsActive = true
		return repos.Service.Update(service)
	})
	if err != nil {
		return nil, err
	}
	return service, nil
}

// DeactivateService hides a listing. Deactivation is never quota-gated and
// also strips the highlight, since only active services may be highlighted.
func (e *Enforcer) DeactivateService(userID uint, serviceUUID string) (*models.Service, error) {
	var service *models.Service
	err := e.db.Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)

		if _, err := repos.User.GetByIDForUpdate(userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("user")
			}
			return err
		}

		var err error
		service, err = e.ownedService(repos, userID, serviceUUID)
		if err != nil {
			return err
		}
		if !service.IsActive {
			return apperr.InvalidState("service is not active")
		}

		service.IsActive = false
		service.IsHighlighted = false
		service.HighlightTier = ""
		return repos.Service.Update(service)
	})
	if err != nil {
		return nil, err
	}
	return service, nil
}

// SetHighlight toggles the highlight flag on a listing. Enabling checks the
// plan's highlight cap excluding the target itself, so re-enabling an
// already highlighted service is an idempotent success. Disabling always
// succeeds.
func (e *Enforcer) SetHighlight(userID uint, serviceUUID string, enable bool) (*models.Service, error) {
	var service *models.Service
	err := e.db.Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)

		tier, err := e.lockAndResolveTier(repos, userID)
		if err != nil {
			return err
		}

		service, err = e.ownedService(repos, userID, serviceUUID)
		if err != nil {
			return err
		}

		if !enable {
			if !service.IsHighlighted {
				return nil
			}
			service.IsHighlighted = false
			service.HighlightTier = ""
			return repos.Service.Update(service)
		}

		if tier.HighlightLimit == 0 {
			return apperr.Forbidden(fmt.Sprintf("the %s plan does not include highlights", tier.ID))
		}
		if !service.IsActive {
			return apperr.InvalidState("only active services can be highlighted")
		}

		highlighted, err := repos.Service.CountHighlightedByUserID(userID, service.ID)
		if err != nil {
			return err
		}
		if highlighted >= int64(tier.HighlightLimit) {
			return apperr.QuotaExceeded(tier.HighlightLimit, string(tier.ID), "highlight")
		}

		service.IsHighlighted = true
		service.HighlightTier = tier.HighlightTier
		return repos.Service.Update(service)
	})
	if err != nil {
		return nil, err
	}
	return service, nil
}

// CascadeDeactivateAndStripHighlights hides every service the user owns and
// clears all highlights in one bulk write. Called when an entitlement ends
// (cancellation, unpaid terminal state, lapse).
func CascadeDeactivateAndStripHighlights(repos *repository.Repositories, userID uint) error {
	return repos.Service.DeactivateAndStripAll(userID)
}

// PruneExcessHighlights reduces the user's highlighted services to at most
// limit, keeping the oldest highlights and stripping the newest. Returns how
// many were stripped. With limit 0 everything is stripped.
func PruneExcessHighlights(repos *repository.Repositories, userID uint, limit int) (int, error) {
	if limit <= 0 {
		highlighted, err := repos.Service.CountHighlightedByUserID(userID, 0)
		if err != nil {
			return 0, err
		}
		if highlighted == 0 {
			return 0, nil
		}
		if err := repos.Service.StripAllHighlights(userID); err != nil {
			return 0, err
		}
		return int(highlighted), nil
	}

	services, err := repos.Service.GetHighlightedByUserID(userID)
	if err != nil {
		return 0, err
	}
	if len(services) <= limit {
		return 0, nil
	}

	excess := services[limit:]
	ids := make([]uint, 0, len(excess))
	for _, s := range excess {
		ids = append(ids, s.ID)
	}
	if err := repos.Service.StripHighlights(ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// lockAndResolveTier locks the user row, loads (or materializes) the
// entitlement row, applies lapse handling and returns the tier that governs
// quota checks. The stored plan governs directly: past_due and unpaid are
// grace states that keep the plan's limits until the reconciler or lapse
// detection downgrades the row to free.
func (e *Enforcer) lockAndResolveTier(repos *repository.Repositories, userID uint) (PlanTier, error) {
	if _, err := repos.User.GetByIDForUpdate(userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PlanTier{}, apperr.NotFound("user")
		}
		return PlanTier{}, err
	}

	sub, err := e.loadOrCreate(repos, userID)
	if err != nil {
		return PlanTier{}, err
	}
	if err := e.lapseIfExpired(repos, sub); err != nil {
		return PlanTier{}, err
	}

	return GetPlan(Plan(sub.Plan))
}

func (e *Enforcer) loadOrCreate(repos *repository.Repositories, userID uint) (*models.Subscription, error) {
	sub, err := repos.Subscription.GetByUserID(userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	sub = &models.Subscription{
		UserID: userID,
		Plan:   string(PlanFree),
		Status: models.SubscriptionStatusActive,
	}
	if err := repos.Subscription.Create(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// lapseIfExpired downgrades a paid subscription whose period end has passed
// without a renewal. The downgrade cascades over the user's services the
// same way an explicit cancellation does.
func (e *Enforcer) lapseIfExpired(repos *repository.Repositories, sub *models.Subscription) error {
	if !sub.IsLapsed(e.now()) {
		return nil
	}

	log.Printf("[Entitlements] Subscription for user %d lapsed (plan %s, period end %s), downgrading to free",
		sub.UserID, sub.Plan, sub.CurrentPeriodEnd.Format(time.RFC3339))

	now := e.now()
	sub.Plan = string(PlanFree)
	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	sub.ProviderSubscriptionID = ""
	sub.ProviderPriceID = ""
	sub.CurrentPeriodStart = nil
	sub.CurrentPeriodEnd = nil
	if err := repos.Subscription.Update(sub); err != nil {
		return err
	}
	if err := repos.User.SetHasActivePlan(sub.UserID, false); err != nil {
		return err
	}
	return CascadeDeactivateAndStripHighlights(repos, sub.UserID)
}

func (e *Enforcer) ownedService(repos *repository.Repositories, userID uint, serviceUUID string) (*models.Service, error) {
	service, err := repos.Service.GetByUUID(serviceUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("service")
		}
		return nil, err
	}
	if service.UserID != userID {
		return nil, apperr.NotFound("service")
	}
	return service, nil
}
