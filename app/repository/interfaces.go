package repository

import (
	"github.com/prolocal/prolocal/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByIDForUpdate(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	SetHasActivePlan(userID uint, active bool) error
}

// ServiceRepository defines the interface for service-listing operations
type ServiceRepository interface {
	Create(service *models.Service) error
	GetByID(id uint) (*models.Service, error)
	GetByUUID(uuid string) (*models.Service, error)
	GetByUserID(userID uint) ([]models.Service, error)
	Update(service *models.Service) error
	Delete(id uint) error

	// Quota counters. CountByUserID counts every owned row (creation cap);
	// CountActiveByUserID counts is_active only (activation cap);
	// CountHighlightedByUserID counts is_highlighted excluding excludeID so
	// re-enabling an already highlighted service doesn't double count.
	CountByUserID(userID uint) (int64, error)
	CountActiveByUserID(userID uint) (int64, error)
	CountHighlightedByUserID(userID uint, excludeID uint) (int64, error)

	// GetHighlightedByUserID returns highlighted services oldest-first, the
	// order used to decide which highlights survive a downgrade.
	GetHighlightedByUserID(userID uint) ([]models.Service, error)

	DeactivateAndStripAll(userID uint) error
	StripHighlights(ids []uint) error
	StripAllHighlights(userID uint) error
}

// SubscriptionRepository defines the interface for entitlement rows
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	GetByUserID(userID uint) (*models.Subscription, error)
	GetByProviderSubscriptionID(providerSubID string) (*models.Subscription, error)
	Update(sub *models.Subscription) error
}

// WebhookEventRepository defines the interface for webhook dedup records
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Service      ServiceRepository
	Subscription SubscriptionRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates all repositories sharing a single DB handle. Pass
// a transaction handle to get transaction-scoped repositories.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Service:      NewServiceRepository(db),
		Subscription: NewSubscriptionRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
