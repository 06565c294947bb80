package models

import "time"

// Subscription statuses mirror the billing provider's vocabulary 1:1.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusUnpaid   = "unpaid"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription is the per-user entitlement record: current plan, billing
// status and the provider linkage. Exactly one row per user; a missing row
// means free/active and is materialized on first read. plan=free never
// carries a provider subscription reference.
type Subscription struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"not null;uniqueIndex" json:"user_id"`
	Plan   string `gorm:"type:varchar(20);not null;default:'free'" json:"plan"`
	Status string `gorm:"type:varchar(32);not null;default:'active'" json:"status"`

	ProviderCustomerID     string `gorm:"type:varchar(191);default:null;index" json:"-"`
	ProviderSubscriptionID string `gorm:"type:varchar(191);default:null;index" json:"-"`
	ProviderPriceID        string `gorm:"type:varchar(191);default:null" json:"-"`

	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether this subscription grants paid-plan access.
func (s *Subscription) IsEntitling() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// IsLapsed reports whether a paid subscription has run past its period end
// without the provider confirming renewal. Lapse is only meaningful for
// active paid plans; past_due is a grace state handled by the provider.
func (s *Subscription) IsLapsed(now time.Time) bool {
	return s.Plan != "free" &&
		s.Status == SubscriptionStatusActive &&
		s.CurrentPeriodEnd != nil &&
		s.CurrentPeriodEnd.Before(now)
}
