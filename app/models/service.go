package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Highlight tier labels written onto highlighted services. They match the
// paid plan that granted them so listings can render the right badge.
const (
	HighlightTierPlus       = "plus"
	HighlightTierPremium    = "premium"
	HighlightTierEnterprise = "enterprise"
)

// Service is a provider-owned listing. Activation and highlighting are
// quota-gated by the owner's plan; creation counts every owned row, active
// or not.
type Service struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UUID        string `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	UserID      uint   `gorm:"not null;index" json:"user_id"`
	Title       string `gorm:"type:varchar(100);not null" json:"title" validate:"required,min=3,max=100"`
	Description string `gorm:"type:varchar(255);default:null" json:"description" validate:"max=255"`
	PriceCents  int64  `gorm:"not null" json:"price_cents" validate:"gte=0"`
	ChargeType  string `gorm:"type:varchar(50);not null;default:'hour'" json:"charge_type" validate:"oneof=hour day job"`

	IsActive      bool   `gorm:"default:false;index" json:"is_active"`
	IsHighlighted bool   `gorm:"default:false;index" json:"is_highlighted"`
	HighlightTier string `gorm:"type:varchar(20);default:null" json:"highlight_tier,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (s *Service) Validate() error {
	v := validator.New()

	return v.Struct(s)
}
