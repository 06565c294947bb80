package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	ROLE_CLIENT   = "client"
	ROLE_PROVIDER = "provider"
	ROLE_ADMIN    = "admin"

	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

type User struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email     string `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Password  string `gorm:"type:text" json:"-" validate:"required,min=6"`
	Role      string `gorm:"type:varchar(50);default:'client'" json:"role" validate:"oneof=client provider admin"`
	Status    string `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	Specialty string `gorm:"type:varchar(100);default:null" json:"specialty" validate:"max=100"`
	Bio       string `gorm:"type:text;default:null" json:"bio" validate:"max=1000"`

	// Denormalized from the subscription row so listing mutations don't need
	// a join on every request. Kept in sync by the billing reconciler.
	HasActivePlan bool `gorm:"default:false;index" json:"has_active_plan"`

	APIKeyHash      string     `gorm:"type:char(64);default:'';index" json:"-"`
	APIKeyPrefix    string     `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	APIKeyCreatedAt *time.Time `json:"api_key_created_at"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

func CreateUser(name string, email string, password string) (*User, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:     name,
		Email:    email,
		Password: pw,
		Role:     ROLE_CLIENT,
		Status:   STATUS_ACTIVE,
	}

	err = u.Validate()
	if err != nil {
		return nil, err
	}

	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPassword verifies the given password against the stored bcrypt hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil
}

// SetPassword hashes and sets a new password for the user.
func (u *User) SetPassword(password string) error {
	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.Password = hashed
	return nil
}

// HashAPIKey returns the sha256 hex digest stored for API key lookups.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// IssueAPIKey generates a new API key, stores its hash on the user, and
// returns the raw secret. The raw key is shown once and never persisted.
func (u *User) IssueAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	key := "plk_" + hex.EncodeToString(b)

	u.APIKeyHash = HashAPIKey(key)
	u.APIKeyPrefix = key[:12]
	now := time.Now()
	u.APIKeyCreatedAt = &now
	return key, nil
}

// HasActiveAPIKey reports whether the user can authenticate API requests.
func (u *User) HasActiveAPIKey() bool {
	return u != nil && u.APIKeyHash != ""
}
