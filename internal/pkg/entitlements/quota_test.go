package entitlements

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prolocal/prolocal/app/models"
	"github.com/prolocal/prolocal/app/repository"
	"github.com/prolocal/prolocal/internal/pkg/apperr"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Service{},
		&models.Subscription{},
		&models.BillingWebhookEvent{},
	))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	user := &models.User{
		Name:     "Test Provider",
		Email:    fmt.Sprintf("provider-%s@example.com", uuid.New().String()[:8]),
		Password: "irrelevant-hash",
		Role:     models.ROLE_PROVIDER,
		Status:   models.STATUS_ACTIVE,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedSubscription(t *testing.T, db *gorm.DB, userID uint, plan, status string, periodEnd *time.Time) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		UserID:           userID,
		Plan:             plan,
		Status:           status,
		CurrentPeriodEnd: periodEnd,
	}
	if plan != string(PlanFree) {
		sub.ProviderSubscriptionID = "sub_" + uuid.New().String()[:8]
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func seedService(t *testing.T, db *gorm.DB, userID uint, active, highlighted bool, createdAt time.Time) *models.Service {
	t.Helper()
	service := &models.Service{
		UUID:       uuid.New().String(),
		UserID:     userID,
		Title:      "Garden maintenance",
		PriceCents: 4500,
		ChargeType: "hour",
		IsActive:   active,
	}
	if highlighted {
		service.IsHighlighted = true
		service.HighlightTier = models.HighlightTierPlus
	}
	service.CreatedAt = createdAt
	require.NoError(t, db.Create(service).Error)
	return service
}

func TestCurrentSubscriptionMaterializesFreeRow(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)
	enforcer := NewEnforcer(db)

	sub, tier, err := enforcer.CurrentSubscription(user.ID)
	require.NoError(t, err)
	assert.Equal(t, string(PlanFree), sub.Plan)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, PlanFree, tier.ID)

	// The row is persisted, not synthesized per call.
	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	again, _, err := enforcer.CurrentSubscription(user.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
}

func TestCurrentSubscriptionUnknownUser(t *testing.T) {
	db := setupTestDB(t)
	enforcer := NewEnforcer(db)

	_, _, err := enforcer.CurrentSubscription(9999)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeNotFound, appErr.Code)
}

func TestCreateServiceFreeCreationCap(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)
	enforcer := NewEnforcer(db)

	first := &models.Service{Title: "Plumbing", PriceCents: 8000, ChargeType: "hour"}
	require.NoError(t, enforcer.CreateService(user.ID, first))
	assert.NotEmpty(t, first.UUID)
	assert.False(t, first.IsActive)

	second := &models.Service{Title: "Tiling", PriceCents: 9000, ChargeType: "day"}
	err := enforcer.CreateService(user.ID, second)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeQuotaExceeded, appErr.Code)
	assert.Equal(t, 1, appErr.Limit)
	assert.Equal(t, "free", appErr.Plan)
}

func TestCreateServiceCountsInactiveRows(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)
	enforcer := NewEnforcer(db)

	// A dormant service still occupies the creation cap.
	seedService(t, db, user.ID, false, false, time.Now())

	err := enforcer.CreateService(user.ID, &models.Service{Title: "Painting", PriceCents: 5000, ChargeType: "hour"})
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeQuotaExceeded, appErr.Code)
}

func TestActivateServiceQuotaAndAlreadyActive(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)
	enforcer := NewEnforcer(db)

	first := seedService(t, db, user.ID, false, false, time.Now())
	second := seedService(t, db, user.ID, false, false, time.Now())

	activated, err := enforcer.ActivateService(user.ID, first.UUID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	// Free plan allows one active service.
	_, err = enforcer.ActivateService(user.ID, second.UUID)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeQuotaExceeded, appErr.Code)
	assert.Equal(t, 1, appErr.Limit)

	// Re-activating is rejected, not silently accepted.
	_, err = enforcer.ActivateService(user.ID, first.UUID)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeInvalidState, appErr.Code)
}

func TestActivateServiceOwnership(t *testing.T) {
	db := setupTestDB(t)
	owner := createTestUser(t, db)
	other := createTestUser(t, db)
	enforcer := NewEnforcer(db)

	service := seedService(t, db, owner.ID, false, false, time.Now())

	_, err := enforcer.ActivateService(other.ID, service.UUID)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeNotFound, appErr.Code)
}

func TestSetHighlightRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)
	seedSubscription(t, db, user.ID, string(PlanPlus), models.SubscriptionStatusActive, nil)
	enforcer := NewEnforcer(db)

	service := seedService(t, db, user.ID, true, false, time.Now())

	highlighted, err := enforcer.SetHighlight(user.ID, service.UUID, true)
	require.NoError(t, err)
	assert.True(t, highlighted.IsHighlighted)
	assert.Equal(t, models.HighlightTierPlus, highlighted.HighlightTier)

	cleared, err := enforcer.SetHighlight(user.ID, service.UUID, false)
	require.NoError(t, err)
	assert.False(t, cleared.IsHighlighted)
	assert.Empty(t, cleared.HighlightTier)
}

func TestSetHighlightNotAllowedOnFree(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)
	enforcer := NewEnforcer(db)

	service := seedService(t, db, user.ID, true, false, time.Now())

	_, err := enforcer.SetHighlight(user.ID, service.UUID, true)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeForbidden, appErr.Code)
}

func TestSetHighlightIdempotentReenableAndCap(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)
	seedSubscription(t, db, user.ID, string(PlanPlus), models.SubscriptionStatusActive, nil)
	enforcer := NewEnforcer(db)

	first := seedService(t, db, user.ID, true, false, time.Now())
	second := seedService(t, db, user.ID, true, false, time.Now())
	third := seedService(t, db, user.ID, true, false, time.Now())

	_, err := enforcer.SetHighlight(user.ID, first.UUID, true)
	require.NoError(t, err)
	_, err = enforcer.SetHighlight(user.ID, second.UUID, true)
	require.NoError(t, err)

	// Re-enabling an already highlighted service does not count itself.
	_, err = enforcer.SetHighlight(user.ID, first.UUID, true)
	require.NoError(t, err)

	// Plus caps at 2 highlights.
	_, err = enforcer.SetHighlight(user.ID, third.UUID, true)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeQuotaExceeded, appErr.Code)
	assert.Equal(t, 2, appErr.Limit)
	assert.Equal(t, "plus", appErr.Plan)
}

func TestSetHighlightRequiresActiveService(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)
	seedSubscription(t, db, user.ID, string(PlanPlus), models.SubscriptionStatusActive, nil)
	enforcer := NewEnforcer(db)

	service := seedService(t, db, user.ID, false, false, time.Now())

	_, err := enforcer.SetHighlight(user.ID, service.UUID, true)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeInvalidState, appErr.Code)
}

func TestLapseDowngradesAndCascades(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)
	require.NoError(t, db.Model(user).Update("has_active_plan", true).Error)

	yesterday := time.Now().Add(-24 * time.Hour)
	seedSubscription(t, db, user.ID, string(PlanPlus), models.SubscriptionStatusActive, &yesterday)

	active := seedService(t, db, user.ID, true, true, time.Now())
	enforcer := NewEnforcer(db)

	sub, tier, err := enforcer.CurrentSubscription(user.ID)
	require.NoError(t, err)
	assert.Equal(t, string(PlanFree), sub.Plan)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.NotNil(t, sub.CanceledAt)
	assert.Empty(t, sub.ProviderSubscriptionID)
	assert.Equal(t, PlanFree, tier.ID)

	var reloadedUser models.User
	require.NoError(t, db.First(&reloadedUser, user.ID).Error)
	assert.False(t, reloadedUser.HasActivePlan)

	var reloadedService models.Service
	require.NoError(t, db.First(&reloadedService, active.ID).Error)
	assert.False(t, reloadedService.IsActive)
	assert.False(t, reloadedService.IsHighlighted)
	assert.Empty(t, reloadedService.HighlightTier)
}

func TestPastDueKeepsPlanLimits(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)
	seedSubscription(t, db, user.ID, string(PlanPlus), models.SubscriptionStatusPastDue, nil)
	enforcer := NewEnforcer(db)

	// Grace state: plus limits still apply, a second service fits.
	require.NoError(t, enforcer.CreateService(user.ID, &models.Service{Title: "Roofing", PriceCents: 12000, ChargeType: "day"}))
	require.NoError(t, enforcer.CreateService(user.ID, &models.Service{Title: "Fencing", PriceCents: 6000, ChargeType: "job"}))
}

func TestPruneExcessHighlightsKeepsOldest(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)

	base := time.Now().Add(-5 * time.Hour)
	var services []*models.Service
	for i := 0; i < 5; i++ {
		services = append(services, seedService(t, db, user.ID, true, true, base.Add(time.Duration(i)*time.Hour)))
	}

	repos := repository.NewRepositories(db)
	stripped, err := PruneExcessHighlights(repos, user.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, stripped)

	for i, service := range services {
		var reloaded models.Service
		require.NoError(t, db.First(&reloaded, service.ID).Error)
		if i < 2 {
			assert.True(t, reloaded.IsHighlighted, "oldest highlight %d should survive", i)
		} else {
			assert.False(t, reloaded.IsHighlighted, "newest highlight %d should be stripped", i)
			assert.Empty(t, reloaded.HighlightTier)
		}
	}
}

func TestPruneExcessHighlightsZeroLimitStripsAll(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)

	seedService(t, db, user.ID, true, true, time.Now())
	seedService(t, db, user.ID, true, true, time.Now())

	repos := repository.NewRepositories(db)
	stripped, err := PruneExcessHighlights(repos, user.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stripped)

	var count int64
	require.NoError(t, db.Model(&models.Service{}).
		Where("user_id = ? AND is_highlighted = ?", user.ID, true).
		Count(&count).Error)
	assert.Zero(t, count)
}

func TestDeactivateServiceStripsHighlight(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db)
	seedSubscription(t, db, user.ID, string(PlanPlus), models.SubscriptionStatusActive, nil)
	enforcer := NewEnforcer(db)

	service := seedService(t, db, user.ID, true, true, time.Now())

	deactivated, err := enforcer.DeactivateService(user.ID, service.UUID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
	assert.False(t, deactivated.IsHighlighted)
	assert.Empty(t, deactivated.HighlightTier)

	// Deactivating again is an invalid state, not a quiet no-op.
	_, err = enforcer.DeactivateService(user.ID, service.UUID)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeInvalidState, appErr.Code)
}
