package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionIsEntitling(t *testing.T) {
	sub := &Subscription{Status: SubscriptionStatusActive}
	assert.True(t, sub.IsEntitling())

	sub.Status = SubscriptionStatusTrialing
	assert.True(t, sub.IsEntitling())

	for _, status := range []string{SubscriptionStatusPastDue, SubscriptionStatusUnpaid, SubscriptionStatusCanceled} {
		sub.Status = status
		assert.False(t, sub.IsEntitling(), status)
	}
}

func TestSubscriptionIsLapsed(t *testing.T) {
	now := time.Now()
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	sub := &Subscription{Plan: "plus", Status: SubscriptionStatusActive, CurrentPeriodEnd: &yesterday}
	assert.True(t, sub.IsLapsed(now))

	sub.CurrentPeriodEnd = &tomorrow
	assert.False(t, sub.IsLapsed(now))

	// Free rows never lapse, whatever their period says.
	sub.Plan = "free"
	sub.CurrentPeriodEnd = &yesterday
	assert.False(t, sub.IsLapsed(now))

	// Lapse only applies to rows the provider still reports active.
	sub.Plan = "plus"
	sub.Status = SubscriptionStatusPastDue
	assert.False(t, sub.IsLapsed(now))

	// A row with no period end cannot lapse.
	sub.Status = SubscriptionStatusActive
	sub.CurrentPeriodEnd = nil
	assert.False(t, sub.IsLapsed(now))
}
