package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserValidation(t *testing.T) {
	user, err := CreateUser("Jamie Carpenter", "jamie@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, ROLE_CLIENT, user.Role)
	assert.Equal(t, STATUS_ACTIVE, user.Status)
	assert.NotEqual(t, "s3cret-pass", user.Password)
	assert.True(t, user.CheckPassword("s3cret-pass"))
	assert.False(t, user.CheckPassword("wrong"))

	_, err = CreateUser("J", "not-an-email", "short")
	assert.Error(t, err)
}

func TestIssueAPIKey(t *testing.T) {
	user := &User{Name: "Key Holder", Email: "keys@example.com"}
	assert.False(t, user.HasActiveAPIKey())

	key, err := user.IssueAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "plk_"))
	assert.True(t, user.HasActiveAPIKey())
	assert.Equal(t, HashAPIKey(key), user.APIKeyHash)
	assert.Equal(t, key[:12], user.APIKeyPrefix)
	assert.NotNil(t, user.APIKeyCreatedAt)

	// Rotation replaces the hash, the old key no longer matches.
	oldHash := user.APIKeyHash
	newKey, err := user.IssueAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, newKey)
	assert.NotEqual(t, oldHash, user.APIKeyHash)
}

func TestServiceValidate(t *testing.T) {
	service := &Service{
		Title:      "Electrical repairs",
		PriceCents: 9500,
		ChargeType: "hour",
	}
	assert.NoError(t, service.Validate())

	service.ChargeType = "weekly"
	assert.Error(t, service.Validate())

	service.ChargeType = "job"
	service.Title = "ab"
	assert.Error(t, service.Validate())
}
