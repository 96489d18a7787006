package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_RoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateJWT(secret, 42, "owner@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(secret, token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "owner@example.com", claims.Email)
}

func TestJWT_Rejects(t *testing.T) {
	token, err := GenerateJWT([]byte("a"), 1, "x@example.com", time.Hour)
	require.NoError(t, err)
	_, err = ValidateJWT([]byte("b"), token)
	assert.Error(t, err)

	expired, err := GenerateJWT([]byte("a"), 1, "x@example.com", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT([]byte("a"), expired)
	assert.Error(t, err)
}
