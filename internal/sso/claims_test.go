// ABOUTME: Tests for SSO token claim parsing
// ABOUTME: Uses locally signed tokens since signatures are not checked

package sso

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	claims, err := ParseClaims(signToken(t, exp))
	require.NoError(t, err)

	assert.Equal(t, "user-sub", claims.Subject)
	assert.Equal(t, "user-oid", claims.ObjectID)
	assert.Equal(t, "tenant-id", claims.TenantID)
	assert.Equal(t, "ada@example.com", claims.PreferredUsername)
	assert.Equal(t, "Ada", claims.Name)
	assert.True(t, exp.Equal(claims.Expires))
}

func TestParseClaims_ExpiredStillParses(t *testing.T) {
	claims, err := ParseClaims(signToken(t, time.Now().Add(-time.Hour)))
	require.NoError(t, err)
	assert.True(t, claims.Expires.Before(time.Now()))
}

func TestParseClaims_Errors(t *testing.T) {
	_, err := ParseClaims("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = ParseClaims(noExp)
	assert.ErrorIs(t, err, ErrMissingClaim)
}
