// ABOUTME: Reads claims from Teams SSO tokens
// ABOUTME: Signature is checked downstream by the on-behalf-of exchange, not here

package sso

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid sso token")
	ErrMissingClaim = errors.New("missing required claim")
)

// Claims are the SSO token fields the bot cares about.
type Claims struct {
	Subject           string
	ObjectID          string
	TenantID          string
	PreferredUsername string
	Name              string
	Expires           time.Time
}

// ParseClaims decodes an SSO token without verifying its signature. The
// identity platform verifies the token when it is exchanged.
func ParseClaims(tokenString string) (*Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp == nil {
		return nil, fmt.Errorf("%w: exp", ErrMissingClaim)
	}

	sub, _ := claims.GetSubject()
	return &Claims{
		Subject:           sub,
		ObjectID:          stringClaim(claims, "oid"),
		TenantID:          stringClaim(claims, "tid"),
		PreferredUsername: stringClaim(claims, "preferred_username"),
		Name:              stringClaim(claims, "name"),
		Expires:           exp.Time,
	}, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	v, _ := claims[name].(string)
	return v
}
