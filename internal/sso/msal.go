// ABOUTME: On-behalf-of token exchange backed by the MSAL confidential client
// ABOUTME: MSAL caches downstream tokens per user assertion

package sso

import (
	"context"
	"fmt"
	"strings"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/confidential"
)

// DefaultAuthorityHost is the public-cloud identity endpoint.
const DefaultAuthorityHost = "https://login.microsoftonline.com"

// MSALExchanger implements TokenExchanger with MSAL.
type MSALExchanger struct {
	client confidential.Client
}

// NewMSALExchanger creates an exchanger for the bot's AAD app registration.
func NewMSALExchanger(authorityHost, tenantID, clientID, clientSecret string) (*MSALExchanger, error) {
	if authorityHost == "" {
		authorityHost = DefaultAuthorityHost
	}
	cred, err := confidential.NewCredFromSecret(clientSecret)
	if err != nil {
		return nil, fmt.Errorf("creating client credential: %w", err)
	}

	authority := strings.TrimRight(authorityHost, "/") + "/" + tenantID
	client, err := confidential.New(authority, clientID, cred)
	if err != nil {
		return nil, fmt.Errorf("creating confidential client: %w", err)
	}
	return &MSALExchanger{client: client}, nil
}

// ExchangeOnBehalfOf trades ssoToken for an access token with scopes.
func (e *MSALExchanger) ExchangeOnBehalfOf(ctx context.Context, ssoToken string, scopes []string) (*AccessToken, error) {
	result, err := e.client.AcquireTokenOnBehalfOf(ctx, ssoToken, scopes)
	if err != nil {
		return nil, fmt.Errorf("acquiring token on behalf of user: %w", err)
	}
	return &AccessToken{Token: result.AccessToken, ExpiresOn: result.ExpiresOn}, nil
}
