// ABOUTME: SSO prompt contract: begin a sign-in, then resume with each activity until a token arrives
// ABOUTME: Declares the token result types and the on-behalf-of exchanger collaborator

package sso

import (
	"context"
	"time"

	"github.com/2389/coven-sso/internal/activity"
)

// Status is the outcome of resuming a prompt.
type Status int

const (
	// StatusWaiting means the prompt needs another activity.
	StatusWaiting Status = iota
	// StatusComplete means a token was obtained.
	StatusComplete
	// StatusEnded means the prompt gave up without a token.
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusComplete:
		return "complete"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// TokenResponse is produced by a completed prompt.
type TokenResponse struct {
	SSOToken           string    `json:"ssoToken"`
	SSOTokenExpiration time.Time `json:"ssoTokenExpiration"`
	Token              string    `json:"token"`
	Expiration         time.Time `json:"expiration"`
	ConnectionName     string    `json:"connectionName,omitempty"`
}

// Result is returned from Prompt.Continue. Token is set only on StatusComplete.
type Result struct {
	Status Status
	Token  *TokenResponse
}

// PromptState is the persisted state of an in-flight prompt.
type PromptState struct {
	Expires time.Time `json:"expires"`
}

// Prompt acquires an SSO token over one or more turns.
type Prompt interface {
	Begin(ctx context.Context, turn *activity.Turn) (*PromptState, error)
	Continue(ctx context.Context, turn *activity.Turn, state *PromptState) (Result, error)
}

// AccessToken is a downstream token obtained on behalf of the user.
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
}

// TokenExchanger trades the user's SSO token for a downstream access token.
type TokenExchanger interface {
	ExchangeOnBehalfOf(ctx context.Context, ssoToken string, scopes []string) (*AccessToken, error)
}
