// ABOUTME: Teams SSO prompt: sends an OAuth card and completes on the signin/tokenExchange invoke
// ABOUTME: Confirms consent with an on-behalf-of exchange before handing the token to the dialog

package sso

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-sso/internal/activity"
)

// DefaultTimeout bounds how long a prompt waits for the user to sign in.
const DefaultTimeout = 15 * time.Minute

// OAuthCardContentType is the attachment type of a sign-in card.
const OAuthCardContentType = "application/vnd.microsoft.card.oauth"

// Invoke failure details returned to the Teams client.
const (
	failureMissingValue = "The bot received an InvokeActivity that is missing a TokenExchangeInvokeRequest value. This is required to be sent with the InvokeActivity."
	failureNeedsConsent = "The bot is unable to exchange token. Ask for user consent."
)

// Settings configure a TeamsPrompt.
type Settings struct {
	ClientID              string
	TenantID              string
	ApplicationIDURI      string
	InitiateLoginEndpoint string
	Scopes                []string
	EndOnInvalidMessage   bool
	Timeout               time.Duration
}

// ErrInvalidSettings is returned by NewTeamsPrompt for incomplete settings.
var ErrInvalidSettings = errors.New("invalid sso prompt settings")

// TeamsPrompt implements Prompt for Microsoft Teams.
type TeamsPrompt struct {
	settings  Settings
	exchanger TokenExchanger
	logger    *slog.Logger
	now       func() time.Time
}

// NewTeamsPrompt creates a prompt. The exchanger confirms that the user has
// consented to Scopes before the token is accepted.
func NewTeamsPrompt(settings Settings, exchanger TokenExchanger, logger *slog.Logger) (*TeamsPrompt, error) {
	switch {
	case settings.ClientID == "":
		return nil, fmt.Errorf("%w: client id is required", ErrInvalidSettings)
	case settings.TenantID == "":
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidSettings)
	case settings.InitiateLoginEndpoint == "":
		return nil, fmt.Errorf("%w: initiate login endpoint is required", ErrInvalidSettings)
	case len(settings.Scopes) == 0:
		return nil, fmt.Errorf("%w: at least one scope is required", ErrInvalidSettings)
	case exchanger == nil:
		return nil, fmt.Errorf("%w: token exchanger is required", ErrInvalidSettings)
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TeamsPrompt{
		settings:  settings,
		exchanger: exchanger,
		logger:    logger.With("component", "sso-prompt"),
		now:       time.Now,
	}, nil
}

// Begin sends the sign-in card and starts the prompt timer.
func (p *TeamsPrompt) Begin(ctx context.Context, turn *activity.Turn) (*PromptState, error) {
	if err := p.sendOAuthCard(ctx, turn); err != nil {
		return nil, err
	}
	return &PromptState{Expires: p.now().Add(p.settings.Timeout)}, nil
}

// Continue handles the next activity routed to the prompt.
func (p *TeamsPrompt) Continue(ctx context.Context, turn *activity.Turn, state *PromptState) (Result, error) {
	a := turn.Activity

	if state != nil && !state.Expires.IsZero() && p.now().After(state.Expires) {
		p.logger.Info("sso prompt expired", "conversation_id", a.Conversation.ID)
		return Result{Status: StatusEnded}, nil
	}

	switch {
	case a.IsTokenExchange():
		return p.handleTokenExchange(ctx, turn)
	case a.IsVerifyState():
		// The user finished consent in a popup; ask the client to retry SSO.
		turn.SetInvokeResponse(http.StatusOK, nil)
		if err := p.sendOAuthCard(ctx, turn); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusWaiting}, nil
	case a.Type == activity.TypeMessage && p.settings.EndOnInvalidMessage:
		return Result{Status: StatusEnded}, nil
	default:
		return Result{Status: StatusWaiting}, nil
	}
}

func (p *TeamsPrompt) handleTokenExchange(ctx context.Context, turn *activity.Turn) (Result, error) {
	var req activity.TokenExchangeInvokeRequest
	if err := turn.Activity.DecodeValue(&req); err != nil || req.Token == "" {
		p.logger.Warn("token exchange invoke without token", "conversation_id", turn.Activity.Conversation.ID)
		turn.SetInvokeResponse(http.StatusPreconditionFailed, activity.TokenExchangeInvokeResponse{
			ID:             req.ID,
			ConnectionName: req.ConnectionName,
			FailureDetail:  failureMissingValue,
		})
		return Result{Status: StatusWaiting}, nil
	}

	claims, err := ParseClaims(req.Token)
	if err != nil {
		p.logger.Warn("token exchange with unreadable sso token", "error", err)
		turn.SetInvokeResponse(http.StatusPreconditionFailed, activity.TokenExchangeInvokeResponse{
			ID:             req.ID,
			ConnectionName: req.ConnectionName,
			FailureDetail:  failureNeedsConsent,
		})
		return Result{Status: StatusWaiting}, nil
	}

	access, err := p.exchanger.ExchangeOnBehalfOf(ctx, req.Token, p.settings.Scopes)
	if err != nil {
		// A 412 makes the client fall back to the interactive sign-in button.
		p.logger.Info("on-behalf-of exchange failed, consent required", "error", err)
		turn.SetInvokeResponse(http.StatusPreconditionFailed, activity.TokenExchangeInvokeResponse{
			ID:             req.ID,
			ConnectionName: req.ConnectionName,
			FailureDetail:  failureNeedsConsent,
		})
		return Result{Status: StatusWaiting}, nil
	}

	turn.SetInvokeResponse(http.StatusOK, activity.TokenExchangeInvokeResponse{
		ID:             req.ID,
		ConnectionName: req.ConnectionName,
	})

	return Result{
		Status: StatusComplete,
		Token: &TokenResponse{
			SSOToken:           req.Token,
			SSOTokenExpiration: claims.Expires,
			Token:              access.Token,
			Expiration:         access.ExpiresOn,
			ConnectionName:     req.ConnectionName,
		},
	}, nil
}

// SignInLink returns the URL the card's sign-in button opens.
func (p *TeamsPrompt) SignInLink() string {
	q := url.Values{}
	q.Set("scope", strings.Join(p.settings.Scopes, " "))
	q.Set("clientId", p.settings.ClientID)
	q.Set("tenantId", p.settings.TenantID)
	return p.settings.InitiateLoginEndpoint + "?" + q.Encode()
}

func (p *TeamsPrompt) oauthCard() activity.Attachment {
	return activity.Attachment{
		ContentType: OAuthCardContentType,
		Content: map[string]any{
			"text": "Sign In",
			"buttons": []map[string]any{{
				"type":  "signin",
				"title": "Teams SSO Sign In",
				"value": p.SignInLink(),
			}},
			"tokenExchangeResource": map[string]any{
				"id":  uuid.New().String(),
				"uri": p.settings.ApplicationIDURI,
			},
		},
	}
}

func (p *TeamsPrompt) sendOAuthCard(ctx context.Context, turn *activity.Turn) error {
	_, err := turn.SendActivity(ctx, &activity.Activity{
		Type:        activity.TypeMessage,
		Attachments: []activity.Attachment{p.oauthCard()},
	})
	if err != nil {
		return fmt.Errorf("sending sign-in card: %w", err)
	}
	return nil
}
