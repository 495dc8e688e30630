// ABOUTME: Tests for the Graph client and the "show" command
// ABOUTME: Uses an httptest Graph server and a fake on-behalf-of exchanger

package profile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-sso/internal/activity"
	"github.com/2389/coven-sso/internal/sso"
)

type fakeExchanger struct {
	gotToken  string
	gotScopes []string
	err       error
}

func (f *fakeExchanger) ExchangeOnBehalfOf(ctx context.Context, ssoToken string, scopes []string) (*sso.AccessToken, error) {
	f.gotToken = ssoToken
	f.gotScopes = scopes
	if f.err != nil {
		return nil, f.err
	}
	return &sso.AccessToken{Token: "graph-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func graphServer(t *testing.T, withPhoto bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1.0/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer graph-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u1","displayName":"Ada Lovelace","mail":"ada@example.com","jobTitle":"Engineer"}`))
	})
	mux.HandleFunc("/v1.0/me/photo/$value", func(w http.ResponseWriter, r *http.Request) {
		if !withPhoto {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGraphClient_Me(t *testing.T) {
	srv := graphServer(t, false)
	g := NewGraphClient(srv.URL, srv.Client())

	user, err := g.Me(context.Background(), "graph-token")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", user.DisplayName)
	assert.Equal(t, "ada@example.com", user.Mail)

	_, err = g.Me(context.Background(), "wrong")
	assert.ErrorContains(t, err, "401")
}

func TestGraphClient_MyPhoto(t *testing.T) {
	g := NewGraphClient(graphServer(t, true).URL, nil)
	photo, err := g.MyPhoto(context.Background(), "graph-token")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", photo.ContentType)
	assert.Len(t, photo.Data, 4)

	g = NewGraphClient(graphServer(t, false).URL, nil)
	_, err = g.MyPhoto(context.Background(), "graph-token")
	assert.ErrorIs(t, err, ErrNoPhoto)
}

func TestShow_RepliesWithProfile(t *testing.T) {
	ex := &fakeExchanger{}
	show := NewShow(ex, NewGraphClient(graphServer(t, true).URL, nil), nil, nil)
	rec := activity.NewRecorder()
	turn := activity.NewTurn(&activity.Activity{Type: activity.TypeInvoke, ID: "in-1"}, rec)

	require.NoError(t, show.Handle(context.Background(), turn, "sso-token"))
	assert.Equal(t, "sso-token", ex.gotToken)
	assert.Equal(t, DefaultScopes, ex.gotScopes)

	sent := rec.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, activity.TextFormatXML, sent[0].TextFormat)
	assert.Contains(t, sent[0].Text, "<strong>Ada Lovelace</strong>")
	assert.Contains(t, sent[0].Text, "<li>Email: ada@example.com</li>")
	require.Len(t, sent[0].Attachments, 1)
	assert.True(t, strings.HasPrefix(sent[0].Attachments[0].ContentURL, "data:image/jpeg;base64,"))
}

func TestShow_NoPhoto(t *testing.T) {
	show := NewShow(&fakeExchanger{}, NewGraphClient(graphServer(t, false).URL, nil), []string{"User.Read", "openid"}, nil)
	rec := activity.NewRecorder()

	require.NoError(t, show.Handle(context.Background(), activity.NewTurn(&activity.Activity{}, rec), "sso-token"))
	sent := rec.Sent()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].Attachments)
	assert.Contains(t, sent[0].Text, "No profile photo is set.")
}

func TestShow_ExchangeFailure(t *testing.T) {
	show := NewShow(&fakeExchanger{err: errors.New("consent required")}, NewGraphClient(graphServer(t, false).URL, nil), nil, nil)
	rec := activity.NewRecorder()

	err := show.Handle(context.Background(), activity.NewTurn(&activity.Activity{}, rec), "sso-token")
	assert.ErrorContains(t, err, "consent required")
	assert.Empty(t, rec.Sent())
}

func TestShow_CommandMatches(t *testing.T) {
	cmd := NewShow(&fakeExchanger{}, NewGraphClient("", nil), nil, nil).Command()
	assert.Equal(t, "show", cmd.Name)
	require.Len(t, cmd.Patterns, 1)
	assert.True(t, cmd.Patterns[0].Match("please SHOW me"))
	assert.False(t, cmd.Patterns[0].Match("logout"))
}

func TestProfileMarkdown_Escapes(t *testing.T) {
	md := profileMarkdown(&User{DisplayName: "a*b_<c>", UserPrincipalName: "x@y"}, true)
	assert.Contains(t, md, `a\*b\_&lt;c&gt;`)
	assert.Contains(t, md, "- Email: x@y")
}
