// ABOUTME: Minimal Microsoft Graph client for the signed-in user's profile and photo
// ABOUTME: Requests are authorized with a delegated token through an oauth2 client

package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultGraphBaseURL is the public Microsoft Graph endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com"

// maxPhotoBytes caps the profile photo download.
const maxPhotoBytes = 4 << 20

// ErrNoPhoto is returned when the user has no profile photo.
var ErrNoPhoto = errors.New("user has no profile photo")

// User is the subset of the Graph user resource shown to the user.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	JobTitle          string `json:"jobTitle"`
	OfficeLocation    string `json:"officeLocation"`
}

// Photo is a downloaded profile photo.
type Photo struct {
	ContentType string
	Data        []byte
}

// GraphClient calls Microsoft Graph on behalf of a user.
type GraphClient struct {
	baseURL string
	base    *http.Client
}

// NewGraphClient creates a client. A nil httpClient uses http.DefaultClient.
func NewGraphClient(baseURL string, httpClient *http.Client) *GraphClient {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GraphClient{baseURL: strings.TrimRight(baseURL, "/"), base: httpClient}
}

func (g *GraphClient) client(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.base)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
}

func (g *GraphClient) get(ctx context.Context, accessToken, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building graph request: %w", err)
	}
	resp, err := g.client(ctx, accessToken).Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling graph %s: %w", path, err)
	}
	return resp, nil
}

// Me returns the signed-in user.
func (g *GraphClient) Me(ctx context.Context, accessToken string) (*User, error) {
	resp, err := g.get(ctx, accessToken, "/v1.0/me")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("graph /me returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decoding graph user: %w", err)
	}
	return &user, nil
}

// MyPhoto returns the signed-in user's profile photo, or ErrNoPhoto.
func (g *GraphClient) MyPhoto(ctx context.Context, accessToken string) (*Photo, error) {
	resp, err := g.get(ctx, accessToken, "/v1.0/me/photo/$value")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNoPhoto
	default:
		return nil, fmt.Errorf("graph /me/photo returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &Photo{ContentType: contentType, Data: data}, nil
}
