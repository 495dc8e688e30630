// ABOUTME: The "show" command: looks up the signed-in user in Graph and replies with their profile
// ABOUTME: The reply is written as Markdown and rendered to HTML for Teams

package profile

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-sso/internal/activity"
	"github.com/2389/coven-sso/internal/command"
	"github.com/2389/coven-sso/internal/sso"
)

// DefaultScopes are the delegated Graph permissions the command needs.
var DefaultScopes = []string{"User.Read"}

var showPattern = regexp.MustCompile(`(?i)show`)

// Show renders the user's profile.
type Show struct {
	exchanger sso.TokenExchanger
	graph     *GraphClient
	scopes    []string
	logger    *slog.Logger
}

// NewShow creates the command. Empty scopes fall back to DefaultScopes.
func NewShow(exchanger sso.TokenExchanger, graph *GraphClient, scopes []string, logger *slog.Logger) *Show {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Show{
		exchanger: exchanger,
		graph:     graph,
		scopes:    scopes,
		logger:    logger.With("component", "profile"),
	}
}

// Command returns the table entry for "show".
func (s *Show) Command() command.Command {
	return command.Command{
		Name:     "show",
		Patterns: []command.Matcher{command.Compiled(showPattern)},
		Handler:  s.Handle,
	}
}

// Handle exchanges the SSO token for a Graph token and replies with the profile.
func (s *Show) Handle(ctx context.Context, turn *activity.Turn, ssoToken string) error {
	access, err := s.exchanger.ExchangeOnBehalfOf(ctx, ssoToken, s.scopes)
	if err != nil {
		return fmt.Errorf("exchanging sso token for graph: %w", err)
	}

	user, err := s.graph.Me(ctx, access.Token)
	if err != nil {
		return err
	}

	reply := &activity.Activity{
		Type:       activity.TypeMessage,
		TextFormat: activity.TextFormatXML,
	}

	photo, err := s.graph.MyPhoto(ctx, access.Token)
	switch {
	case errors.Is(err, ErrNoPhoto):
	case err != nil:
		s.logger.Warn("failed to load profile photo", "error", err)
	default:
		reply.Attachments = []activity.Attachment{{
			ContentType: photo.ContentType,
			ContentURL:  "data:" + photo.ContentType + ";base64," + base64.StdEncoding.EncodeToString(photo.Data),
			Name:        "profile-photo",
		}}
	}

	html, err := render(profileMarkdown(user, reply.Attachments != nil))
	if err != nil {
		return err
	}
	reply.Text = html

	_, err = turn.SendActivity(ctx, reply)
	return err
}

func profileMarkdown(u *User, hasPhoto bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You're logged in as **%s**", escape(u.DisplayName))
	if u.JobTitle != "" {
		fmt.Fprintf(&b, " (%s)", escape(u.JobTitle))
	}
	b.WriteString(".\n\n")

	mail := u.Mail
	if mail == "" {
		mail = u.UserPrincipalName
	}
	if mail != "" {
		fmt.Fprintf(&b, "- Email: %s\n", escape(mail))
	}
	if u.OfficeLocation != "" {
		fmt.Fprintf(&b, "- Office: %s\n", escape(u.OfficeLocation))
	}
	if !hasPhoto {
		b.WriteString("\nNo profile photo is set.\n")
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, `*`, `\*`, `_`, `\_`, "`", "\\`",
	`[`, `\[`, `]`, `\]`, `<`, `&lt;`, `>`, `&gt;`,
)

func escape(s string) string {
	return markdownEscaper.Replace(s)
}

func render(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("rendering reply: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
