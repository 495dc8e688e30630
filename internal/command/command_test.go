// ABOUTME: Tests for command matching and dispatch
// ABOUTME: Verifies matcher variants, first-match-wins ordering, and table validation

package command

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-sso/internal/activity"
)

func TestMatcher_Variants(t *testing.T) {
	tests := []struct {
		name    string
		matcher Matcher
		kind    Kind
		input   string
		want    bool
	}{
		{"literal anywhere", Literal("photo"), KindLiteral, "showphoto", true},
		{"literal is a regexp", Literal("^show$"), KindLiteral, "show", true},
		{"literal anchored miss", Literal("^show$"), KindLiteral, "showphoto", false},
		{"compiled case-insensitive", Compiled(regexp.MustCompile(`(?i)show`)), KindCompiled, "SHOW", true},
		{"compiled miss", Compiled(regexp.MustCompile(`logout`)), KindCompiled, "show", false},
		{"predicate true", Predicate(func(s string) bool { return strings.HasPrefix(s, "sh") }), KindPredicate, "show", true},
		{"predicate false", Predicate(func(s string) bool { return false }), KindPredicate, "show", false},
		{"invalid literal never matches", Literal("("), KindLiteral, "(", false},
		{"nil compiled never matches", Compiled(nil), KindCompiled, "show", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.matcher.Kind())
			assert.Equal(t, tt.want, tt.matcher.Match(tt.input))
		})
	}
}

// recordingHandler appends its name to calls when invoked.
func recordingHandler(name string, calls *[]string) Handler {
	return func(ctx context.Context, turn *activity.Turn, token string) error {
		*calls = append(*calls, name+":"+token)
		return nil
	}
}

func TestDispatch_FirstCommandWins(t *testing.T) {
	var calls []string
	table, err := NewTable(
		Command{Name: "first", Patterns: []Matcher{Literal("^nomatch$"), Literal("show")}, Handler: recordingHandler("first", &calls)},
		Command{Name: "second", Patterns: []Matcher{Compiled(regexp.MustCompile(`show`))}, Handler: recordingHandler("second", &calls)},
	)
	require.NoError(t, err)

	matched, err := table.Dispatch(context.Background(), nil, "show", "tok")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, []string{"first:tok"}, calls, "later commands must not run")
}

func TestDispatch_PatternOrderWithinCommand(t *testing.T) {
	var predicateCalls int
	var calls []string
	table, err := NewTable(
		Command{
			Name: "photo",
			Patterns: []Matcher{
				Literal("photo"),
				Predicate(func(string) bool { predicateCalls++; return true }),
			},
			Handler: recordingHandler("photo", &calls),
		},
	)
	require.NoError(t, err)

	matched, err := table.Dispatch(context.Background(), nil, "showphoto", "tok")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, 0, predicateCalls, "scan stops at the first matching pattern")
}

func TestDispatch_NoMatchIsNoop(t *testing.T) {
	var calls []string
	table, err := NewTable(
		Command{Name: "show", Patterns: []Matcher{Literal("show")}, Handler: recordingHandler("show", &calls)},
	)
	require.NoError(t, err)

	matched, err := table.Dispatch(context.Background(), nil, "logout", "tok")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Empty(t, calls)
}

func TestDispatch_HandlerError(t *testing.T) {
	boom := errors.New("graph unavailable")
	table, err := NewTable(Command{
		Name:     "show",
		Patterns: []Matcher{Literal("show")},
		Handler:  func(context.Context, *activity.Turn, string) error { return boom },
	})
	require.NoError(t, err)

	matched, err := table.Dispatch(context.Background(), nil, "show", "tok")
	assert.True(t, matched)
	assert.ErrorIs(t, err, boom)
}

func TestNewTable_Validation(t *testing.T) {
	noop := func(context.Context, *activity.Turn, string) error { return nil }

	tests := []struct {
		name string
		cmd  Command
	}{
		{"no handler", Command{Name: "a", Patterns: []Matcher{Literal("a")}}},
		{"no patterns", Command{Name: "a", Handler: noop}},
		{"bad literal", Command{Name: "a", Patterns: []Matcher{Literal("[")}, Handler: noop}},
		{"nil compiled", Command{Name: "a", Patterns: []Matcher{Compiled(nil)}, Handler: noop}},
		{"nil predicate", Command{Name: "a", Patterns: []Matcher{Predicate(nil)}, Handler: noop}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.cmd)
			assert.ErrorIs(t, err, ErrInvalidCommand)
		})
	}
}

func TestTable_Lookup(t *testing.T) {
	noop := func(context.Context, *activity.Turn, string) error { return nil }
	table, err := NewTable(
		Command{Name: "show", Patterns: []Matcher{Literal("show")}, Handler: noop},
		Command{Name: "help", Patterns: []Matcher{Literal("help")}, Handler: noop},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	cmd, ok := table.Lookup("need help")
	require.True(t, ok)
	assert.Equal(t, "help", cmd.Name)

	_, ok = table.Lookup("nothing")
	assert.False(t, ok)
}
