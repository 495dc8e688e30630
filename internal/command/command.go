// ABOUTME: Command table mapping free-text input to handlers that need the SSO token
// ABOUTME: Matchers are a tagged variant (literal, compiled, predicate); first match wins

package command

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/2389/coven-sso/internal/activity"
)

// Kind tags the variant held by a Matcher.
type Kind int

const (
	KindLiteral Kind = iota
	KindCompiled
	KindPredicate
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindCompiled:
		return "compiled"
	case KindPredicate:
		return "predicate"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Matcher tests command text. Build one with Literal, Compiled, or Predicate.
type Matcher struct {
	kind Kind
	text string
	re   *regexp.Regexp
	fn   func(string) bool
}

// Literal matches text as a regular expression, anywhere in the input.
func Literal(pattern string) Matcher {
	return Matcher{kind: KindLiteral, text: pattern}
}

// Compiled matches with an already compiled expression.
func Compiled(re *regexp.Regexp) Matcher {
	return Matcher{kind: KindCompiled, re: re}
}

// Predicate matches when fn returns true.
func Predicate(fn func(string) bool) Matcher {
	return Matcher{kind: KindPredicate, fn: fn}
}

// Kind returns the variant tag.
func (m Matcher) Kind() Kind {
	return m.kind
}

// Match reports whether text satisfies the matcher.
func (m Matcher) Match(text string) bool {
	switch m.kind {
	case KindLiteral:
		re := m.re
		if re == nil {
			var err error
			if re, err = regexp.Compile(m.text); err != nil {
				return false
			}
		}
		return re.MatchString(text)
	case KindCompiled:
		return m.re != nil && m.re.MatchString(text)
	case KindPredicate:
		return m.fn != nil && m.fn(text)
	default:
		return false
	}
}

// Handler runs a command with the user's SSO token.
type Handler func(ctx context.Context, turn *activity.Turn, token string) error

// Command pairs ordered matchers with a handler.
type Command struct {
	Name     string
	Patterns []Matcher
	Handler  Handler
}

// ErrInvalidCommand is returned by NewTable for malformed commands.
var ErrInvalidCommand = errors.New("invalid command")

// Table holds commands in registration order.
type Table struct {
	commands []Command
}

// NewTable validates cmds and compiles literal patterns once.
func NewTable(cmds ...Command) (*Table, error) {
	t := &Table{commands: make([]Command, 0, len(cmds))}
	for i, cmd := range cmds {
		if cmd.Handler == nil {
			return nil, fmt.Errorf("%w: command %d (%q) has no handler", ErrInvalidCommand, i, cmd.Name)
		}
		if len(cmd.Patterns) == 0 {
			return nil, fmt.Errorf("%w: command %d (%q) has no patterns", ErrInvalidCommand, i, cmd.Name)
		}

		patterns := make([]Matcher, len(cmd.Patterns))
		for j, m := range cmd.Patterns {
			switch m.kind {
			case KindLiteral:
				re, err := regexp.Compile(m.text)
				if err != nil {
					return nil, fmt.Errorf("%w: command %q pattern %q: %v", ErrInvalidCommand, cmd.Name, m.text, err)
				}
				m.re = re
			case KindCompiled:
				if m.re == nil {
					return nil, fmt.Errorf("%w: command %q pattern %d is nil", ErrInvalidCommand, cmd.Name, j)
				}
			case KindPredicate:
				if m.fn == nil {
					return nil, fmt.Errorf("%w: command %q predicate %d is nil", ErrInvalidCommand, cmd.Name, j)
				}
			}
			patterns[j] = m
		}
		cmd.Patterns = patterns
		t.commands = append(t.commands, cmd)
	}
	return t, nil
}

// Len returns the number of registered commands.
func (t *Table) Len() int {
	return len(t.commands)
}

// Lookup returns the first command with a matcher that accepts text.
func (t *Table) Lookup(text string) (Command, bool) {
	for _, cmd := range t.commands {
		for _, m := range cmd.Patterns {
			if m.Match(text) {
				return cmd, true
			}
		}
	}
	return Command{}, false
}

// Dispatch runs the first matching command's handler. It reports whether a
// command matched; no match is not an error.
func (t *Table) Dispatch(ctx context.Context, turn *activity.Turn, text, token string) (bool, error) {
	cmd, ok := t.Lookup(text)
	if !ok {
		return false, nil
	}
	if err := cmd.Handler(ctx, turn, token); err != nil {
		return true, fmt.Errorf("command %q: %w", cmd.Name, err)
	}
	return true, nil
}
