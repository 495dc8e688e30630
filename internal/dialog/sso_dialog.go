// ABOUTME: SSO dialog: prompt for a token, drop duplicate token exchanges, then run the matching command
// ABOUTME: Each state is a step on the machine; the dedup gate is cleaned per conversation on end

package dialog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/2389/coven-sso/internal/activity"
	"github.com/2389/coven-sso/internal/command"
	"github.com/2389/coven-sso/internal/dedupe"
	"github.com/2389/coven-sso/internal/sso"
)

// FailureMessage is sent when the prompt ends without a usable token.
const FailureMessage = "There is an issue while trying to sign you in and retrieve your profile photo, please type \"show\" command to login and consent permissions again."

// State is the per-conversation dialog record.
type State struct {
	Step   StepID           `json:"step"`
	Text   string           `json:"text"`
	Prompt *sso.PromptState `json:"prompt,omitempty"`

	// Token only lives for the turn that produced it.
	Token *sso.TokenResponse `json:"-"`
}

// Current implements Stateful.
func (s *State) Current() StepID { return s.Step }

// SetCurrent implements Stateful.
func (s *State) SetCurrent(id StepID) { s.Step = id }

// SSODialog runs the sign-in flow and dispatches the captured command.
type SSODialog struct {
	prompt   sso.Prompt
	gate     *dedupe.Gate
	commands *command.Table
	logger   *slog.Logger
	machine  *Machine[*State]
}

// NewSSODialog wires the dialog to its collaborators.
func NewSSODialog(prompt sso.Prompt, gate *dedupe.Gate, commands *command.Table, logger *slog.Logger) *SSODialog {
	if logger == nil {
		logger = slog.Default()
	}
	d := &SSODialog{
		prompt:   prompt,
		gate:     gate,
		commands: commands,
		logger:   logger.With("component", "dialog"),
	}
	d.machine = NewMachine[*State]().
		Handle(StepNotStarted, d.begin).
		Handle(StepAwaitingSSO, d.awaitToken).
		Handle(StepDedupCheck, d.dedupCheck).
		Handle(StepExecuting, d.execute)
	return d
}

// Run resumes the dialog from state, or begins it when state is new.
func (d *SSODialog) Run(ctx context.Context, turn *activity.Turn, state *State) (Outcome, error) {
	from := state.Step
	outcome, err := d.machine.Run(ctx, turn, state)
	d.logger.Debug("dialog turn",
		"conversation_id", turn.Activity.Conversation.ID,
		"from", from.String(),
		"to", state.Step.String(),
		"outcome", outcome.String(),
	)
	return outcome, err
}

// OnEndDialog releases the dedup keys held for the turn's conversation.
func (d *SSODialog) OnEndDialog(ctx context.Context, turn *activity.Turn) error {
	return d.gate.Cleanup(ctx, turn.Activity.Conversation.ID)
}

func (d *SSODialog) begin(ctx context.Context, turn *activity.Turn, state *State) (Transition, error) {
	state.Text = turn.Activity.CommandText()
	ps, err := d.prompt.Begin(ctx, turn)
	if err != nil {
		return Transition{}, err
	}
	state.Prompt = ps
	return Wait(StepAwaitingSSO), nil
}

func (d *SSODialog) awaitToken(ctx context.Context, turn *activity.Turn, state *State) (Transition, error) {
	res, err := d.prompt.Continue(ctx, turn, state.Prompt)
	if err != nil {
		return Transition{}, err
	}

	switch res.Status {
	case sso.StatusWaiting:
		return Wait(StepAwaitingSSO), nil
	case sso.StatusComplete:
		state.Token = res.Token
	default:
		state.Token = nil
	}
	return Goto(StepDedupCheck), nil
}

func (d *SSODialog) dedupCheck(ctx context.Context, turn *activity.Turn, state *State) (Transition, error) {
	if state.Token == nil || state.Token.SSOToken == "" || !turn.Activity.IsTokenExchange() {
		return Goto(StepExecuting), nil
	}

	dup, err := d.gate.ShouldDedup(ctx, turn.Activity)
	if err != nil {
		return Transition{}, err
	}
	if dup {
		d.logger.Info("dropping duplicate token exchange", "conversation_id", turn.Activity.Conversation.ID)
		return Drop(), nil
	}
	return Goto(StepExecuting), nil
}

func (d *SSODialog) execute(ctx context.Context, turn *activity.Turn, state *State) (Transition, error) {
	if state.Token == nil || state.Token.SSOToken == "" {
		if err := turn.SendText(ctx, FailureMessage); err != nil {
			return Transition{}, err
		}
		return End(), nil
	}

	matched, err := d.commands.Dispatch(ctx, turn, state.Text, state.Token.SSOToken)
	if err != nil {
		// Give the claim back so a redelivered exchange can run the command again.
		if turn.Activity.IsTokenExchange() {
			if relErr := d.gate.Release(ctx, turn.Activity); relErr != nil {
				err = errors.Join(err, relErr)
			}
		}
		return Transition{}, err
	}
	if !matched {
		d.logger.Debug("no command matched", "text", state.Text)
	}
	return End(), nil
}
