// ABOUTME: Host loads per-conversation dialog state, runs one turn, and persists or clears the result
// ABOUTME: Sign-in invokes with no active dialog are acknowledged and ignored

package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/coven-sso/internal/activity"
	"github.com/2389/coven-sso/internal/store"
)

// Host runs the SSO dialog for every routed activity.
type Host struct {
	dialog *SSODialog
	states store.StateStore
	logger *slog.Logger
}

// NewHost creates a host that keeps dialog state in states.
func NewHost(d *SSODialog, states store.StateStore, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		dialog: d,
		states: states,
		logger: logger.With("component", "dialog-host"),
	}
}

// Handle processes one turn and returns how the dialog was left.
func (h *Host) Handle(ctx context.Context, turn *activity.Turn) (Outcome, error) {
	a := turn.Activity
	key := a.ConversationKey()

	state, err := h.load(ctx, key)
	if err != nil {
		return OutcomeDropped, err
	}

	if state.Step == StepNotStarted && a.Type != activity.TypeMessage {
		if a.Type == activity.TypeInvoke {
			turn.SetInvokeResponse(http.StatusOK, nil)
		}
		h.logger.Debug("ignoring activity with no active dialog",
			"type", a.Type,
			"name", a.Name,
			"conversation_id", a.Conversation.ID,
		)
		return OutcomeDropped, nil
	}

	outcome, err := h.dialog.Run(ctx, turn, state)
	if err != nil {
		return outcome, err
	}

	switch outcome {
	case OutcomeWaiting:
		if err := h.save(ctx, key, state); err != nil {
			return outcome, err
		}
	case OutcomeEnded:
		if err := h.states.DeleteDialog(ctx, key); err != nil {
			return outcome, fmt.Errorf("clearing dialog state: %w", err)
		}
		if err := h.dialog.OnEndDialog(ctx, turn); err != nil {
			return outcome, fmt.Errorf("ending dialog: %w", err)
		}
	case OutcomeDropped:
		// The turn that won the token exchange owns the dialog state.
	}
	return outcome, nil
}

func (h *Host) load(ctx context.Context, key string) (*State, error) {
	raw, err := h.states.LoadDialog(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading dialog state: %w", err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		// A record we cannot read is treated as no dialog at all.
		h.logger.Warn("discarding unreadable dialog state", "key", key, "error", err)
		return &State{}, nil
	}
	return &state, nil
}

func (h *Host) save(ctx context.Context, key string, state *State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding dialog state: %w", err)
	}
	if err := h.states.SaveDialog(ctx, key, raw); err != nil {
		return fmt.Errorf("saving dialog state: %w", err)
	}
	return nil
}
