// ABOUTME: Generic step machine that drives a dialog from one state to the next within a turn
// ABOUTME: Steps return transitions; the machine stops when a step waits, ends, or drops the turn

package dialog

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-sso/internal/activity"
)

// StepID names a dialog state.
type StepID int

const (
	StepNotStarted StepID = iota
	StepAwaitingSSO
	StepDedupCheck
	StepExecuting
	StepEnded
)

func (s StepID) String() string {
	switch s {
	case StepNotStarted:
		return "not_started"
	case StepAwaitingSSO:
		return "awaiting_sso"
	case StepDedupCheck:
		return "dedup_check"
	case StepExecuting:
		return "executing"
	case StepEnded:
		return "ended"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Outcome is how a turn left the dialog.
type Outcome int

const (
	// OutcomeWaiting means the dialog is parked until the next turn.
	OutcomeWaiting Outcome = iota
	// OutcomeEnded means the dialog finished and its state can be discarded.
	OutcomeEnded
	// OutcomeDropped means the turn was abandoned without touching dialog state.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWaiting:
		return "waiting"
	case OutcomeEnded:
		return "ended"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

type transitionKind int

const (
	transitionGoto transitionKind = iota
	transitionWait
	transitionEnd
	transitionDrop
)

// Transition is returned by a step to tell the machine what happens next.
type Transition struct {
	kind transitionKind
	next StepID
}

// Goto moves to next and runs it in the same turn.
func Goto(next StepID) Transition { return Transition{kind: transitionGoto, next: next} }

// Wait parks the dialog at next until another activity arrives.
func Wait(next StepID) Transition { return Transition{kind: transitionWait, next: next} }

// End finishes the dialog.
func End() Transition { return Transition{kind: transitionEnd, next: StepEnded} }

// Drop abandons the turn and leaves state as it was loaded.
func Drop() Transition { return Transition{kind: transitionDrop} }

// Stateful is dialog state that records its current step.
type Stateful interface {
	Current() StepID
	SetCurrent(StepID)
}

// Step handles one state.
type Step[S Stateful] func(ctx context.Context, turn *activity.Turn, state S) (Transition, error)

// ErrNoStep is returned when the machine reaches a state with no registered step.
var ErrNoStep = errors.New("no step registered for state")

// maxTransitions guards against step cycles within one turn.
const maxTransitions = 32

// Machine maps states to steps.
type Machine[S Stateful] struct {
	steps map[StepID]Step[S]
}

// NewMachine creates an empty machine.
func NewMachine[S Stateful]() *Machine[S] {
	return &Machine[S]{steps: make(map[StepID]Step[S])}
}

// Handle registers the step for a state. Registering twice replaces the step.
func (m *Machine[S]) Handle(id StepID, step Step[S]) *Machine[S] {
	m.steps[id] = step
	return m
}

// Run drives state until a step waits, ends, or drops the turn.
func (m *Machine[S]) Run(ctx context.Context, turn *activity.Turn, state S) (Outcome, error) {
	for i := 0; i < maxTransitions; i++ {
		if state.Current() == StepEnded {
			return OutcomeEnded, nil
		}

		step, ok := m.steps[state.Current()]
		if !ok {
			return OutcomeEnded, fmt.Errorf("%w: %s", ErrNoStep, state.Current())
		}

		tr, err := step(ctx, turn, state)
		if err != nil {
			return OutcomeEnded, fmt.Errorf("step %s: %w", state.Current(), err)
		}

		switch tr.kind {
		case transitionGoto:
			state.SetCurrent(tr.next)
		case transitionWait:
			state.SetCurrent(tr.next)
			return OutcomeWaiting, nil
		case transitionEnd:
			state.SetCurrent(StepEnded)
			return OutcomeEnded, nil
		case transitionDrop:
			return OutcomeDropped, nil
		}
	}
	return OutcomeEnded, fmt.Errorf("dialog exceeded %d transitions in one turn", maxTransitions)
}
