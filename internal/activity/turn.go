// ABOUTME: Turn wraps one inbound activity with its reply channel and invoke response
// ABOUTME: Handlers send replies through the turn; the HTTP layer reads the invoke response

package activity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// Sender delivers outgoing activities to the channel.
type Sender interface {
	SendActivity(ctx context.Context, reply *Activity) (*ResourceResponse, error)
}

// InvokeResponse is the synchronous result of an invoke activity.
type InvokeResponse struct {
	Status int `json:"status"`
	Body   any `json:"body,omitempty"`
}

// Turn is the context for processing one inbound activity.
type Turn struct {
	Activity *Activity

	sender Sender

	mu             sync.Mutex
	responded      bool
	invokeResponse *InvokeResponse
}

// NewTurn creates a turn for the given activity.
func NewTurn(a *Activity, sender Sender) *Turn {
	return &Turn{Activity: a, sender: sender}
}

// SendActivity addresses out to the sender of the inbound activity and delivers it.
func (t *Turn) SendActivity(ctx context.Context, out *Activity) (*ResourceResponse, error) {
	if t.sender == nil {
		return nil, fmt.Errorf("turn has no sender")
	}
	resp, err := t.sender.SendActivity(ctx, t.Activity.Reply(out))
	if err != nil {
		return nil, fmt.Errorf("sending activity: %w", err)
	}

	t.mu.Lock()
	t.responded = true
	t.mu.Unlock()
	return resp, nil
}

// SendText sends a plain text message.
func (t *Turn) SendText(ctx context.Context, text string) error {
	_, err := t.SendActivity(ctx, &Activity{Type: TypeMessage, Text: text})
	return err
}

// SetInvokeResponse records the response for an invoke activity.
func (t *Turn) SetInvokeResponse(status int, body any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invokeResponse = &InvokeResponse{Status: status, Body: body}
	t.responded = true
}

// InvokeResponse returns the recorded invoke response. Invokes that never set
// one are answered with 200 so the client does not retry.
func (t *Turn) InvokeResponse() *InvokeResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.invokeResponse == nil {
		return &InvokeResponse{Status: http.StatusOK}
	}
	return t.invokeResponse
}

// Responded reports whether anything was sent during the turn.
func (t *Turn) Responded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.responded
}
