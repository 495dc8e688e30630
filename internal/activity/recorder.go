// ABOUTME: In-memory Sender that records outgoing activities
// ABOUTME: Used by tests that exercise turns without a live connector

package activity

import (
	"context"
	"fmt"
	"sync"
)

// Recorder is a Sender that keeps every activity it is asked to deliver.
type Recorder struct {
	mu   sync.Mutex
	sent []*Activity
	err  error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent sends return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// SendActivity records the activity.
func (r *Recorder) SendActivity(ctx context.Context, reply *Activity) (*ResourceResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.sent = append(r.sent, reply)
	return &ResourceResponse{ID: fmt.Sprintf("sent-%d", len(r.sent))}, nil
}

// Sent returns a copy of the recorded activities.
func (r *Recorder) Sent() []*Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Activity, len(r.sent))
	copy(out, r.sent)
	return out
}

// Texts returns the text of every recorded activity.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, a := range r.sent {
		out = append(out, a.Text)
	}
	return out
}
