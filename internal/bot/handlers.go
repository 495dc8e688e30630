// ABOUTME: HTTP handlers for the Bot Framework messaging endpoint and health checks
// ABOUTME: Invoke activities are answered synchronously with the turn's invoke response

package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/coven-sso/internal/activity"
)

// maxActivityBytes caps the size of an inbound activity.
const maxActivityBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// handleMessages runs one turn for an inbound activity.
func (b *Bot) handleMessages(w http.ResponseWriter, r *http.Request) {
	var a activity.Activity
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActivityBytes)).Decode(&a); err != nil {
		http.Error(w, "invalid activity", http.StatusBadRequest)
		return
	}

	if a.Type != activity.TypeMessage && a.Type != activity.TypeInvoke {
		w.WriteHeader(http.StatusOK)
		return
	}

	if b.limiter != nil && !b.limiter.Allow(a.ConversationKey()) {
		b.logger.Warn("rate limited activity",
			"conversation_id", a.Conversation.ID,
			"type", a.Type,
		)
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	turn := activity.NewTurn(&a, b.sender)
	outcome, err := b.host.Handle(r.Context(), turn)
	if err != nil {
		b.logger.Error("turn failed",
			"conversation_id", a.Conversation.ID,
			"type", a.Type,
			"name", a.Name,
			"error", err,
		)
		http.Error(w, "turn failed", http.StatusInternalServerError)
		return
	}

	b.logger.Debug("turn complete",
		"conversation_id", a.Conversation.ID,
		"type", a.Type,
		"name", a.Name,
		"outcome", outcome.String(),
		"responded", turn.Responded(),
	)

	if a.Type == activity.TypeInvoke {
		ir := turn.InvokeResponse()
		writeJSON(w, ir.Status, ir.Body)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleHealth returns 200 OK if the server is alive.
func (b *Bot) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store is reachable.
func (b *Bot) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := b.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
