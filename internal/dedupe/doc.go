// Package dedupe suppresses duplicate SSO token-exchange invokes.
//
// # Overview
//
// When a user is signed into Teams on several clients at once, every client
// performs the silent SSO exchange and the bot receives one
// signin/tokenExchange invoke per client for the same logical sign-in. Only
// one of them may run the post-login command; the others must end quietly so
// the user does not see duplicate replies.
//
// # Key Schema
//
// Each exchange is claimed under:
//
//	channelId/conversationId/exchangeEventId
//
// A conversation only ever writes keys prefixed by its own id, so cleanup on
// dialog end cannot touch other conversations.
//
// # Correctness
//
// The Gate holds no lock. It writes the key through store.Storage with the
// exchange id as the expected version: the first write creates the entry and
// every later write fails the version check with store.ErrConcurrencyConflict.
// That check is the only correctness mechanism. Multi-instance deployments
// must use a shared backend (Postgres); the Gate's in-memory key registry
// scopes cleanup and nothing else.
//
// # Usage
//
//	gate := dedupe.NewGate(st, logger)
//	dup, err := gate.ShouldDedup(ctx, turn.Activity)
//	if err != nil {
//	    return err
//	}
//	if dup {
//	    return nil // another delivery owns this exchange
//	}
//	...
//	_ = gate.Cleanup(ctx, turn.Activity.Conversation.ID)
package dedupe
