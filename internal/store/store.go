// Package store defines the durable session record and the operations every
// session backend must provide. The engine treats the store as best-effort
// during a live interview: persistence failures are surfaced as
// ErrPersistence and never tear down an active audio session.
package store

import (
	"context"
	"errors"
)

// ErrPersistence wraps any backend failure so callers can distinguish
// storage trouble from protocol or transport errors with errors.Is.
var ErrPersistence = errors.New("store: persistence failure")

// ErrNotFound is returned by lookups for sessions that were never created
// or have been purged.
var ErrNotFound = errors.New("store: session not found")

// Store persists sessions and their transcripts.
//
// AppendEntries must be idempotent on TranscriptEntry.ID: re-sending an
// entry already stored for the session is a no-op, and the stored copy is
// replaced when the incoming one differs (the remote side may revise text
// or confidence after a reconnect).
type Store interface {
	// CreateSession registers a new session in state setup.
	CreateSession(ctx context.Context, s Session) error

	// GetSession returns the session record without its transcript.
	GetSession(ctx context.Context, id string) (Session, error)

	// GetSessionByTarget returns the most recently created session for the
	// interview target, without its transcript.
	GetSessionByTarget(ctx context.Context, targetID string) (Session, error)

	// UpdateSession applies a status change and optional timestamps.
	UpdateSession(ctx context.Context, id string, u StatusUpdate) error

	// AppendEntries upserts transcript entries for the session, keyed by
	// entry ID.
	AppendEntries(ctx context.Context, sessionID string, entries []TranscriptEntry) error

	// GetTranscript returns all stored entries for the session ordered by
	// Sequence ascending.
	GetTranscript(ctx context.Context, sessionID string) ([]TranscriptEntry, error)

	// ClearTranscript removes every stored entry for the session. Clearing
	// a session with no transcript is a no-op.
	ClearTranscript(ctx context.Context, sessionID string) error
}
