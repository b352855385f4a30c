// Package postgres implements store.Store on a PostgreSQL pool. It is the
// backend of choice for self-hosted deployments where the interview engine
// owns its own database instead of going through the REST API.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/admitly/viva/internal/store"
)

// Store persists sessions in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at connString and verifies the connection.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the schema if it does not exist. Safe to run on every
// startup.
func (s *Store) Migrate(ctx context.Context) error {
	for _, ddl := range []string{sessionsSchema, transcriptSchema, transcriptSequenceIndex} {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateSession(ctx context.Context, sess store.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, target_id, status, created_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.TargetID, sess.Status, sess.CreatedAt, sess.StartedAt, sess.CompletedAt)
	if err != nil {
		return fmt.Errorf("%w: create session %s: %v", store.ErrPersistence, sess.ID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (store.Session, error) {
	var sess store.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, target_id, status, created_at, started_at, completed_at
		 FROM sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.TargetID, &sess.Status, &sess.CreatedAt, &sess.StartedAt, &sess.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("%w: get session %s: %v", store.ErrPersistence, id, err)
	}
	return sess, nil
}

func (s *Store) GetSessionByTarget(ctx context.Context, targetID string) (store.Session, error) {
	var sess store.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, target_id, status, created_at, started_at, completed_at
		 FROM sessions WHERE target_id = $1
		 ORDER BY created_at DESC LIMIT 1`, targetID).
		Scan(&sess.ID, &sess.TargetID, &sess.Status, &sess.CreatedAt, &sess.StartedAt, &sess.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, fmt.Errorf("%w: target %s", store.ErrNotFound, targetID)
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("%w: get session for target %s: %v", store.ErrPersistence, targetID, err)
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, u store.StatusUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET
		     status = $2,
		     started_at = COALESCE($3, started_at),
		     completed_at = COALESCE(completed_at, $4)
		 WHERE id = $1`,
		id, u.Status, u.StartedAt, u.CompletedAt)
	if err != nil {
		return fmt.Errorf("%w: update session %s: %v", store.ErrPersistence, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *Store) AppendEntries(ctx context.Context, sessionID string, entries []store.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO transcript_entries (session_id, entry_id, speaker, text, ts, sequence, confidence)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (session_id, entry_id) DO UPDATE SET
			     speaker = EXCLUDED.speaker,
			     text = EXCLUDED.text,
			     ts = EXCLUDED.ts,
			     sequence = EXCLUDED.sequence,
			     confidence = EXCLUDED.confidence`,
			sessionID, e.ID, e.Speaker, e.Text, e.Timestamp, e.Sequence, e.Confidence)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%w: append %d entries to %s: %v", store.ErrPersistence, len(entries), sessionID, err)
	}
	return nil
}

func (s *Store) GetTranscript(ctx context.Context, sessionID string) ([]store.TranscriptEntry, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT entry_id, speaker, text, ts, sequence, confidence
		 FROM transcript_entries WHERE session_id = $1
		 ORDER BY sequence ASC`, sessionID)
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[store.TranscriptEntry])
	if err != nil {
		return nil, fmt.Errorf("%w: get transcript %s: %v", store.ErrPersistence, sessionID, err)
	}
	return entries, nil
}

func (s *Store) ClearTranscript(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM transcript_entries WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: clear transcript %s: %v", store.ErrPersistence, sessionID, err)
	}
	return nil
}
