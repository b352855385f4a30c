// Package mock provides an in-memory scriptable store.Store for tests.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/admitly/viva/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is an in-memory store.Store. Error fields, when set, are returned by
// the corresponding method so tests can script failures. All methods are
// safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]store.Session
	entries  map[string]map[string]store.TranscriptEntry

	CreateErr error
	GetErr    error
	UpdateErr error
	AppendErr error
	ClearErr  error

	CallCountCreate int
	CallCountUpdate int
	CallCountAppend int
	CallCountClear  int
}

// New returns an empty mock store.
func New() *Store {
	return &Store{
		sessions: make(map[string]store.Session),
		entries:  make(map[string]map[string]store.TranscriptEntry),
	}
}

func (m *Store) CreateSession(ctx context.Context, s store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountCreate++
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Store) GetSession(ctx context.Context, id string) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return store.Session{}, m.GetErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return store.Session{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return s, nil
}

func (m *Store) GetSessionByTarget(ctx context.Context, targetID string) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return store.Session{}, m.GetErr
	}
	var latest store.Session
	found := false
	for _, s := range m.sessions {
		if s.TargetID != targetID {
			continue
		}
		if !found || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
			found = true
		}
	}
	if !found {
		return store.Session{}, fmt.Errorf("%w: target %s", store.ErrNotFound, targetID)
	}
	return latest, nil
}

func (m *Store) UpdateSession(ctx context.Context, id string, u store.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountUpdate++
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	s.Status = u.Status
	if u.StartedAt != nil {
		s.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil && s.CompletedAt == nil {
		s.CompletedAt = u.CompletedAt
	}
	m.sessions[id] = s
	return nil
}

func (m *Store) AppendEntries(ctx context.Context, sessionID string, entries []store.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountAppend++
	if m.AppendErr != nil {
		return m.AppendErr
	}
	byID, ok := m.entries[sessionID]
	if !ok {
		byID = make(map[string]store.TranscriptEntry)
		m.entries[sessionID] = byID
	}
	for _, e := range entries {
		byID[e.ID] = e
	}
	return nil
}

func (m *Store) GetTranscript(ctx context.Context, sessionID string) ([]store.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	out := make([]store.TranscriptEntry, 0, len(m.entries[sessionID]))
	for _, e := range m.entries[sessionID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *Store) ClearTranscript(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountClear++
	if m.ClearErr != nil {
		return m.ClearErr
	}
	delete(m.entries, sessionID)
	return nil
}

// Session returns the stored session record for assertions.
func (m *Store) Session(id string) (store.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Seed installs a session and its transcript directly, for arranging
// resumable state.
func (m *Store) Seed(s store.Session, entries []store.TranscriptEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	byID := make(map[string]store.TranscriptEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	m.entries[s.ID] = byID
}
