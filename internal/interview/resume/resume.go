// Package resume persists interrupted-session records as local JSON files,
// one per interview target. A fresh record lets a later run offer to pick an
// interrupted interview back up; records expire after a retention window and
// are purged lazily on load.
package resume

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/admitly/viva/internal/store"
)

// DefaultTTL is how long an interrupted session stays resumable.
const DefaultTTL = 24 * time.Hour

// Record captures everything needed to resume an interrupted session.
type Record struct {
	SessionID    string               `json:"session_id"`
	TargetID     string               `json:"target_id"`
	Status       store.InterviewState `json:"status"`
	LastSequence int64                `json:"last_sequence"`
	SavedAt      time.Time            `json:"saved_at"`
}

// Store persists resume records under a directory, one file per target.
// Thread-safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	dir string
	ttl time.Duration

	// now is overridable in tests.
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the retention window. Defaults to 24h.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("resume: create dir: %w", err)
	}
	s := &Store{
		dir: dir,
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Save writes the record for its target, stamping SavedAt. The write is
// atomic so a crash never leaves a truncated record behind.
func (s *Store) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.SavedAt = s.now().UTC()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("resume: marshal: %w", err)
	}

	path := s.path(rec.TargetID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("resume: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("resume: rename: %w", err)
	}
	return nil
}

// Load returns the record for the target. The second return is false when no
// record exists or the existing one has aged past the retention window;
// stale records are deleted on the way out.
func (s *Store) Load(targetID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(targetID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("resume: read: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// An unreadable record is as good as no record; drop it.
		_ = os.Remove(path)
		return Record{}, false, nil
	}

	if s.now().Sub(rec.SavedAt) > s.ttl {
		_ = os.Remove(path)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete removes the record for the target, if any.
func (s *Store) Delete(targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(targetID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("resume: delete: %w", err)
	}
	return nil
}

// path maps a target ID to its record file, flattening characters that are
// not filesystem-safe.
func (s *Store) path(targetID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, targetID)
	return filepath.Join(s.dir, safe+".json")
}
