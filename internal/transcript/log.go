// Package transcript maintains the in-memory view of a session transcript.
// Entries arrive over the wire out of order and sometimes more than once,
// especially around reconnects; the log keys on entry ID for deduplication
// and orders strictly by the producer-assigned Sequence, never by arrival.
package transcript

import (
	"sort"
	"sync"

	"github.com/admitly/viva/internal/store"
)

// Log is a concurrency-safe transcript accumulator.
type Log struct {
	mu      sync.RWMutex
	entries map[string]store.TranscriptEntry
	ordered []store.TranscriptEntry
	stale   bool
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{
		entries: make(map[string]store.TranscriptEntry),
	}
}

// Append inserts or replaces the entry keyed by its ID. The remote side is
// authoritative: an incoming entry with a known ID overwrites the stored
// copy (the backend revises text and confidence after final transcription).
// It reports whether the log changed.
func (l *Log) Append(e store.TranscriptEntry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.entries[e.ID]; ok && prev == e {
		return false
	}
	l.entries[e.ID] = e
	l.stale = true
	return true
}

// Reconcile merges a full remote transcript into the log, as fetched after a
// reconnect. Remote entries win on ID conflicts; local entries the remote
// does not know about are kept. It returns the number of entries added or
// changed.
func (l *Log) Reconcile(remote []store.TranscriptEntry) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := 0
	for _, e := range remote {
		if prev, ok := l.entries[e.ID]; ok && prev == e {
			continue
		}
		l.entries[e.ID] = e
		changed++
	}
	if changed > 0 {
		l.stale = true
	}
	return changed
}

// Ordered returns a copy of all entries sorted by Sequence ascending, with
// ID as the tiebreaker so the result is deterministic.
func (l *Log) Ordered() []store.TranscriptEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stale {
		l.ordered = make([]store.TranscriptEntry, 0, len(l.entries))
		for _, e := range l.entries {
			l.ordered = append(l.ordered, e)
		}
		sort.Slice(l.ordered, func(i, j int) bool {
			if l.ordered[i].Sequence != l.ordered[j].Sequence {
				return l.ordered[i].Sequence < l.ordered[j].Sequence
			}
			return l.ordered[i].ID < l.ordered[j].ID
		})
		l.stale = false
	}
	out := make([]store.TranscriptEntry, len(l.ordered))
	copy(out, l.ordered)
	return out
}

// Len reports the number of distinct entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// MaxSequence returns the highest Sequence seen, or -1 for an empty log.
func (l *Log) MaxSequence() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	max := int64(-1)
	for _, e := range l.entries {
		if e.Sequence > max {
			max = e.Sequence
		}
	}
	return max
}
