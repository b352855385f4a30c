package store

import "time"

// Speaker identifies which party produced a transcript entry.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerAgent  Speaker = "agent"
	SpeakerSystem Speaker = "system"
)

// IsValid reports whether s is a recognised speaker.
func (s Speaker) IsValid() bool {
	switch s {
	case SpeakerUser, SpeakerAgent, SpeakerSystem:
		return true
	}
	return false
}

// InterviewState is the persisted lifecycle status of a session. It is the
// authoritative, durable view; the session coordinator's richer runtime
// phases collapse onto these values when written.
type InterviewState string

const (
	StateSetup       InterviewState = "setup"
	StateReady       InterviewState = "ready"
	StateInProgress  InterviewState = "in_progress"
	StateCompleted   InterviewState = "completed"
	StateInterrupted InterviewState = "interrupted"
)

// IsValid reports whether s is a recognised interview state.
func (s InterviewState) IsValid() bool {
	switch s {
	case StateSetup, StateReady, StateInProgress, StateCompleted, StateInterrupted:
		return true
	}
	return false
}

// IsTerminal reports whether s ends the session lifecycle. Interrupted is
// terminal-looking but recoverable through resume, so only completed counts.
func (s InterviewState) IsTerminal() bool {
	return s == StateCompleted
}

// TranscriptEntry is one utterance by either party. ID is globally unique
// within a session and is the deduplication key across reconnects; Sequence
// is assigned by the producing side and is the sole ordering key — arrival
// order is never authoritative.
type TranscriptEntry struct {
	ID         string    `json:"id"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Sequence   int64     `json:"sequence"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Session is one complete attempt at a voice interview.
type Session struct {
	ID          string            `json:"id"`
	TargetID    string            `json:"target_id"`
	Status      InterviewState    `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Transcript  []TranscriptEntry `json:"transcript,omitempty"`
}

// StatusUpdate carries the mutable fields of a session for UpdateSession.
// Nil timestamp pointers leave the stored value untouched; CompletedAt is
// written at most once by the store implementations.
type StatusUpdate struct {
	Status      InterviewState `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
