// Package interview coordinates one voice interview session end to end:
// microphone capture, the WebSocket transport with automatic resume, the
// in-memory transcript, durable session state, and the local resume records
// that survive a crash or network loss.
package interview

import "github.com/admitly/viva/internal/store"

// Phase is the runtime lifecycle phase of a session. It is richer than the
// persisted [store.InterviewState]: connection mechanics (connecting,
// reconnecting) and the local resume offer exist only in memory and collapse
// onto the durable states when written.
type Phase int

const (
	// PhaseSetup is the initial phase before the session is prepared.
	PhaseSetup Phase = iota

	// PhaseResumeAvailable means a fresh record of an interrupted session
	// exists and the caller may resume instead of starting over.
	PhaseResumeAvailable

	// PhaseReady means the session is prepared and can be started.
	PhaseReady

	// PhaseConnecting covers the initial connection attempts.
	PhaseConnecting

	// PhaseActive means the interview is live.
	PhaseActive

	// PhaseReconnecting means the transport dropped and bounded
	// reconnection attempts are in flight. Audio is discarded; the
	// transcript is kept.
	PhaseReconnecting

	// PhaseCompleted is terminal: the backend finished the interview.
	PhaseCompleted

	// PhaseInterrupted ends the run but leaves a resume record behind, so
	// the session can be picked up again within the retention window.
	PhaseInterrupted
)

// String returns the lowercase name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseResumeAvailable:
		return "resume_available"
	case PhaseReady:
		return "ready"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseCompleted:
		return "completed"
	case PhaseInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Terminal reports whether the phase ends the run loop.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseInterrupted
}

// Persisted maps the runtime phase onto the durable interview state.
func (p Phase) Persisted() store.InterviewState {
	switch p {
	case PhaseSetup:
		return store.StateSetup
	case PhaseResumeAvailable, PhaseReady:
		return store.StateReady
	case PhaseConnecting, PhaseActive, PhaseReconnecting:
		return store.StateInProgress
	case PhaseCompleted:
		return store.StateCompleted
	case PhaseInterrupted:
		return store.StateInterrupted
	}
	return store.StateSetup
}

// validTransitions lists the allowed phase changes. Anything not listed is a
// coordinator bug and is rejected.
var validTransitions = map[Phase][]Phase{
	PhaseSetup:           {PhaseResumeAvailable, PhaseReady},
	PhaseResumeAvailable: {PhaseConnecting, PhaseReady},
	PhaseReady:           {PhaseConnecting},
	PhaseConnecting:      {PhaseActive, PhaseCompleted, PhaseInterrupted},
	PhaseActive:          {PhaseReconnecting, PhaseCompleted, PhaseInterrupted},
	PhaseReconnecting:    {PhaseActive, PhaseCompleted, PhaseInterrupted},
}

// CanTransition reports whether moving from p to next is allowed.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range validTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}
