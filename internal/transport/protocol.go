// Package transport maintains the bidirectional WebSocket link to the
// interview backend. Control messages travel as JSON text frames; microphone
// audio travels as binary frames carrying little-endian PCM16 at the
// negotiated sample rate.
package transport

import (
	"errors"

	"github.com/admitly/viva/internal/store"
)

// Sentinel errors surfaced by the transport. Callers match with errors.Is.
var (
	// ErrConnectFailed means every candidate endpoint was tried and none
	// produced an acknowledged session.
	ErrConnectFailed = errors.New("transport: connect failed")

	// ErrTransportDropped means an established connection was lost without a
	// clean close from our side.
	ErrTransportDropped = errors.New("transport: connection dropped")

	// ErrMalformedMessage marks an inbound message the decoder could not
	// interpret. Such messages are dropped; the connection stays up.
	ErrMalformedMessage = errors.New("transport: malformed message")

	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("transport: connection closed")
)

// ConnectionState describes the link to the backend.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the lowercase wire name of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Setup is the first message sent on every new connection. On a resumed
// session Resume is true and LastSequence tells the backend the highest
// transcript sequence already held locally.
type Setup struct {
	SessionID    string
	TargetID     string
	SampleRate   int
	Resume       bool
	LastSequence int64
}

// EventType discriminates inbound events delivered on Conn.Events.
type EventType int

const (
	// EventStatus carries a backend-driven interview state change.
	EventStatus EventType = iota

	// EventTranscript carries a new transcript entry.
	EventTranscript

	// EventTranscriptUpdate carries a revision of an existing entry.
	EventTranscriptUpdate

	// EventComplete signals the backend considers the interview finished.
	EventComplete

	// EventAudio carries agent speech as PCM16 bytes for playback.
	EventAudio

	// EventServerError carries a non-fatal error reported by the backend.
	EventServerError

	// EventDropped is the terminal event: the connection was lost. Err is
	// set and the events channel is closed immediately after.
	EventDropped
)

// Event is one inbound occurrence on the connection. Only the fields
// relevant to Type are populated.
type Event struct {
	Type    EventType
	State   string
	Entry   store.TranscriptEntry
	Audio   []byte
	Code    string
	Message string
	Err     error
}

// ── Wire format ────────────────────────────────────────────────────────────────

type setupMessage struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	TargetID     string `json:"target_id"`
	SampleRate   int    `json:"sample_rate"`
	AudioFormat  string `json:"audio_format"`
	Resume       bool   `json:"resume,omitempty"`
	LastSequence *int64 `json:"last_sequence,omitempty"`
}

type serverErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// serverMessage is the inbound JSON envelope. Exactly one payload field is
// set depending on Type.
type serverMessage struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	State     string                 `json:"state,omitempty"`
	Entry     *store.TranscriptEntry `json:"entry,omitempty"`
	Error     *serverErrorDetail     `json:"error,omitempty"`
}

func newSetupMessage(s Setup) setupMessage {
	msg := setupMessage{
		Type:        "setup",
		SessionID:   s.SessionID,
		TargetID:    s.TargetID,
		SampleRate:  s.SampleRate,
		AudioFormat: "pcm16",
		Resume:      s.Resume,
	}
	if s.Resume {
		seq := s.LastSequence
		msg.LastSequence = &seq
	}
	return msg
}
