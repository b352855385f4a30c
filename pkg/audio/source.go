// Package audio provides the microphone capture pipeline for the interview
// engine: device acquisition, block-averaging downsampling to the wire rate,
// PCM16 encoding into fixed-size frames, and a spectrum-derived level signal.
//
// The two primary abstractions are:
//
//   - [Source] — a capture device delivering mono float samples at its
//     native rate.
//   - [Pipeline] — wraps a Source and emits wire-ready [Frame] values.
//
// Real devices are provided by adapter packages (audio/malgodev for local
// microphones, audio/opusin for remote Opus feeds). The interfaces are kept
// narrow so the session coordinator stays decoupled from capture details.
package audio

import "errors"

// ErrMicrophoneUnavailable is returned when the capture device cannot be
// acquired — permission denied, device missing, or backend init failure.
// It is a local, non-fatal condition: the owning session disables audio and
// the interview continues over the transport alone.
var ErrMicrophoneUnavailable = errors.New("audio: microphone unavailable")

// Source is a mono audio capture device.
//
// Start begins capture and invokes onData from the device's capture
// goroutine with successive blocks of float samples in [-1, 1] at
// [Source.SampleRate]. The callback must not block. Stop releases the
// hardware; it is safe to call more than once.
type Source interface {
	// SampleRate returns the device's native capture rate in Hz.
	SampleRate() int

	// Start begins capture. Failure to acquire the device wraps
	// [ErrMicrophoneUnavailable].
	Start(onData func(samples []float32)) error

	// Stop halts capture and releases the device. It must not return
	// while a data callback is still executing.
	Stop() error
}
