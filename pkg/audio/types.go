package audio

import "time"

// Frame represents a single block of audio flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the input
// device, resampled to the wire rate, and sent to the interviewer agent as
// discrete binary messages.
type Frame struct {
	// Data is little-endian int16 PCM. Sample rate and channel count are
	// determined by the pipeline config.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for a typical capture device, 16000
	// on the wire).
	SampleRate int

	// Channels: always 1 for interview capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of int16 samples in the frame.
func (f Frame) Samples() int {
	return len(f.Data) / 2
}
