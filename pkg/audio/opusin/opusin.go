// Package opusin provides an [audio.Source] that decodes a stream of Opus
// packets into mono float samples. It is used when the candidate's audio
// arrives over the network already Opus-encoded (e.g. from a browser or
// telephony bridge) instead of from a local device.
package opusin

import (
	"fmt"
	"sync"

	"layeh.com/gopus"

	"github.com/admitly/viva/pkg/audio"
)

// Opus framing used by the feeds we accept: 48 kHz mono at 20 ms packets.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per 20 ms packet.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// Compile-time interface check.
var _ audio.Source = (*Source)(nil)

// Source decodes Opus packets pushed via [Source.WritePacket] and delivers
// the resulting PCM to the pipeline callback. A single decoder instance is
// kept per Source to maintain decoder state across consecutive packets.
type Source struct {
	mu      sync.Mutex
	dec     *gopus.Decoder
	onData  func([]float32)
	started bool
}

// New creates an Opus input source.
func New() *Source {
	return &Source{}
}

// SampleRate returns the Opus decode rate (48 kHz).
func (s *Source) SampleRate() int {
	return opusSampleRate
}

// Start prepares the decoder. Packets written before Start are discarded.
func (s *Source) Start(onData func(samples []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("opusin: source already started")
	}
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return fmt.Errorf("opusin: create decoder: %v: %w", err, audio.ErrMicrophoneUnavailable)
	}
	s.dec = dec
	s.onData = onData
	s.started = true
	return nil
}

// WritePacket decodes one Opus packet and forwards the PCM to the pipeline.
// Packets arriving while the source is stopped are dropped.
func (s *Source) WritePacket(packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	pcm, err := s.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return fmt.Errorf("opusin: decode: %w", err)
	}
	s.onData(int16sToFloat32s(pcm))
	return nil
}

// Stop releases the decoder. The mutex guarantees no callback is in flight
// when Stop returns. Safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.dec = nil
	s.onData = nil
	return nil
}

// int16sToFloat32s converts decoded int16 PCM to float samples in [-1, 1].
func int16sToFloat32s(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, v := range pcm {
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out
}
