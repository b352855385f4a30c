// Package mock provides hand-rolled test doubles for the audio package.
package mock

import (
	"sync"

	"github.com/admitly/viva/pkg/audio"
)

// Compile-time interface check.
var _ audio.Source = (*Source)(nil)

// Source is a scriptable [audio.Source] for tests. Feed it sample blocks
// with Push; they are delivered synchronously to the pipeline callback.
type Source struct {
	// Rate is the reported native sample rate. Defaults to 48000 if zero.
	Rate int

	// StartError, when non-nil, is returned from Start.
	StartError error

	mu             sync.Mutex
	onData         func([]float32)
	started        bool
	CallCountStop  int
	CallCountStart int
}

// SampleRate implements [audio.Source].
func (s *Source) SampleRate() int {
	if s.Rate == 0 {
		return 48000
	}
	return s.Rate
}

// Start implements [audio.Source].
func (s *Source) Start(onData func(samples []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	s.onData = onData
	s.started = true
	return nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.started = false
	s.onData = nil
	return nil
}

// Push delivers one block of samples to the registered callback. It is a
// no-op before Start or after Stop.
func (s *Source) Push(samples []float32) {
	s.mu.Lock()
	cb := s.onData
	s.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}
