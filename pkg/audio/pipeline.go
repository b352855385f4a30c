package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults for the interview wire format.
const (
	// DefaultTargetRate is the wire sample rate expected by the
	// interviewer agent.
	DefaultTargetRate = 16000

	// DefaultFrameSamples is the number of PCM16 samples per emitted frame.
	DefaultFrameSamples = 4096

	// frameChannelBuffer bounds the frame channel; when the consumer
	// stalls beyond this, frames are dropped rather than buffered without
	// bound.
	frameChannelBuffer = 64
)

// Pipeline captures audio from a [Source], downsamples it to the target
// rate, and emits fixed-size PCM16 [Frame] values on a channel. It also
// derives a live amplitude level from the capture stream.
//
// A Pipeline is single-use: Start once, Stop once. Start and Stop are safe
// to call from any goroutine; frame production happens on the source's
// capture goroutine.
type Pipeline struct {
	source       Source
	targetRate   int
	frameSamples int

	frames  chan Frame
	meter   *LevelMeter
	level   atomic.Uint64 // float64 bits
	pending []float32
	emitted int64 // target-rate samples emitted, for frame timestamps

	stopped  atomic.Bool
	stopOnce sync.Once
	warnDrop sync.Once
}

// PipelineConfig configures a [Pipeline].
type PipelineConfig struct {
	// Source is the capture device. Required.
	Source Source

	// TargetRate is the wire sample rate in Hz. Defaults to
	// [DefaultTargetRate] if zero.
	TargetRate int

	// FrameSamples is the number of samples per emitted frame. Defaults to
	// [DefaultFrameSamples] if zero.
	FrameSamples int
}

// NewPipeline creates a Pipeline with the given configuration.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	targetRate := cfg.TargetRate
	if targetRate <= 0 {
		targetRate = DefaultTargetRate
	}
	frameSamples := cfg.FrameSamples
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	return &Pipeline{
		source:       cfg.Source,
		targetRate:   targetRate,
		frameSamples: frameSamples,
		frames:       make(chan Frame, frameChannelBuffer),
		meter:        NewLevelMeter(),
	}
}

// Start acquires the capture device and begins producing frames. The
// returned channel delivers frames in capture order until Stop is called,
// after which it is closed. Device acquisition failure wraps
// [ErrMicrophoneUnavailable].
func (p *Pipeline) Start() (<-chan Frame, error) {
	if err := p.source.Start(p.onData); err != nil {
		return nil, fmt.Errorf("audio pipeline: start capture: %w", err)
	}
	return p.frames, nil
}

// Stop halts capture, releases the device, and closes the frame channel.
// Safe to call more than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		if err := p.source.Stop(); err != nil {
			slog.Warn("audio pipeline: source stop", "err", err)
		}
		close(p.frames)
	})
}

// Level returns the most recent amplitude level in [0, 1]. Advisory only.
func (p *Pipeline) Level() float64 {
	return math.Float64frombits(p.level.Load())
}

// TargetRate returns the wire sample rate frames are emitted at.
func (p *Pipeline) TargetRate() int {
	return p.targetRate
}

// onData is the capture callback: it runs level analysis, downsamples the
// buffer to the target rate, and slices full frames off the pending buffer.
func (p *Pipeline) onData(samples []float32) {
	if p.stopped.Load() {
		return
	}

	p.level.Store(math.Float64bits(p.meter.Process(samples)))

	ds := Downsample(samples, p.source.SampleRate(), p.targetRate)
	p.pending = append(p.pending, ds...)

	for len(p.pending) >= p.frameSamples {
		chunk := p.pending[:p.frameSamples]
		frame := Frame{
			Data:       EncodePCM16(chunk),
			SampleRate: p.targetRate,
			Channels:   1,
			Timestamp:  time.Duration(p.emitted) * time.Second / time.Duration(p.targetRate),
		}
		p.pending = p.pending[:copy(p.pending, p.pending[p.frameSamples:])]
		p.emitted += int64(p.frameSamples)

		select {
		case p.frames <- frame:
		default:
			// Consumer stalled — drop rather than buffer unbounded audio.
			p.warnDrop.Do(func() {
				slog.Warn("audio pipeline: frame channel full, dropping frames")
			})
		}
	}
}
