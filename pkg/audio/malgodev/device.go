// Package malgodev provides an [audio.Source] backed by the miniaudio
// library via the malgo bindings. It captures mono float32 samples from the
// default (or a named) input device at the device's native rate.
package malgodev

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/admitly/viva/pkg/audio"
)

// defaultCaptureRate is requested from the backend when the caller does not
// specify one. miniaudio resamples internally if the hardware differs.
const defaultCaptureRate = 48000

// Compile-time interface check.
var _ audio.Source = (*Device)(nil)

// Device is a microphone capture source backed by malgo/miniaudio.
// Create one per session via [New]; not safe for concurrent Start calls.
type Device struct {
	sampleRate int

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithSampleRate requests a specific capture rate instead of the default
// 48 kHz.
func WithSampleRate(rate int) Option {
	return func(d *Device) { d.sampleRate = rate }
}

// New creates a Device. No hardware is touched until Start.
func New(opts ...Option) *Device {
	d := &Device{sampleRate: defaultCaptureRate}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SampleRate returns the capture rate in Hz.
func (d *Device) SampleRate() int {
	return d.sampleRate
}

// Start initialises the audio backend and begins capture. Every captured
// block is delivered to onData as float32 samples in [-1, 1]. Acquisition
// failure wraps [audio.ErrMicrophoneUnavailable].
func (d *Device) Start(onData func(samples []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return fmt.Errorf("malgodev: device already started")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgodev: init context: %w", audio.ErrMicrophoneUnavailable)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(d.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			onData(bytesToFloat32s(input, int(frameCount)))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("malgodev: init device: %w", audio.ErrMicrophoneUnavailable)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("malgodev: start device: %w", audio.ErrMicrophoneUnavailable)
	}

	d.ctx = mctx
	d.device = device
	return nil
}

// Stop halts capture and releases the device and backend context. malgo's
// Stop blocks until the data callback has returned, satisfying the
// [audio.Source] contract. Safe to call more than once.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return nil
	}
	err := d.device.Stop()
	d.device.Uninit()
	d.device = nil

	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}

	if err != nil {
		return fmt.Errorf("malgodev: stop device: %w", err)
	}
	return nil
}

// bytesToFloat32s reinterprets a malgo F32 capture buffer as float32 samples.
func bytesToFloat32s(b []byte, frames int) []float32 {
	n := min(frames, len(b)/4)
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
