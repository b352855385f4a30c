package audio

import "math"

// levelFFTSize is the number of samples fed to the spectrum analysis per
// capture buffer. Buffers shorter than this are zero-padded; longer buffers
// use only the most recent levelFFTSize samples.
const levelFFTSize = 1024

// LevelMeter derives a live amplitude level from the frequency spectrum of
// the capture stream. The level is advisory (UI metering, voice-activity
// hints) and plays no part in the wire contract.
//
// Not safe for concurrent use; the pipeline calls it from its capture
// goroutine only.
type LevelMeter struct {
	re []float64
	im []float64
}

// NewLevelMeter creates a LevelMeter with preallocated FFT buffers.
func NewLevelMeter() *LevelMeter {
	return &LevelMeter{
		re: make([]float64, levelFFTSize),
		im: make([]float64, levelFFTSize),
	}
}

// Process analyses one capture buffer and returns the level in [0, 1]:
// the mean magnitude of the positive-frequency bins, normalised by the
// bin count. Silence yields 0.
func (m *LevelMeter) Process(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	if len(samples) > levelFFTSize {
		samples = samples[len(samples)-levelFFTSize:]
	}
	for i := range levelFFTSize {
		if i < len(samples) {
			m.re[i] = float64(samples[i])
		} else {
			m.re[i] = 0
		}
		m.im[i] = 0
	}

	fft(m.re, m.im)

	// Positive-frequency half only; bin 0 (DC) is skipped.
	var sum float64
	half := levelFFTSize / 2
	for i := 1; i < half; i++ {
		sum += math.Hypot(m.re[i], m.im[i])
	}
	level := sum / float64(half) / math.Sqrt(levelFFTSize)
	if level > 1 {
		level = 1
	}
	return level
}

// fft computes an in-place radix-2 Cooley–Tukey FFT. len(re) == len(im)
// must be a power of two.
func fft(re, im []float64) {
	n := len(re)

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		ang := -2 * math.Pi / float64(size)
		wRe, wIm := math.Cos(ang), math.Sin(ang)
		for start := 0; start < n; start += size {
			curRe, curIm := 1.0, 0.0
			for k := range size / 2 {
				i, j := start+k, start+k+size/2
				tRe := re[j]*curRe - im[j]*curIm
				tIm := re[j]*curIm + im[j]*curRe
				re[j] = re[i] - tRe
				im[j] = im[i] - tIm
				re[i] += tRe
				im[i] += tIm
				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}
}
