package visualizer

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser defaults follow the WebAudio AnalyserNode.
const (
	DefaultFFTSize   = 256
	DefaultMinDB     = -100.0
	DefaultMaxDB     = -30.0
	DefaultSmoothing = 0.8
)

// FFTAnalyser keeps the most recent FFTSize mono samples written by the audio
// thread and turns them into byte frequency data on demand. Write and
// FrequencyData may run on different goroutines.
type FFTAnalyser struct {
	mu   sync.Mutex
	ring []float64
	pos  int

	size      int
	minDB     float64
	maxDB     float64
	smoothing float64

	fft      *fourier.FFT
	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

// NewAnalyser rounds size to a power of two in [32, 32768].
func NewAnalyser(size int) *FFTAnalyser {
	size = clampPow2(size)
	return &FFTAnalyser{
		ring:      make([]float64, size),
		size:      size,
		minDB:     DefaultMinDB,
		maxDB:     DefaultMaxDB,
		smoothing: DefaultSmoothing,
		fft:       fourier.NewFFT(size),
		frame:     make([]float64, size),
		coeffs:    make([]complex128, size/2+1),
		smoothed:  make([]float64, size/2),
	}
}

func clampPow2(n int) int {
	if n <= 32 {
		return 32
	}
	if n >= 32768 {
		return 32768
	}
	p := 32
	for p < n {
		p <<= 1
	}
	return p
}

// FFTSize is the analysis window length in samples.
func (a *FFTAnalyser) FFTSize() int { return a.size }

// BinCount is the number of frequency bins, half the window.
func (a *FFTAnalyser) BinCount() int { return a.size / 2 }

// Write appends interleaved PCM, down-mixed to mono.
func (a *FFTAnalyser) Write(pcm []int16, channels int) {
	if channels < 1 {
		channels = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i+channels <= len(pcm); i += channels {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(pcm[i+c])
		}
		a.ring[a.pos] = sum / float64(channels) / 32768.0
		a.pos = (a.pos + 1) % a.size
	}
}

// Reset forgets buffered samples and smoothing history.
func (a *FFTAnalyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

// FrequencyData fills dst with magnitudes scaled from [minDB, maxDB] to
// 0..255. Bins past BinCount are left zero.
func (a *FFTAnalyser) FrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// oldest sample first
	n := copy(a.frame, a.ring[a.pos:])
	copy(a.frame[n:], a.ring[:a.pos])
	window.Blackman(a.frame)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	scale := 255.0 / (a.maxDB - a.minDB)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if k >= len(dst) {
			continue
		}
		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := (db - a.minDB) * scale
		switch {
		case v <= 0 || math.IsNaN(v):
			dst[k] = 0
		case v >= 255:
			dst[k] = 255
		default:
			dst[k] = uint8(v)
		}
	}
	for k := len(a.smoothed); k < len(dst); k++ {
		dst[k] = 0
	}
}
