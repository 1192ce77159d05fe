package speech

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	tickInterval     = 100 * time.Millisecond
	speechRMS        = 400 // int16 units
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice in the recent half window
	SilenceWarnClear              // speech resumed after a warning
	SilenceAutoStop               // whole window below threshold
)

// silenceMonitor keeps a ring of per-tick speech flags covering the
// auto-stop timeout.
type silenceMonitor struct {
	warnAt   int
	windowSz int

	ticks       int
	window      []bool
	speechCount int
	warned      bool
}

func newSilenceMonitor(timeout time.Duration) *silenceMonitor {
	windowSz := max(int(timeout/tickInterval), 1)
	return &silenceMonitor{
		warnAt:   max(windowSz/2, 1),
		windowSz: windowSz,
		window:   make([]bool, windowSz),
	}
}

// ratio is the speech share of the last n ticks.
func (m *silenceMonitor) ratio(n int) float64 {
	n = min(n, m.ticks)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := range n {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(hasSpeech bool) SilenceEvent {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	if m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return SilenceAutoStop
	}

	r := m.ratio(m.warnAt)
	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}
	return SilenceNone
}

// rms of little-endian PCM16.
func rms(pcm []byte) uint32 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return uint32(math.Sqrt(sum / float64(n)))
}
