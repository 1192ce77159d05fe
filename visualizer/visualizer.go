// Package visualizer draws the circular spectrum of the reply being spoken.
package visualizer

import (
	"math"
	"time"

	"twin/loop"
)

// Source is the playing stream the visualizer follows.
type Source interface {
	Paused() bool
	Ended() bool
}

type Analyser interface {
	FrequencyData(dst []uint8)
}

type Point struct{ X, Y float64 }

type Surface interface {
	Size() (w, h float64)
	Clear()
	StrokeClosed(pts []Point)
	Present()
}

// DefaultBins matches the analyser's bin count at the default FFT size.
const DefaultBins = DefaultFFTSize / 2

// Visualizer runs one frame loop at a time. All methods run on the loop
// goroutine.
type Visualizer struct {
	lp      *loop.Loop
	surface Surface
	buf     []uint8

	src    Source
	an     Analyser
	frame  *loop.Timer
	active bool
	frames int
}

func New(lp *loop.Loop, surface Surface, bins int) *Visualizer {
	if bins <= 0 {
		bins = DefaultBins
	}
	return &Visualizer{lp: lp, surface: surface, buf: make([]uint8, bins)}
}

// Attach binds a new source, dropping any previous binding first.
func (v *Visualizer) Attach(src Source, an Analyser) {
	v.Detach()
	v.src, v.an = src, an
	v.active = true
	v.frame = v.lp.RequestFrame(v.draw)
}

// Detach cancels the pending frame and clears the surface. No-op when idle.
func (v *Visualizer) Detach() {
	if !v.active {
		return
	}
	v.active = false
	v.frame.Stop()
	v.frame = nil
	v.src, v.an = nil, nil
	v.surface.Clear()
	v.surface.Present()
}

func (v *Visualizer) Active() bool { return v.active }

// Frames counts frames drawn since the visualizer was created.
func (v *Visualizer) Frames() int { return v.frames }

func (v *Visualizer) draw(time.Time) {
	v.frame = nil
	if !v.active {
		return
	}
	if v.src.Paused() || v.src.Ended() {
		v.Detach()
		return
	}

	v.an.FrequencyData(v.buf)
	w, h := v.surface.Size()
	cx, cy := w/2, h/2
	base := math.Min(w, h) * 0.25
	amplitude := math.Min(w, h)*0.5 - base

	n := len(v.buf)
	pts := make([]Point, n)
	for i, b := range v.buf {
		theta := 2 * math.Pi * float64(i) / float64(n)
		r := base + float64(b)/255*amplitude
		pts[i] = Point{X: cx + r*math.Cos(theta), Y: cy + r*math.Sin(theta)}
	}

	v.surface.Clear()
	v.surface.StrokeClosed(pts)
	v.surface.Present()
	v.frames++
	v.frame = v.lp.RequestFrame(v.draw)
}
