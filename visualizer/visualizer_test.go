package visualizer

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twin/loop"
)

type fakeSource struct{ paused, ended bool }

func (s *fakeSource) Paused() bool { return s.paused }
func (s *fakeSource) Ended() bool  { return s.ended }

type constAnalyser uint8

func (c constAnalyser) FrequencyData(dst []uint8) {
	for i := range dst {
		dst[i] = uint8(c)
	}
}

type fakeSurface struct {
	clears   int
	strokes  int
	presents int
	last     []Point
}

func (s *fakeSurface) Size() (float64, float64) { return 100, 100 }
func (s *fakeSurface) Clear()                   { s.clears++ }
func (s *fakeSurface) StrokeClosed(p []Point)   { s.strokes++; s.last = p }
func (s *fakeSurface) Present()                 { s.presents++ }

func startLoop(t *testing.T) *loop.Loop {
	t.Helper()
	lp := loop.New()
	lp.SetFrameInterval(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go lp.Run(ctx)
	t.Cleanup(cancel)
	return lp
}

func TestVisualizerDrawsCircle(t *testing.T) {
	lp := startLoop(t)
	surf := &fakeSurface{}
	v := New(lp, surf, 8)
	src := &fakeSource{}

	lp.Sync(func() { v.Attach(src, constAnalyser(255)) })
	time.Sleep(20 * time.Millisecond)

	var strokes int
	var last []Point
	lp.Sync(func() {
		strokes = surf.strokes
		last = surf.last
	})
	require.Greater(t, strokes, 0)
	require.Len(t, last, 8)
	// full amplitude puts every point on the outer radius
	for _, p := range last {
		assert.InDelta(t, 50, math.Hypot(p.X-50, p.Y-50), 1e-9)
	}
	assert.InDelta(t, 100, last[0].X, 1e-9)
}

func TestVisualizerStopsOnPauseWithSingleClear(t *testing.T) {
	lp := startLoop(t)
	surf := &fakeSurface{}
	v := New(lp, surf, 4)
	src := &fakeSource{}

	lp.Sync(func() { v.Attach(src, constAnalyser(0)) })
	time.Sleep(10 * time.Millisecond)

	var before, strokes int
	lp.Sync(func() {
		src.paused = true
		before = surf.clears
	})
	time.Sleep(20 * time.Millisecond)
	lp.Sync(func() {
		assert.False(t, v.Active())
		assert.Equal(t, before+1, surf.clears)
		strokes = surf.strokes
	})
	time.Sleep(10 * time.Millisecond)
	lp.Sync(func() { assert.Equal(t, strokes, surf.strokes) })
}

func TestVisualizerDetachCancelsFrame(t *testing.T) {
	lp := startLoop(t)
	surf := &fakeSurface{}
	v := New(lp, surf, 4)

	lp.Sync(func() {
		v.Attach(&fakeSource{}, constAnalyser(10))
		v.Detach()
		v.Detach()
	})
	time.Sleep(10 * time.Millisecond)
	lp.Sync(func() {
		assert.Equal(t, 0, surf.strokes)
		assert.Equal(t, 1, surf.clears)
		assert.Equal(t, 0, v.Frames())
	})
}

func TestVisualizerReattachClearsPrevious(t *testing.T) {
	lp := startLoop(t)
	surf := &fakeSurface{}
	v := New(lp, surf, 4)

	lp.Sync(func() {
		v.Attach(&fakeSource{}, constAnalyser(10))
		v.Attach(&fakeSource{ended: true}, constAnalyser(10))
	})
	time.Sleep(10 * time.Millisecond)
	lp.Sync(func() {
		// one clear for the replaced binding, one for the ended source
		assert.Equal(t, 2, surf.clears)
		assert.Equal(t, 0, surf.strokes)
	})
}

func TestAnalyserSilenceIsZero(t *testing.T) {
	a := NewAnalyser(DefaultFFTSize)
	a.Write(make([]int16, 512), 1)
	buf := make([]uint8, a.BinCount())
	a.FrequencyData(buf)
	for i, b := range buf {
		assert.Zero(t, b, "bin %d", i)
	}
}

func TestAnalyserSinePeaksAtItsBin(t *testing.T) {
	a := NewAnalyser(256)
	const bin = 16
	pcm := make([]int16, 256)
	for i := range pcm {
		pcm[i] = int16(1560 * math.Sin(2*math.Pi*bin*float64(i)/256))
	}
	buf := make([]uint8, a.BinCount())
	for range 20 {
		a.Write(pcm, 1)
		a.FrequencyData(buf)
	}

	peak := 0
	for i := range buf {
		if buf[i] > buf[peak] {
			peak = i
		}
	}
	assert.Equal(t, bin, peak)
	assert.Greater(t, buf[bin], uint8(150))
}

func TestAnalyserRoundsSize(t *testing.T) {
	assert.Equal(t, 256, NewAnalyser(200).FFTSize())
	assert.Equal(t, 32, NewAnalyser(0).FFTSize())
	assert.Equal(t, 64, NewAnalyser(64).BinCount()*2)
}

func TestCanvasLineAndString(t *testing.T) {
	var presented string
	c := NewCanvas(2, 1, func(f string) { presented = f })
	w, h := c.Size()
	assert.Equal(t, 4.0, w)
	assert.Equal(t, 4.0, h)

	c.Line(0, 0, 0, 3)
	c.Present()
	assert.Equal(t, string(rune(0x2800+0x01+0x02+0x04+0x40))+" ", presented)

	c.Clear()
	assert.Equal(t, "  ", c.String())

	c.StrokeClosed([]Point{{0, 0}, {3, 0}, {3, 3}, {0, 3}})
	assert.Equal(t, string(rune(0x28CF))+string(rune(0x28F9)), c.String())
	c.Set(-1, 99)
	assert.False(t, strings.Contains(c.String(), " "))
}
