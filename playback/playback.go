// Package playback speaks assistant replies.
//
// The Controller keeps at most one playback session. Starting another one
// tears the current session down first, and a synthesis fetch that has been
// superseded is cancelled and its result dropped.
package playback

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"twin/audio"
	"twin/decode"
	"twin/log"
	"twin/loop"
	"twin/visualizer"
)

type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Affordance is the control that started a playback. It only learns which
// state to display.
type Affordance interface {
	SetPlaybackState(State)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Visual follows the playing session. *visualizer.Visualizer implements it.
type Visual interface {
	Attach(src visualizer.Source, an visualizer.Analyser)
	Detach()
}

type Controller struct {
	ctx     context.Context
	lp      *loop.Loop
	actx    audio.Context
	synth   Synthesizer
	visual  Visual
	fftSize int

	cur     *session
	pending *fetch
}

type fetch struct {
	aff    Affordance
	cancel context.CancelFunc
}

type session struct {
	aff     Affordance
	dev     audio.PlaybackDevice
	an      *visualizer.FFTAnalyser
	format  decode.Format
	rate    int
	chans   int
	audioKB float64
	fetchMs float64
	played  atomic.Int64
	stopped bool
	ended   bool
}

func (s *session) Paused() bool { return s.stopped }
func (s *session) Ended() bool  { return s.ended }

// New returns a Controller. actx may be nil, in which case every Play fails
// and is logged. visual may be nil.
func New(ctx context.Context, lp *loop.Loop, actx audio.Context, synth Synthesizer, visual Visual, fftSize int) *Controller {
	if fftSize <= 0 {
		fftSize = visualizer.DefaultFFTSize
	}
	return &Controller{ctx: ctx, lp: lp, actx: actx, synth: synth, visual: visual, fftSize: fftSize}
}

// Active reports whether something is playing.
func (c *Controller) Active() bool { return c.cur != nil }

// Playing reports whether aff owns the current session.
func (c *Controller) Playing(aff Affordance) bool { return c.cur != nil && c.cur.aff == aff }

// Pending reports whether a synthesis fetch is outstanding.
func (c *Controller) Pending() bool { return c.pending != nil }

// Play replaces whatever is playing with text spoken on behalf of aff.
func (c *Controller) Play(text string, aff Affordance) {
	c.cancelPending()
	if c.cur != nil {
		c.teardown(c.cur, "superseded")
	}
	aff.SetPlaybackState(Idle)

	if c.actx == nil {
		log.Warn("playback unavailable: no audio output")
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	f := &fetch{aff: aff, cancel: cancel}
	c.pending = f
	go func() {
		start := time.Now()
		data, err := c.synth.Synthesize(ctx, text)
		fetchDur := time.Since(start)
		var st decode.Stream
		var format decode.Format
		if err == nil {
			st, format, err = decode.Decode(data)
		}
		c.lp.Post(func() { c.ready(f, st, format, len(data), fetchDur, err) })
	}()
}

// Stop ends the session and any pending fetch owned by aff. A nil aff stops
// unconditionally.
func (c *Controller) Stop(aff Affordance) {
	if c.pending != nil && (aff == nil || c.pending.aff == aff) {
		c.cancelPending()
	}
	if c.cur != nil && (aff == nil || c.cur.aff == aff) {
		c.teardown(c.cur, "stopped")
	}
}

// Toggle stops aff's session if it is playing and starts text otherwise.
func (c *Controller) Toggle(text string, aff Affordance) {
	if c.Playing(aff) {
		c.Stop(aff)
		return
	}
	c.Play(text, aff)
}

func (c *Controller) cancelPending() {
	if c.pending == nil {
		return
	}
	c.pending.cancel()
	c.pending = nil
}

func (c *Controller) ready(f *fetch, st decode.Stream, format decode.Format, size int, fetchDur time.Duration, err error) {
	if c.pending != f {
		return
	}
	c.pending = nil
	defer f.cancel()

	fail := func(err error) {
		log.Errorf("playback failed: %v", err)
		f.aff.SetPlaybackState(Idle)
		log.PlaybackMetrics(log.PlaybackData{
			Format:  string(format),
			AudioKB: float64(size) / 1024,
			FetchMs: float64(fetchDur.Milliseconds()),
			Reason:  "error",
		})
	}
	if err != nil {
		fail(err)
		return
	}

	s := &session{
		aff:     f.aff,
		an:      visualizer.NewAnalyser(c.fftSize),
		format:  format,
		rate:    st.SampleRate(),
		chans:   st.Channels(),
		audioKB: float64(size) / 1024,
		fetchMs: float64(fetchDur.Milliseconds()),
	}
	src := func(buf []int16) (int, error) {
		n, err := st.Read(buf)
		if n > 0 {
			s.an.Write(buf[:n], s.chans)
			s.played.Add(int64(n))
		}
		return n, err
	}
	dev, err := c.actx.NewPlayback(audio.PlaybackConfig{
		SampleRate: uint32(s.rate),
		Channels:   uint32(s.chans),
	}, src)
	if err != nil {
		fail(fmt.Errorf("open output: %w", err))
		return
	}
	if err := dev.Start(); err != nil {
		dev.Stop()
		fail(fmt.Errorf("start output: %w", err))
		return
	}
	s.dev = dev
	c.cur = s
	s.aff.SetPlaybackState(Active)
	if c.visual != nil {
		c.visual.Attach(s, s.an)
	}

	go func() {
		<-dev.Done()
		c.lp.Post(func() {
			if c.cur != s {
				return
			}
			s.ended = true
			c.teardown(s, "ended")
		})
	}()
}

// teardown runs synchronously: once it returns the device is stopped, the
// visual is detached and the affordance shows idle.
func (c *Controller) teardown(s *session, reason string) {
	if c.cur == s {
		c.cur = nil
	}
	s.stopped = true
	s.dev.Stop()
	if c.visual != nil {
		c.visual.Detach()
	}
	s.an.Reset()
	s.aff.SetPlaybackState(Idle)

	played := 0.0
	if s.rate > 0 && s.chans > 0 {
		played = float64(s.played.Load()) / float64(s.rate*s.chans)
	}
	log.PlaybackMetrics(log.PlaybackData{
		Format:     string(s.format),
		SampleRate: s.rate,
		Channels:   s.chans,
		AudioKB:    s.audioKB,
		FetchMs:    s.fetchMs,
		PlayedS:    played,
		Reason:     reason,
	})
}
