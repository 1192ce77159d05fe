// Package speech turns microphone audio into text for the input line.
//
// A Capture owns at most one dictation session. Interim transcripts are shown
// as a preview; the first final transcript is written to the input buffer and
// submitted, which ends the session.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"twin/audio"
	"twin/encoder"
	"twin/log"
	"twin/loop"
	"twin/transcriber"
)

// ErrUnavailable means dictation cannot run: no capture device, no
// transcriber, or the device or session failed to open.
var ErrUnavailable = errors.New("dictation unavailable")

type Event struct {
	Text  string
	Final bool
}

// Target receives what a session produces. Called on the loop.
type Target interface {
	SetListening(on bool)
	Preview(text string)
	SetInput(text string)
	Submit()
}

// Cues plays audible feedback. Any method may be a no-op.
type Cues interface {
	Start()
	Stop()
	Warn()
}

type Options struct {
	Device   *audio.DeviceInfo
	Language string
	// SilenceTimeout ends a session that hears no voice for this long.
	// Zero disables the monitor.
	SilenceTimeout time.Duration
	Cues           Cues
}

type Capture struct {
	ctx    context.Context
	lp     *loop.Loop
	actx   audio.Context
	tr     transcriber.Transcriber
	target Target
	opts   Options

	cur *session
	seq uint64
}

type session struct {
	id        uint64
	startedAt time.Time
	dev       audio.CaptureDevice
	ts        transcriber.Session
	ticker    *loop.Ticker
	silence   *silenceMonitor
	peak      atomic.Uint32
	release   func()

	torn      bool
	delivered bool
}

// New returns a Capture. actx or tr may be nil, in which case Start reports
// ErrUnavailable.
func New(ctx context.Context, lp *loop.Loop, actx audio.Context, tr transcriber.Transcriber, target Target, opts Options) *Capture {
	return &Capture{ctx: ctx, lp: lp, actx: actx, tr: tr, target: target, opts: opts}
}

// Available reports whether Start can open a session at all.
func (c *Capture) Available() bool { return c.actx != nil && c.tr != nil }

func (c *Capture) Active() bool { return c.cur != nil }

func (c *Capture) Toggle() {
	if c.cur != nil {
		c.Stop()
		return
	}
	c.Start()
}

// Start opens a session unless one is already active. Failures are logged
// and returned wrapped in ErrUnavailable; the indicator is reset on every
// failure path.
func (c *Capture) Start() error {
	if c.cur != nil {
		return nil
	}
	if !c.Available() {
		log.Warn("dictation unavailable: no audio context or transcriber")
		return ErrUnavailable
	}

	c.seq++
	s := &session{id: c.seq, startedAt: time.Now()}
	s.release = c.indicator()

	ts, err := c.tr.NewSession(c.ctx, transcriber.SessionConfig{Language: c.opts.Language})
	if err != nil {
		s.release()
		log.Errorf("transcriber session: %v", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.ts = ts

	dev, err := c.actx.NewCapture(c.opts.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		c.abandon(s)
		log.Errorf("capture device: %v", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	dev.SetCallback(func(data []byte, _ uint32) {
		ts.Feed(data)
		s.observe(data)
	})
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		c.abandon(s)
		log.Errorf("capture start: %v", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.dev = dev
	c.cur = s

	if c.opts.SilenceTimeout > 0 {
		s.silence = newSilenceMonitor(c.opts.SilenceTimeout)
		s.ticker = c.lp.Every(tickInterval, func() { c.tick(s) })
	}
	go c.read(s)
	if c.opts.Cues != nil {
		c.opts.Cues.Start()
	}
	log.Infof("dictation %d started (%s)", s.id, c.tr.Name())
	return nil
}

// Stop ends the active session; a no-op without one. The transcriber is
// closed in the background and whatever it returns becomes the session's
// final event.
func (c *Capture) Stop() {
	if c.cur == nil {
		return
	}
	c.teardown(c.cur)
}

// indicator switches listening on and returns the matching release, which
// only acts the first time it is called.
func (c *Capture) indicator() func() {
	c.target.SetListening(true)
	released := false
	return func() {
		if released {
			return
		}
		released = true
		c.target.SetListening(false)
	}
}

// abandon drops a session that never reached the device stage.
func (c *Capture) abandon(s *session) {
	s.torn = true
	s.release()
	ts := s.ts
	go ts.Close()
}

func (c *Capture) read(s *session) {
	for u := range s.ts.Updates() {
		ev := Event{Text: u.Text, Final: u.Final}
		c.lp.Post(func() { c.onEvent(s, ev) })
	}
	// the channel only closes early when the provider failed
	c.lp.Post(func() {
		if c.cur == s {
			log.Warn("transcriber updates ended, stopping dictation")
			c.teardown(s)
		}
	})
}

func (c *Capture) onEvent(s *session, ev Event) {
	if s.torn || c.cur != s {
		return
	}
	if !ev.Final {
		if ev.Text != "" {
			c.target.Preview(ev.Text)
		}
		return
	}
	c.deliver(s, ev.Text)
	c.teardown(s)
}

func (c *Capture) deliver(s *session, text string) {
	if s.delivered {
		return
	}
	s.delivered = true
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.target.SetInput(text)
	c.target.Submit()
}

func (c *Capture) teardown(s *session) {
	if s.torn {
		return
	}
	s.torn = true
	if c.cur == s {
		c.cur = nil
	}
	s.ticker.Stop()
	s.dev.Stop()
	s.dev.ClearCallback()
	s.dev.Close()
	c.target.Preview("")
	s.release()
	if c.opts.Cues != nil {
		c.opts.Cues.Stop()
	}

	ts := s.ts
	provider := c.tr.Name()
	go func() {
		res, err := ts.Close()
		c.lp.Post(func() { c.closed(s, provider, res, err) })
	}()
}

func (c *Capture) closed(s *session, provider string, res transcriber.SessionResult, err error) {
	logResult(provider, s, res)
	if err != nil {
		log.Errorf("transcription failed: %v", err)
		return
	}
	if res.HasText {
		c.deliver(s, res.Text)
	}
}

func (c *Capture) tick(s *session) {
	if s.torn {
		return
	}
	heard := s.peak.Swap(0) >= speechRMS
	switch s.silence.Tick(heard) {
	case SilenceWarn:
		log.Warn("no voice detected")
		if c.opts.Cues != nil {
			c.opts.Cues.Warn()
		}
	case SilenceWarnClear:
		log.Info("voice resumed")
	case SilenceAutoStop:
		log.Infof("dictation %d stopped after %s of silence", s.id, c.opts.SilenceTimeout)
		c.teardown(s)
	}
}

// observe runs on the audio thread.
func (s *session) observe(pcm []byte) {
	level := rms(pcm)
	for {
		cur := s.peak.Load()
		if level <= cur || s.peak.CompareAndSwap(cur, level) {
			return
		}
	}
}

func logResult(provider string, s *session, r transcriber.SessionResult) {
	if b := r.Batch; b != nil {
		log.TranscriptionMetrics(log.TranscriptionData{
			Provider:     provider,
			AudioLengthS: b.AudioLengthS,
			RawSizeKB:    b.RawSizeKB,
			UploadKB:     b.CompressedSizeKB,
			EncodeTimeMs: b.EncodeTimeMs,
			TTFBMs:       b.TTFBMs,
			TotalTimeMs:  b.TotalTimeMs,
			ConnReused:   b.ConnReused,
		})
	}
	if st := r.Stream; st != nil {
		log.StreamMetrics(log.StreamMetricsData{
			ConnectMs:    st.ConnectMs,
			FinalizeMs:   st.FinalizeMs,
			TotalMs:      st.TotalMs,
			AudioS:       st.AudioS,
			SentChunks:   st.SentChunks,
			SentKB:       st.SentKB,
			RecvMessages: st.RecvMessages,
			RecvFinal:    st.RecvFinal,
		})
	}
	for _, line := range r.Metrics {
		log.Info(line)
	}
	log.Infof("dictation %d closed after %s (rate limit %s, mem %.1f MB)",
		s.id, time.Since(s.startedAt).Round(time.Millisecond), r.RateLimit, r.MemoryAllocMB)
}
