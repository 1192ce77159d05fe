// Package session runs the conversation: it owns the transcript, the input
// buffer, request cycles against the chat endpoint, the security alert flag
// and the playback controls attached to replies.
//
// Every method runs on the loop goroutine. Chat calls run in their own
// goroutines and post their result back.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"twin/chat"
	"twin/log"
	"twin/loop"
	"twin/playback"
	"twin/status"
	"twin/traced"
)

// ConnectionLost is the system message shown when a chat call fails.
const ConnectionLost = "CONNECTION LOST: SERVER UNREACHABLE"

type Chat interface {
	Send(ctx context.Context, req chat.Request) (chat.Reply, *traced.Metrics, error)
	Report(ctx context.Context, history []chat.HistoryEntry) ([]byte, error)
}

// Player is the playback side. *playback.Controller implements it.
type Player interface {
	Play(text string, aff playback.Affordance)
	Stop(aff playback.Affordance)
	Playing(aff playback.Affordance) bool
}

// Snapshot is everything a view needs to draw the session.
type Snapshot struct {
	Entries   []Entry
	Input     string
	Preview   string
	Listening bool
	Alert     bool
	Mode      chat.Mode
	Level     chat.Level
	InFlight  int
}

// Sink receives snapshots after state changes, coalesced per loop turn, and
// one-off notices that never enter the transcript.
type Sink interface {
	Render(Snapshot)
	Notice(text string)
}

type Options struct {
	Mode           chat.Mode
	Level          chat.Level
	StatusInterval time.Duration
	Captions       []string
	// DiscardStale drops replies older than the newest applied reply.
	DiscardStale bool
	ReportDir    string
}

// Cycle is the snapshot taken when a message is submitted.
type Cycle struct {
	ID        string
	Seq       uint64
	Mode      chat.Mode
	Level     chat.Level
	StartedAt time.Time
}

type Controller struct {
	ctx    context.Context
	lp     *loop.Loop
	chat   Chat
	player Player
	sink   Sink
	opts   Options

	t         *transcript
	input     string
	preview   string
	listening bool
	alert     bool
	mode      chat.Mode
	level     chat.Level

	presenter *status.Presenter
	seq       uint64
	applied   uint64
	inFlight  int

	dirty bool
	now   func() time.Time
}

func New(ctx context.Context, lp *loop.Loop, c Chat, player Player, sink Sink, opts Options) *Controller {
	if opts.Mode == "" {
		opts.Mode = chat.ModeHR
	}
	if !opts.Level.Valid() {
		opts.Level = chat.DefaultLevel
	}
	if opts.ReportDir == "" {
		opts.ReportDir = "."
	}
	ctl := &Controller{
		ctx:    ctx,
		lp:     lp,
		chat:   c,
		player: player,
		sink:   sink,
		opts:   opts,
		mode:   opts.Mode,
		level:  opts.Level,
		now:    time.Now,
	}
	ctl.t = newTranscript(ctl.changed)
	return ctl
}

func (c *Controller) changed() {
	if c.dirty || c.sink == nil {
		return
	}
	c.dirty = true
	c.lp.Post(c.flush)
}

func (c *Controller) flush() {
	c.dirty = false
	c.sink.Render(c.Snapshot())
}

func (c *Controller) notice(text string) {
	log.Info(text)
	if c.sink != nil {
		c.sink.Notice(text)
	}
}

func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Entries:   c.t.snapshot(),
		Input:     c.input,
		Preview:   c.preview,
		Listening: c.listening,
		Alert:     c.alert,
		Mode:      c.mode,
		Level:     c.level,
		InFlight:  c.inFlight,
	}
}

// Messages returns the transcript without placeholders.
func (c *Controller) Messages() []Message { return c.t.messages() }

func (c *Controller) Alert() bool       { return c.alert }
func (c *Controller) Input() string     { return c.input }
func (c *Controller) Mode() chat.Mode   { return c.mode }
func (c *Controller) Level() chat.Level { return c.level }
func (c *Controller) InFlight() int     { return c.inFlight }
func (c *Controller) Thinking() bool    { return c.presenter != nil && c.presenter.Active() }
func (c *Controller) ThinkingCaption() string {
	if c.presenter == nil {
		return ""
	}
	return c.presenter.Caption()
}

// SetInput replaces the input buffer. Typing and dictation both write here;
// the last write wins.
func (c *Controller) SetInput(text string) {
	if c.input == text {
		return
	}
	c.input = text
	c.changed()
}

func (c *Controller) SetListening(on bool) {
	c.listening = on
	if !on {
		c.preview = ""
	}
	c.changed()
}

func (c *Controller) Preview(text string) {
	c.preview = text
	c.changed()
}

func (c *Controller) SetMode(m chat.Mode) {
	c.mode = m
	c.changed()
}

func (c *Controller) ToggleMode() { c.SetMode(c.mode.Toggle()) }

func (c *Controller) SetLevel(l chat.Level) {
	if !l.Valid() {
		log.Warnf("ignoring invalid level %d", int(l))
		return
	}
	c.level = l
	c.changed()
}

func (c *Controller) CycleLevel() { c.SetLevel(c.level.Next()) }

// Submit sends the input buffer. The buffer is read and cleared in the same
// loop turn; whitespace-only input is ignored. A submit while another cycle
// is in flight supersedes that cycle's thinking placeholder but not its
// request.
func (c *Controller) Submit() {
	text := strings.TrimSpace(c.input)
	if text == "" {
		return
	}
	c.input = ""
	c.preview = ""
	c.t.appendMessage(RoleUser, text)

	c.seq++
	cyc := Cycle{
		ID:        uuid.NewString(),
		Seq:       c.seq,
		Mode:      c.mode,
		Level:     c.level,
		StartedAt: c.now(),
	}

	c.presenter.Stop()
	p := status.New(c.lp, c.t, c.opts.Captions, c.opts.StatusInterval)
	c.presenter = p
	p.Start()
	c.inFlight++
	c.changed()

	req := chat.Request{Message: text, Mode: cyc.Mode, Seniority: cyc.Level}
	go func() {
		reply, metrics, err := c.chat.Send(c.ctx, req)
		c.lp.Post(func() { c.resolve(cyc, p, reply, metrics, err) })
	}()
}

func (c *Controller) resolve(cyc Cycle, p *status.Presenter, reply chat.Reply, metrics *traced.Metrics, err error) {
	c.inFlight--
	p.Stop()
	if c.presenter == p {
		c.presenter = nil
	}

	data := log.CycleData{
		ID:        cyc.ID,
		Seq:       cyc.Seq,
		Mode:      string(cyc.Mode),
		Level:     int(cyc.Level),
		Stale:     cyc.Seq < c.applied,
		LatencyMs: float64(c.now().Sub(cyc.StartedAt).Milliseconds()),
	}
	if metrics != nil {
		data.TTFBMs = float64(metrics.TTFB.Milliseconds())
		data.ConnReuse = metrics.ConnReused
	}
	defer func() { log.CycleMetrics(data) }()

	if data.Stale && c.opts.DiscardStale {
		data.Outcome = "discarded"
		c.changed()
		return
	}
	c.applied = max(c.applied, cyc.Seq)

	if err != nil {
		data.Outcome = "failure"
		log.Errorf("chat cycle %d: %v", cyc.Seq, err)
		c.t.appendMessage(RoleSystem, ConnectionLost)
		return
	}

	kind := chat.Classify(reply.Response)
	data.Outcome = "success"
	data.Kind = kind.String()
	c.setAlert(chat.NextAlert(c.alert, kind))

	e := c.t.appendMessage(RoleAssistant, chat.Substitute(reply.Response))
	e.takeover = kind == chat.KindSecurityAlert
	e.speakable = chat.Speakable(reply.Response)
}

func (c *Controller) setAlert(on bool) {
	if c.alert == on {
		return
	}
	c.alert = on
	if on {
		log.Warn("security alert raised")
	} else {
		log.Info("security alert cleared")
	}
	c.changed()
}

// TogglePlayback starts or stops speech for one assistant entry.
func (c *Controller) TogglePlayback(id int) {
	e := c.t.find(id)
	if e == nil || e.msg == nil || e.speakable == "" {
		return
	}
	if c.player.Playing(e) {
		c.player.Stop(e)
		return
	}
	c.player.Play(e.speakable, e)
}

// PlayLatest toggles playback of the newest reply.
func (c *Controller) PlayLatest() {
	if e := c.t.latestPlayable(); e != nil {
		c.TogglePlayback(e.id)
	}
}

func (c *Controller) StopPlayback() { c.player.Stop(nil) }

// LatestReply is the speakable text of the newest reply, for copying.
func (c *Controller) LatestReply() string {
	if e := c.t.latestPlayable(); e != nil {
		return e.speakable
	}
	return ""
}

// Close tears down presentation state. In-flight requests are abandoned.
func (c *Controller) Close() {
	c.presenter.Stop()
	c.presenter = nil
	if c.player != nil {
		c.player.Stop(nil)
	}
	log.SessionEnd(len(c.t.messages()))
}
