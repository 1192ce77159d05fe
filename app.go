package main

import (
	"context"
	"fmt"

	"twin/audio"
	"twin/chat"
	"twin/clipboard"
	"twin/config"
	"twin/cue"
	"twin/log"
	"twin/loop"
	"twin/playback"
	"twin/session"
	"twin/speech"
	"twin/transcriber"
	"twin/visualizer"
)

type appOptions struct {
	cfg   *config.Config
	audio audio.Context // nil disables dictation and playback
	tr    transcriber.Transcriber
	sink  session.Sink
	// canvas receives the playback spectrum; nil runs without one.
	canvas *visualizer.Canvas
	// onInput sees every dictated write to the input buffer.
	onInput func(text string)
}

// app is the set of controllers sharing one loop. Everything but the loop
// itself is touched only from loop closures.
type app struct {
	ctx    context.Context
	lp     *loop.Loop
	client *chat.Client
	ctl    *session.Controller
	player *playback.Controller
	visual *visualizer.Visualizer
	speech *speech.Capture
	sink   session.Sink
}

func newApp(ctx context.Context, o appOptions) (*app, error) {
	cfg := o.cfg
	mode, err := chat.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	a := &app{
		ctx:    ctx,
		lp:     loop.New(),
		client: chat.NewClient(cfg.ServerURL),
		sink:   o.sink,
	}

	var visual playback.Visual
	if o.canvas != nil {
		a.visual = visualizer.New(a.lp, o.canvas, cfg.FFTSize/2)
		visual = a.visual
	}
	a.player = playback.New(ctx, a.lp, o.audio, a.client, visual, cfg.FFTSize)
	a.ctl = session.New(ctx, a.lp, a.client, a.player, o.sink, session.Options{
		Mode:           mode,
		Level:          chat.Level(cfg.Level),
		StatusInterval: cfg.StatusInterval.Duration,
		DiscardStale:   cfg.DiscardStale,
		ReportDir:      cfg.ReportDir,
	})

	var dev *audio.DeviceInfo
	if cfg.Device != "" && o.audio != nil {
		if dev, err = audio.FindDevice(o.audio, cfg.Device); err != nil {
			log.Warnf("%v, using the default microphone", err)
		}
	}
	target := &dictation{ctl: a.ctl, onInput: o.onInput}
	a.speech = speech.New(ctx, a.lp, o.audio, o.tr, target, speech.Options{
		Device:         dev,
		Language:       cfg.Language,
		SilenceTimeout: cfg.SilenceTimeout.Duration,
		Cues:           cue.New(o.audio, cfg.Cues),
	})
	return a, nil
}

// start runs the loop and preconnects to the server.
func (a *app) start() {
	go a.lp.Run(a.ctx)
	go a.client.Warm()
}

// close tears the session down if the loop is still running.
func (a *app) close() {
	a.lp.Sync(func() {
		a.speech.Stop()
		a.ctl.Close()
	})
	a.lp.Close()
}

func (a *app) notice(text string) {
	if a.sink != nil {
		a.sink.Notice(text)
	}
}

// copyLatest puts the newest reply on the clipboard. Runs on the loop.
func (a *app) copyLatest() {
	text := a.ctl.LatestReply()
	if text == "" {
		a.notice("Nothing to copy yet")
		return
	}
	go func() {
		method, err := clipboard.Copy(text)
		msg := "Copied reply to clipboard"
		switch {
		case err != nil:
			log.Warnf("clipboard copy: %v", err)
			msg = fmt.Sprintf("Copy failed: %v", err)
		case method == clipboard.Sequence:
			msg = "Copied reply via terminal (OSC 52)"
		}
		a.lp.Post(func() { a.notice(msg) })
	}()
}

// dictation is the speech target. It forwards to the controller and lets
// the view mirror dictated text into its input line.
type dictation struct {
	ctl     *session.Controller
	onInput func(string)
}

func (d *dictation) SetListening(on bool) { d.ctl.SetListening(on) }
func (d *dictation) Preview(text string)  { d.ctl.Preview(text) }

func (d *dictation) SetInput(text string) {
	d.ctl.SetInput(text)
	d.mirror(text)
}

func (d *dictation) Submit() {
	d.ctl.Submit()
	d.mirror(d.ctl.Input())
}

func (d *dictation) mirror(text string) {
	if d.onInput != nil {
		d.onInput(text)
	}
}
