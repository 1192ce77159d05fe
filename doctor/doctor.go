// Package doctor runs the -doctor diagnostics: it checks the configuration,
// the agent server, the audio devices, speech-to-text and the clipboard, and
// prints one verdict per check.
package doctor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"twin/audio"
	"twin/chat"
	"twin/clipboard"
	"twin/config"
	"twin/cue"
	"twin/encoder"
	"twin/transcriber"
)

type verdict int

const (
	pass verdict = iota
	warn
	fail
)

func (v verdict) String() string {
	switch v {
	case warn:
		return "WARN"
	case fail:
		return "FAIL"
	}
	return "PASS"
}

type Options struct {
	Config *config.Config
	// Audio is nil when the backend could not be opened; AudioErr says why.
	Audio    audio.Context
	AudioErr error
	// Transcriber overrides the one built from Config.
	Transcriber transcriber.Transcriber
	// Record is how long to capture for the transcription check. Zero skips
	// the capture and only checks the provider setup.
	Record time.Duration
	// SkipClipboard leaves the clipboard check out, for headless runs.
	SkipClipboard bool
}

type check struct {
	name string
	run  func(ctx context.Context, out io.Writer) (verdict, string)
}

// Run executes every check and returns the process exit code: 0 when
// nothing failed, 1 otherwise. Warnings do not fail the run.
func Run(ctx context.Context, out io.Writer, opts Options) int {
	d := &doctor{opts: opts}
	checks := []check{
		{"Configuration", d.checkConfig},
		{"Agent server", d.checkServer},
		{"Audio devices", d.checkDevices},
		{"Audio output", d.checkOutput},
		{"Speech-to-text", d.checkSpeech},
	}
	if !opts.SkipClipboard {
		checks = append(checks, check{"Clipboard", d.checkClipboard})
	}

	fmt.Fprintln(out, "twin doctor")
	fmt.Fprintln(out, "===========")

	failed := 0
	for i, c := range checks {
		fmt.Fprintf(out, "\n[%d/%d] %s\n", i+1, len(checks), c.name)
		v, msg := c.run(ctx, out)
		fmt.Fprintf(out, "  %s: %s\n", v, msg)
		if v == fail {
			failed++
		}
	}

	fmt.Fprintln(out)
	if failed > 0 {
		fmt.Fprintf(out, "%d of %d checks failed.\n", failed, len(checks))
		return 1
	}
	fmt.Fprintln(out, "All checks passed!")
	return 0
}

type doctor struct {
	opts Options
}

func (d *doctor) checkConfig(context.Context, io.Writer) (verdict, string) {
	cfg := d.opts.Config
	if err := cfg.Validate(); err != nil {
		return fail, err.Error()
	}
	return pass, fmt.Sprintf("server %s, mode %s, level %d", cfg.ServerURL, cfg.Mode, cfg.Level)
}

func (d *doctor) checkServer(ctx context.Context, _ io.Writer) (verdict, string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	metrics, code, err := chat.NewClient(d.opts.Config.ServerURL).Ping(ctx)
	if err != nil {
		return fail, fmt.Sprintf("%s unreachable: %v", d.opts.Config.ServerURL, err)
	}
	return pass, fmt.Sprintf("HTTP %d in %dms", code, metrics.Total.Milliseconds())
}

func (d *doctor) checkDevices(_ context.Context, out io.Writer) (verdict, string) {
	actx := d.opts.Audio
	if actx == nil {
		return fail, fmt.Sprintf("cannot open audio: %v", d.opts.AudioErr)
	}
	devices, err := actx.Devices()
	if err != nil {
		return fail, fmt.Sprintf("cannot list devices: %v", err)
	}
	if len(devices) == 0 {
		return fail, "no capture devices found"
	}
	headset := false
	for _, dev := range devices {
		tag := ""
		if audio.IsBluetooth(dev.Name) {
			tag = " [headset profile]"
			headset = true
		}
		fmt.Fprintf(out, "  - %s%s\n", dev.Name, tag)
	}
	if name := d.opts.Config.Device; name != "" {
		dev, err := audio.FindDevice(actx, name)
		if err != nil {
			return fail, err.Error()
		}
		if audio.IsBluetooth(dev.Name) {
			return warn, fmt.Sprintf("%s is a headset microphone, transcription quality suffers", dev.Name)
		}
		return pass, "using " + dev.Name
	}
	if headset {
		return warn, fmt.Sprintf("%d devices, some are headset microphones", len(devices))
	}
	return pass, fmt.Sprintf("%d devices", len(devices))
}

func (d *doctor) checkOutput(ctx context.Context, _ io.Writer) (verdict, string) {
	actx := d.opts.Audio
	if actx == nil {
		return fail, "no audio backend"
	}
	samples := cue.Tick(44100, 1000, 0.15, 0.4, 40)
	dev, err := actx.NewPlayback(audio.PlaybackConfig{SampleRate: 44100, Channels: 2}, cue.Source(samples))
	if err != nil {
		return fail, fmt.Sprintf("cannot open output: %v", err)
	}
	if err := dev.Start(); err != nil {
		dev.Stop()
		return fail, fmt.Sprintf("cannot start output: %v", err)
	}
	select {
	case <-dev.Done():
	case <-time.After(2 * time.Second):
		dev.Stop()
		return fail, "output did not drain"
	case <-ctx.Done():
		dev.Stop()
		return fail, ctx.Err().Error()
	}
	if !d.opts.Config.Cues {
		return warn, "played a test tick, but dictation cues are disabled"
	}
	return pass, "played a test tick"
}

func (d *doctor) checkSpeech(ctx context.Context, out io.Writer) (verdict, string) {
	cfg := d.opts.Config
	tr := d.opts.Transcriber
	if tr == nil {
		provider := cfg.ResolveProvider()
		if provider == config.ProviderNone {
			return warn, "no provider configured, dictation is disabled"
		}
		var err error
		tr, err = transcriber.New(provider, cfg.APIKey(provider))
		if err != nil {
			return fail, err.Error()
		}
	}
	if d.opts.Record <= 0 || d.opts.Audio == nil {
		return pass, tr.Name() + " configured"
	}

	var dev *audio.DeviceInfo
	if cfg.Device != "" {
		var err error
		if dev, err = audio.FindDevice(d.opts.Audio, cfg.Device); err != nil {
			return fail, err.Error()
		}
	}
	fmt.Fprintf(out, "  Speak for %.1fs...\n", d.opts.Record.Seconds())
	pcm, err := record(ctx, d.opts.Audio, dev, d.opts.Record)
	if err != nil {
		return fail, fmt.Sprintf("recording error: %v", err)
	}
	if len(pcm) == 0 {
		return fail, "no audio captured"
	}
	fmt.Fprintf(out, "  Recorded %.1f KB, transcribing with %s...\n", float64(len(pcm))/1024, tr.Name())

	sess, err := tr.NewSession(ctx, transcriber.SessionConfig{Language: cfg.Language})
	if err != nil {
		return fail, fmt.Sprintf("session error: %v", err)
	}
	sess.Feed(pcm)
	res, err := sess.Close()
	if err != nil {
		return fail, fmt.Sprintf("transcription error: %v", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return warn, "no speech detected"
	}
	return pass, fmt.Sprintf("heard %q", text)
}

// record captures d of 16 kHz mono PCM from dev, the default device when nil.
func record(ctx context.Context, actx audio.Context, dev *audio.DeviceInfo, d time.Duration) ([]byte, error) {
	var (
		mu      sync.Mutex
		pcm     []byte
		stopped bool
	)
	capture, err := actx.NewCapture(dev, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, err
	}
	capture.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			pcm = append(pcm, data...)
		}
	})
	if err := capture.Start(); err != nil {
		capture.Close()
		return nil, err
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
	capture.Stop()
	capture.ClearCallback()
	capture.Close()

	mu.Lock()
	defer mu.Unlock()
	stopped = true
	return pcm, ctx.Err()
}

// checkClipboard only reads, so the user's clipboard is left alone.
func (d *doctor) checkClipboard(context.Context, io.Writer) (verdict, string) {
	if _, err := clipboard.Read(); err != nil {
		return warn, fmt.Sprintf("system clipboard unavailable (%v), copies fall back to OSC 52", err)
	}
	return pass, "system clipboard readable"
}
