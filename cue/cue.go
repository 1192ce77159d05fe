// Package cue plays the short ticks that mark dictation start and stop.
package cue

import (
	"math"
	"sync"

	"twin/audio"
	"twin/log"
)

const (
	sampleRate = 44100

	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	warnFreq   = 350
	warnVolume = 0.6
	warnDecay  = 30
)

// Player renders cues through an audio context. A nil or disabled Player is
// silent.
type Player struct {
	actx     audio.Context
	disabled bool

	once  sync.Once
	start []int16
	end   []int16
	warn  []int16
}

func New(actx audio.Context, enabled bool) *Player {
	return &Player{actx: actx, disabled: !enabled || actx == nil}
}

func (p *Player) init() {
	// 200ms tails let the output buffer fill before the stream drains
	p.start = Tick(sampleRate, startFreq, 0.2, startVolume, startDecay)
	p.end = Tick(sampleRate, endFreq, 0.2, endVolume, endDecay)
	p.warn = DoubleBeep(sampleRate, warnFreq, 0.08, 0.05, warnVolume, warnDecay)
}

func (p *Player) Start() { p.play(func() []int16 { return p.start }) }
func (p *Player) Stop()  { p.play(func() []int16 { return p.end }) }
func (p *Player) Warn()  { p.play(func() []int16 { return p.warn }) }

func (p *Player) play(pick func() []int16) {
	if p == nil || p.disabled {
		return
	}
	p.once.Do(p.init)
	samples := pick()
	dev, err := p.actx.NewPlayback(audio.PlaybackConfig{SampleRate: sampleRate, Channels: 2}, Source(samples))
	if err != nil {
		log.Warnf("cue playback: %v", err)
		return
	}
	if err := dev.Start(); err != nil {
		log.Warnf("cue start: %v", err)
		dev.Stop()
	}
}

// Source returns a PCMSource over fixed samples.
func Source(samples []int16) audio.PCMSource {
	pos := 0
	return func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, audio.ErrEndOfStream
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	}
}

// Tick is a decaying sine, interleaved stereo.
func Tick(rate int, freq, duration, volume, decay float64) []int16 {
	n := int(float64(rate) * duration)
	samples := make([]int16, n*2)
	for i := range n {
		t := float64(i) / float64(rate)
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * math.Exp(-t*decay))
		samples[i*2] = s
		samples[i*2+1] = s
	}
	return samples
}

func DoubleBeep(rate int, freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := Tick(rate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(rate)*gapDur)*2)
	out := make([]int16, 0, len(beep)*2+len(gap))
	out = append(out, beep...)
	out = append(out, gap...)
	return append(out, beep...)
}
