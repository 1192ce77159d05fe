package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twin/audio"
	"twin/decode"
	"twin/loop"
	"twin/visualizer"
)

type button struct {
	name   string
	states []State
}

func (b *button) SetPlaybackState(s State) { b.states = append(b.states, s) }

func (b *button) last() State {
	if len(b.states) == 0 {
		return Idle
	}
	return b.states[len(b.states)-1]
}

type fakeSynth struct {
	mu     sync.Mutex
	audio  []byte
	err    error
	block  chan struct{} // when set, Synthesize waits for it or ctx
	texts  []string
	cancel int
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			f.mu.Lock()
			f.cancel++
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	return f.audio, f.err
}

type fakeVisual struct {
	attached, detached int
	src                visualizer.Source
}

func (v *fakeVisual) Attach(src visualizer.Source, _ visualizer.Analyser) {
	v.attached++
	v.src = src
}
func (v *fakeVisual) Detach() { v.detached++ }

// trackingContext records how many playback devices are live at once.
type trackingContext struct {
	*audio.FakeContext
	mu      sync.Mutex
	live    int
	maxLive int
}

type trackedDevice struct {
	audio.PlaybackDevice
	ctx  *trackingContext
	once sync.Once
}

func (t *trackingContext) NewPlayback(cfg audio.PlaybackConfig, src audio.PCMSource) (audio.PlaybackDevice, error) {
	dev, err := t.FakeContext.NewPlayback(cfg, src)
	if err != nil {
		return nil, err
	}
	td := &trackedDevice{PlaybackDevice: dev, ctx: t}
	go func() {
		<-dev.Done()
		td.release()
	}()
	return td, nil
}

func (d *trackedDevice) Start() error {
	d.ctx.mu.Lock()
	d.ctx.live++
	d.ctx.maxLive = max(d.ctx.maxLive, d.ctx.live)
	d.ctx.mu.Unlock()
	return d.PlaybackDevice.Start()
}

func (d *trackedDevice) Stop() {
	d.PlaybackDevice.Stop()
	d.release()
}

func (d *trackedDevice) release() {
	d.once.Do(func() {
		d.ctx.mu.Lock()
		d.ctx.live--
		d.ctx.mu.Unlock()
	})
}

func wav(seconds float64) []byte {
	const rate = 22050
	n := int(seconds * rate)
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(6000 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	return decode.EncodeWAV(pcm, rate, 1)
}

func run(t *testing.T) *loop.Loop {
	t.Helper()
	lp := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go lp.Run(ctx)
	t.Cleanup(cancel)
	return lp
}

func states(lp *loop.Loop, b *button) []State {
	var out []State
	lp.Sync(func() { out = append(out, b.states...) })
	return out
}

func TestPlayRunsToEnd(t *testing.T) {
	lp := run(t)
	fake := audio.NewFakeContext(nil, false)
	vis := &fakeVisual{}
	c := New(context.Background(), lp, fake, &fakeSynth{audio: wav(0.2)}, vis, 0)
	b := &button{name: "a"}

	lp.Sync(func() { c.Play("hello", b) })
	require.Eventually(t, func() bool {
		s := states(lp, b)
		return len(s) == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{Idle, Active, Idle}, states(lp, b))
	var active bool
	var attached, detached int
	var ended bool
	lp.Sync(func() {
		active = c.Active()
		attached, detached = vis.attached, vis.detached
		ended = vis.src.Ended()
	})
	assert.False(t, active)
	assert.Equal(t, 1, attached)
	assert.Equal(t, 1, detached)
	assert.True(t, ended)
	assert.Equal(t, int(0.2*22050), fake.Played())
}

func TestDoublePlayKeepsOneStream(t *testing.T) {
	lp := run(t)
	tc := &trackingContext{FakeContext: audio.NewFakeContext(nil, true)}
	c := New(context.Background(), lp, tc, &fakeSynth{audio: wav(5)}, nil, 0)
	a, b := &button{name: "a"}, &button{name: "b"}

	lp.Sync(func() { c.Play("first", a) })
	require.Eventually(t, func() bool {
		var playing bool
		lp.Sync(func() { playing = c.Playing(a) })
		return playing
	}, 2*time.Second, 5*time.Millisecond)

	lp.Sync(func() {
		c.Play("second", b)
		// the first session is gone before the second exists
		assert.Equal(t, Idle, a.last())
		assert.False(t, c.Active())
	})
	require.Eventually(t, func() bool {
		var playing bool
		lp.Sync(func() { playing = c.Playing(b) })
		return playing
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{Idle, Active, Idle}, states(lp, a))
	lp.Sync(func() { c.Stop(nil) })
	tc.mu.Lock()
	defer tc.mu.Unlock()
	assert.Equal(t, 1, tc.maxLive)
	assert.Equal(t, 2, tc.Opened())
}

func TestSupersededFetchIsCancelled(t *testing.T) {
	lp := run(t)
	fake := audio.NewFakeContext(nil, false)
	synth := &fakeSynth{audio: wav(0.1), block: make(chan struct{})}
	c := New(context.Background(), lp, fake, synth, nil, 0)
	a, b := &button{name: "a"}, &button{name: "b"}

	lp.Sync(func() {
		c.Play("first", a)
		c.Play("second", b)
	})
	require.Eventually(t, func() bool {
		synth.mu.Lock()
		defer synth.mu.Unlock()
		return synth.cancel == 1
	}, 2*time.Second, 5*time.Millisecond)

	close(synth.block)
	require.Eventually(t, func() bool {
		return len(states(lp, b)) == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{Idle}, states(lp, a))
	assert.Equal(t, 1, fake.Opened())
}

func TestStopCancelsPendingForOwner(t *testing.T) {
	lp := run(t)
	synth := &fakeSynth{audio: wav(0.1), block: make(chan struct{})}
	c := New(context.Background(), lp, audio.NewFakeContext(nil, false), synth, nil, 0)
	a, other := &button{name: "a"}, &button{name: "other"}

	lp.Sync(func() {
		c.Play("first", a)
		c.Stop(other)
		assert.True(t, c.Pending())
		c.Stop(a)
		assert.False(t, c.Pending())
	})
	close(synth.block)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []State{Idle}, states(lp, a))
}

func TestSynthesisFailureRevertsToIdle(t *testing.T) {
	lp := run(t)
	fake := audio.NewFakeContext(nil, false)
	c := New(context.Background(), lp, fake, &fakeSynth{err: errors.New("503")}, nil, 0)
	b := &button{}

	lp.Sync(func() { c.Play("x", b) })
	require.Eventually(t, func() bool {
		var pending bool
		lp.Sync(func() { pending = c.Pending() })
		return !pending
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{Idle, Idle}, states(lp, b))
	assert.Zero(t, fake.Opened())
}

func TestUndecodableAudioRevertsToIdle(t *testing.T) {
	lp := run(t)
	fake := audio.NewFakeContext(nil, false)
	c := New(context.Background(), lp, fake, &fakeSynth{audio: []byte("<html>oops</html>")}, nil, 0)
	b := &button{}

	lp.Sync(func() { c.Play("x", b) })
	require.Eventually(t, func() bool { return len(states(lp, b)) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Idle, states(lp, b)[1])
	assert.Zero(t, fake.Opened())
}

func TestToggleStopsOwnSession(t *testing.T) {
	lp := run(t)
	c := New(context.Background(), lp, audio.NewFakeContext(nil, true), &fakeSynth{audio: wav(5)}, nil, 0)
	b := &button{}

	lp.Sync(func() { c.Toggle("x", b) })
	require.Eventually(t, func() bool {
		var playing bool
		lp.Sync(func() { playing = c.Playing(b) })
		return playing
	}, 2*time.Second, 5*time.Millisecond)

	lp.Sync(func() {
		c.Toggle("x", b)
		assert.False(t, c.Active())
	})
	assert.Equal(t, []State{Idle, Active, Idle}, states(lp, b))
}
