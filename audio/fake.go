package audio

import (
	"os"
	"sync"
	"time"

	"twin/encoder"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays fixed PCM as microphone input and swallows playback.
// With realtime set both directions are paced at the nominal sample rate;
// otherwise capture is fed at once and playback runs about 1ms per block.
type FakeContext struct {
	pcm      []byte
	realtime bool

	mu     sync.Mutex
	played int
	opened int
}

func NewFakeContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

// LoadFakeContext reads capture audio from a 16 kHz mono WAV file.
func LoadFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContext(data, realtime), nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FakeCapture{pcm: f.pcm, realtime: f.realtime, audioDone: make(chan struct{})}, nil
}

func (f *FakeContext) NewPlayback(config PlaybackConfig, src PCMSource) (PlaybackDevice, error) {
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	return &FakePlayback{ctx: f, config: config, src: src, stop: make(chan struct{}), done: make(chan struct{})}, nil
}

// Played is the number of samples consumed by all fake playback devices.
func (f *FakeContext) Played() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.played
}

// Opened counts playback devices created.
func (f *FakeContext) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed after the last recorded chunk has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

// Start feeds the recording followed by silence until Stop.
func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	interval := time.Millisecond
	if f.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(encoder.SampleRate)
	}

	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		finished := false
		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			if cb := f.callback(); cb != nil {
				if pos < len(f.pcm) {
					pos = f.feedChunk(cb, pos, chunkBytes)
					if !f.realtime {
						continue
					}
				} else {
					if !finished {
						finished = true
						close(f.audioDone)
					}
					cb(silence, fakeFrameSize)
				}
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
	f.audioDone = make(chan struct{}) // reset for replay
}

func (f *FakeCapture) Close() { f.Stop() }

type FakePlayback struct {
	ctx    *FakeContext
	config PlaybackConfig
	src    PCMSource

	stop     chan struct{}
	stopOnce sync.Once
	started  bool
	done     chan struct{}
}

func (p *FakePlayback) Start() error {
	p.started = true
	channels := max(int(p.config.Channels), 1)
	rate := max(int(p.config.SampleRate), 1)
	block := fakeFrameSize * channels
	interval := time.Millisecond
	if p.ctx.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(rate)
	}

	go func() {
		defer close(p.done)
		buf := make([]int16, block)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-t.C:
			}
			n, err := p.src(buf)
			p.ctx.mu.Lock()
			p.ctx.played += n
			p.ctx.mu.Unlock()
			if err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *FakePlayback) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if !p.started {
			close(p.done)
		}
	})
	<-p.done
}

func (p *FakePlayback) Done() <-chan struct{} { return p.done }
