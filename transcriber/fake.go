package transcriber

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FakeTranscriber emits a scripted utterance. In streaming mode it sends the
// first word as an interim update and then the whole text as final once
// audio has been fed; otherwise it behaves like a batch provider and returns
// the text from Close.
type FakeTranscriber struct {
	Text      string
	Err       error
	Streaming bool
	// Delay before the final update in streaming mode.
	Delay time.Duration

	mu       sync.Mutex
	sessions int
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{Text: text, Err: err, Streaming: true, Delay: 10 * time.Millisecond}
}

func (f *FakeTranscriber) Name() string { return "fake" }

// Sessions counts sessions opened so far.
func (f *FakeTranscriber) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

func (f *FakeTranscriber) NewSession(_ context.Context, _ SessionConfig) (Session, error) {
	f.mu.Lock()
	f.sessions++
	f.mu.Unlock()
	s := &fakeSession{
		text:    f.Text,
		err:     f.Err,
		updates: make(chan Update, 4),
		fed:     make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if f.Streaming && f.Err == nil && f.Text != "" {
		go s.stream(f.Delay)
	} else {
		close(s.done)
	}
	return s, nil
}

type fakeSession struct {
	text    string
	err     error
	updates chan Update

	fedOnce  sync.Once
	fed      chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	closed   sync.Once
}

func (s *fakeSession) stream(delay time.Duration) {
	defer close(s.done)
	select {
	case <-s.fed:
	case <-s.stop:
		return
	}
	if first, _, ok := strings.Cut(s.text, " "); ok {
		s.updates <- Update{Text: first}
	}
	select {
	case <-time.After(delay):
	case <-s.stop:
		return
	}
	s.updates <- Update{Text: s.text, Final: true}
}

func (s *fakeSession) Feed(pcm []byte) {
	if len(pcm) > 0 {
		s.fedOnce.Do(func() { close(s.fed) })
	}
}

func (s *fakeSession) Updates() <-chan Update { return s.updates }

func (s *fakeSession) Close() (SessionResult, error) {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	s.closed.Do(func() { close(s.updates) })
	if s.err != nil {
		return SessionResult{}, fmt.Errorf("fake transcriber error: %w", s.err)
	}
	r := SessionResult{
		Text:     s.text,
		HasText:  s.text != "",
		NoSpeech: s.text == "",
		Batch:    &BatchStats{AudioLengthS: 1.0, TotalTimeMs: 10},
		Metrics:  []string{"total: 10ms (fake)"},
	}
	r.captureMemStats()
	return r, nil
}
