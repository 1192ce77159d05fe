package transcriber

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"twin/encoder"
	"twin/log"
)

const (
	streamChunkMs      = 200
	streamChunkBytes   = encoder.SampleRate * encoder.Channels * (encoder.BitsPerSample / 8) * streamChunkMs / 1000
	streamFinalizeIdle = 200 * time.Millisecond
	streamFinalizeMax  = 1000 * time.Millisecond
)

type rawStreamSession interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Transcript   string
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
}

type streamSession struct {
	ws        rawStreamSession
	audioCh   chan []byte
	updates   chan Update
	startedAt time.Time
	connected chan struct{} // closed when the websocket is ready or failed

	sendDone      chan struct{}
	recvDone      chan struct{}
	finalized     chan struct{}
	finalizedOnce sync.Once

	feedBuf []byte
	feedMu  sync.Mutex

	mu        sync.Mutex
	committed string
	finalSent bool
	err       error
	errOnce   sync.Once
	closing   bool
	stats     streamStats
}

type streamStats struct {
	ConnectDur   time.Duration
	SentChunks   int
	SentBytes    uint64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	FinalizeWait time.Duration
	SessionDur   time.Duration
}

func (s streamStats) audioDuration() float64 {
	return float64(s.SentBytes) / float64(encoder.SampleRate*encoder.Channels*(encoder.BitsPerSample/8))
}

func newStreamSession(dial func() (rawStreamSession, error)) *streamSession {
	ss := &streamSession{
		audioCh:   make(chan []byte, 128),
		updates:   make(chan Update, 16),
		startedAt: time.Now(),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		finalized: make(chan struct{}),
		connected: make(chan struct{}),
	}

	go func() {
		connectStart := time.Now()
		ws, err := dial()
		ss.mu.Lock()
		ss.stats.ConnectDur = time.Since(connectStart)
		ss.mu.Unlock()

		if err != nil {
			ss.setErr(err)
			close(ss.sendDone)
			close(ss.recvDone)
			close(ss.connected)
			return
		}

		ss.mu.Lock()
		ss.ws = ws
		ss.mu.Unlock()
		close(ss.connected)
		go ss.runSender()
		go ss.runReceiver()
	}()
	return ss
}

func (s *streamSession) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err != nil
}

func (s *streamSession) Feed(pcm []byte) {
	if s.failed() {
		return
	}

	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.isClosing() {
		return
	}
	s.feedBuf = append(s.feedBuf, pcm...)
	for len(s.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, s.feedBuf[:streamChunkBytes])
		s.feedBuf = s.feedBuf[streamChunkBytes:]
		select {
		case s.audioCh <- chunk:
		default:
			// never block the audio thread; a stalled socket loses audio
			log.Warn("stream send queue full, dropping chunk")
		}
	}
}

func (s *streamSession) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *streamSession) Updates() <-chan Update { return s.updates }

func (s *streamSession) Close() (SessionResult, error) {
	<-s.connected

	s.feedMu.Lock()
	s.mu.Lock()
	s.closing = true
	connErr := s.err
	s.mu.Unlock()
	tail := s.feedBuf
	s.feedBuf = nil
	if connErr == nil && len(tail) > 0 {
		s.audioCh <- tail
	}
	close(s.audioCh)
	s.feedMu.Unlock()

	if s.ws == nil {
		<-s.sendDone
		<-s.recvDone
		close(s.updates)
		return SessionResult{NoSpeech: true}, connErr
	}

	finalizeStart := time.Now()
	<-s.sendDone

	// wait for the server's finalize response, then a short quiet period
	select {
	case <-s.finalized:
		time.Sleep(streamFinalizeIdle)
	case <-time.After(streamFinalizeMax):
	}

	s.ws.Close()
	select {
	case <-s.recvDone:
	case <-time.After(2 * time.Second):
		log.Warn("stream receiver drain timeout")
	}

	s.mu.Lock()
	text := strings.TrimSpace(s.committed)
	if !s.finalSent && text != "" {
		s.finalSent = true
		select {
		case s.updates <- Update{Text: text, Final: true}:
		default:
		}
	}
	stats := s.stats
	stats.FinalizeWait = time.Since(finalizeStart)
	stats.SessionDur = time.Since(s.startedAt)
	sessionErr := s.err
	s.mu.Unlock()
	close(s.updates)

	sr := SessionResult{
		Text:     text,
		HasText:  text != "",
		NoSpeech: text == "",
		Metrics:  formatStreamMetrics(stats),
		Stream: &StreamStats{
			ConnectMs:    float64(stats.ConnectDur.Milliseconds()),
			SentChunks:   stats.SentChunks,
			SentKB:       float64(stats.SentBytes) / 1024,
			RecvMessages: stats.RecvMessages,
			RecvFinal:    stats.RecvFinal,
			RecvInterim:  stats.RecvInterim,
			FinalizeMs:   float64(stats.FinalizeWait.Milliseconds()),
			TotalMs:      float64(stats.SessionDur.Milliseconds()),
			AudioS:       stats.audioDuration(),
		},
	}
	sr.captureMemStats()
	return sr, sessionErr
}

func (s *streamSession) runSender() {
	defer close(s.sendDone)
	for chunk := range s.audioCh {
		if err := s.ws.Send(chunk); err != nil {
			s.setErr(err)
			for range s.audioCh {
			}
			return
		}
		s.mu.Lock()
		s.stats.SentChunks++
		s.stats.SentBytes += uint64(len(chunk))
		s.mu.Unlock()
	}
	if err := s.ws.CloseSend(); err != nil {
		s.setErr(err)
	}
}

func (s *streamSession) runReceiver() {
	defer close(s.recvDone)
	for {
		update, err := s.ws.Recv()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				s.setErr(err)
			}
			return
		}
		if update.FromFinalize {
			s.finalizedOnce.Do(func() { close(s.finalized) })
		}
		if u, ok := s.apply(update); ok {
			select {
			case s.updates <- u:
			default:
			}
		}
	}
}

// apply folds one server message into the committed text and returns the
// update to publish, if any.
func (s *streamSession) apply(update streamUpdate) (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.RecvMessages++
	committing := update.IsFinal || update.FromFinalize
	if committing {
		s.stats.RecvFinal++
	} else {
		s.stats.RecvInterim++
	}
	if s.finalSent {
		return Update{}, false
	}

	transcript := strings.TrimSpace(update.Transcript)
	if !committing {
		if transcript == "" {
			return Update{}, false
		}
		return Update{Text: joinText(s.committed, transcript)}, true
	}

	s.committed = joinText(s.committed, transcript)
	if update.SpeechFinal && s.committed != "" {
		s.finalSent = true
		return Update{Text: s.committed, Final: true}, true
	}
	if transcript == "" {
		return Update{}, false
	}
	return Update{Text: s.committed}, true
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

func (s *streamSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		ws := s.ws
		s.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
	})
}

func formatStreamMetrics(stats streamStats) []string {
	return []string{
		fmt.Sprintf("audio:      %.1fs | %.1f KB PCM sent", stats.audioDuration(), float64(stats.SentBytes)/1024),
		fmt.Sprintf("stream:     deepgram | PCM16 %dHz mono | %dms chunks", encoder.SampleRate, streamChunkMs),
		fmt.Sprintf("connect:    %dms", stats.ConnectDur.Milliseconds()),
		fmt.Sprintf("sent:       %d chunks | %.1f KB", stats.SentChunks, float64(stats.SentBytes)/1024),
		fmt.Sprintf("recv:       %d msgs (%d final, %d interim)", stats.RecvMessages, stats.RecvFinal, stats.RecvInterim),
		fmt.Sprintf("finalize:   %dms", stats.FinalizeWait.Milliseconds()),
		fmt.Sprintf("total:      %dms", stats.SessionDur.Milliseconds()),
	}
}
