package transcriber

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"twin/encoder"
	"twin/traced"
)

func pcmBytes(n int) []byte {
	pcm := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(i%1000))
	}
	return pcm
}

func TestNew(t *testing.T) {
	for _, name := range []string{"groq", "openai", "deepgram"} {
		tr, err := New(name, "key")
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if tr.Name() != name {
			t.Errorf("Name() = %q, want %q", tr.Name(), name)
		}
	}
	if _, err := New("groq", ""); err == nil {
		t.Error("expected error for missing key")
	}
	if _, err := New("vosk", "key"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestBatchSessionFeedAndClose(t *testing.T) {
	var uploaded []byte
	bs, err := newBatchSession(func(audio []byte) (*Result, error) {
		uploaded = audio
		return &Result{Text: " hello world ", Metrics: &traced.Metrics{TTFB: 10 * time.Millisecond}}, nil
	})
	if err != nil {
		t.Fatalf("newBatchSession: %v", err)
	}

	bs.Feed(pcmBytes(encoder.BlockSize + encoder.BlockSize/2))
	result, err := bs.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-bs.Updates(); ok {
		t.Error("Updates should be closed and empty")
	}
	if result.Text != "hello world" || !result.HasText {
		t.Errorf("result = %+v", result)
	}
	if result.Batch == nil || result.Batch.AudioLengthS <= 0 || result.Batch.TTFBMs != 10 {
		t.Errorf("batch stats = %+v", result.Batch)
	}
	if len(uploaded) < 4 || string(uploaded[:4]) != "fLaC" {
		t.Error("upload is not FLAC")
	}

	bs.Feed(pcmBytes(10)) // ignored after close
	if _, err := bs.Close(); err == nil {
		t.Error("second Close should fail")
	}
}

func TestBatchSessionNoAudioSkipsUpload(t *testing.T) {
	called := false
	bs, _ := newBatchSession(func([]byte) (*Result, error) {
		called = true
		return &Result{}, nil
	})
	result, err := bs.Close()
	if err != nil || !result.NoSpeech || called {
		t.Fatalf("result=%+v err=%v called=%v", result, err, called)
	}
}

func TestWhisperUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "HEAD" {
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.FormValue("model") != "whisper-test" || r.FormValue("language") != "en" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "audio.flac" || !strings.HasPrefix(string(data), "fLaC") {
			t.Errorf("file %q starts %q", hdr.Filename, data[:4])
		}
		w.Header().Set("x-ratelimit-remaining-requests", "9")
		w.Header().Set("x-ratelimit-limit-requests", "10")
		json.NewEncoder(w).Encode(map[string]any{"text": "what is your biggest weakness", "duration": 1.5})
	}))
	defer srv.Close()

	wh := newWhisper("groq", srv.URL, "secret", "whisper-test", "verbose_json")
	s, err := wh.NewSession(context.Background(), SessionConfig{Language: "en"})
	if err != nil {
		t.Fatal(err)
	}
	s.Feed(pcmBytes(8000))
	result, err := s.Close()
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "what is your biggest weakness" || result.RateLimit != "9/10" {
		t.Errorf("result = %+v", result)
	}
}

func TestWhisperAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	wh := newWhisper("openai", srv.URL, "k", "m", "json")
	s, _ := wh.NewSession(context.Background(), SessionConfig{})
	s.Feed(pcmBytes(100))
	if _, err := s.Close(); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v", err)
	}
}

type scriptedStream struct {
	mu      sync.Mutex
	sent    int
	replies chan streamUpdate
	closed  chan struct{}
	once    sync.Once
}

func newScriptedStream(replies ...streamUpdate) *scriptedStream {
	s := &scriptedStream{replies: make(chan streamUpdate, len(replies)+1), closed: make(chan struct{})}
	for _, r := range replies {
		s.replies <- r
	}
	return s
}

func (s *scriptedStream) Send(pcm []byte) error {
	s.mu.Lock()
	s.sent += len(pcm)
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) CloseSend() error {
	s.replies <- streamUpdate{FromFinalize: true, IsFinal: true}
	return nil
}

func (s *scriptedStream) Recv() (streamUpdate, error) {
	select {
	case u := <-s.replies:
		return u, nil
	case <-s.closed:
		return streamUpdate{}, io.EOF
	}
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func collect(ch <-chan Update) []Update {
	var out []Update
	for u := range ch {
		out = append(out, u)
	}
	return out
}

func TestStreamSessionInterimThenFinal(t *testing.T) {
	raw := newScriptedStream(
		streamUpdate{Transcript: "what is"},
		streamUpdate{Transcript: "what is your", IsFinal: true},
		streamUpdate{Transcript: "weakness"},
		streamUpdate{Transcript: "weakness", IsFinal: true, SpeechFinal: true},
		streamUpdate{Transcript: "ignored", IsFinal: true},
	)
	ss := newStreamSession(func() (rawStreamSession, error) { return raw, nil })

	var got []Update
	done := make(chan struct{})
	go func() {
		got = collect(ss.Updates())
		close(done)
	}()

	ss.Feed(pcmBytes(streamChunkBytes)) // 2 chunks
	result, err := ss.Close()
	if err != nil {
		t.Fatal(err)
	}
	<-done

	want := []Update{
		{Text: "what is"},
		{Text: "what is your"},
		{Text: "what is your weakness"},
		{Text: "what is your weakness", Final: true},
	}
	if len(got) != len(want) {
		t.Fatalf("updates = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("update %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if result.Text != "what is your weakness" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Stream == nil || result.Stream.SentChunks != 2 {
		t.Errorf("stream stats = %+v", result.Stream)
	}
}

func TestStreamSessionCloseDeliversFinal(t *testing.T) {
	raw := newScriptedStream(streamUpdate{Transcript: "hello", IsFinal: true})
	ss := newStreamSession(func() (rawStreamSession, error) { return raw, nil })
	ss.Feed(pcmBytes(100))

	result, err := ss.Close()
	if err != nil {
		t.Fatal(err)
	}
	got := collect(ss.Updates())
	if len(got) == 0 || got[len(got)-1] != (Update{Text: "hello", Final: true}) {
		t.Errorf("updates = %+v", got)
	}
	if result.Text != "hello" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestStreamSessionDialError(t *testing.T) {
	ss := newStreamSession(func() (rawStreamSession, error) { return nil, errors.New("refused") })
	ss.Feed(pcmBytes(streamChunkBytes))
	result, err := ss.Close()
	if err == nil || !result.NoSpeech {
		t.Fatalf("result=%+v err=%v", result, err)
	}
	ss.Feed(pcmBytes(10)) // no panic after close
}

func TestDeepgramOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg" {
			http.Error(w, "no", http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("interim_results") != "true" || q.Get("encoding") != "linear16" || q.Get("sample_rate") != "16000" {
			t.Errorf("query = %v", q)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		send := func(transcript string, isFinal, speechFinal bool) {
			msg := map[string]any{
				"type":         "Results",
				"is_final":     isFinal,
				"speech_final": speechFinal,
				"channel":      map[string]any{"alternatives": []map[string]any{{"transcript": transcript}}},
			}
			conn.WriteJSON(msg)
		}
		conn.WriteJSON(map[string]any{"type": "Metadata"})
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				send("hel", false, false)
				send("hello", true, true)
				continue
			}
			if strings.Contains(string(data), "Finalize") {
				conn.WriteJSON(map[string]any{"type": "Results", "from_finalize": true, "is_final": true})
			}
		}
	}))
	defer srv.Close()

	dg := NewDeepgram("dg")
	dg.endpoint = "ws" + strings.TrimPrefix(srv.URL, "http")
	s, err := dg.NewSession(context.Background(), SessionConfig{Language: "en"})
	if err != nil {
		t.Fatal(err)
	}
	s.Feed(pcmBytes(streamChunkBytes / 2))

	var final Update
	timeout := time.After(2 * time.Second)
	for final.Text == "" {
		select {
		case u := <-s.Updates():
			if u.Final {
				final = u
			}
		case <-timeout:
			t.Fatal("no final update")
		}
	}
	if final.Text != "hello" {
		t.Errorf("final = %+v", final)
	}
	result, err := s.Close()
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "hello" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestFakeStreams(t *testing.T) {
	f := NewFake("hello there", nil)
	s, _ := f.NewSession(context.Background(), SessionConfig{})
	s.Feed([]byte{0, 0})

	first := <-s.Updates()
	second := <-s.Updates()
	if first != (Update{Text: "hello"}) || second != (Update{Text: "hello there", Final: true}) {
		t.Fatalf("updates = %+v, %+v", first, second)
	}
	result, err := s.Close()
	if err != nil || result.Text != "hello there" {
		t.Fatalf("result=%+v err=%v", result, err)
	}
	s.Close()
	if f.Sessions() != 1 {
		t.Errorf("Sessions = %d", f.Sessions())
	}
}

func TestFakeError(t *testing.T) {
	f := NewFake("", errors.New("boom"))
	s, _ := f.NewSession(context.Background(), SessionConfig{})
	if _, err := s.Close(); err == nil {
		t.Fatal("expected error")
	}
}
