package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"twin/encoder"
)

const deepgramStreamURL = "wss://api.deepgram.com/v1/listen"

type Deepgram struct {
	apiKey   string
	endpoint string
	model    string
}

func NewDeepgram(apiKey string) *Deepgram {
	return &Deepgram{apiKey: apiKey, endpoint: deepgramStreamURL, model: "nova-3"}
}

func (d *Deepgram) Name() string { return "deepgram" }

// NewSession returns immediately; the websocket is dialled in the background
// and audio fed before it is ready is queued.
func (d *Deepgram) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	endpoint, err := d.streamURL(cfg.Language)
	if err != nil {
		return nil, err
	}
	return newStreamSession(func() (rawStreamSession, error) {
		return dialDeepgram(ctx, endpoint, d.apiKey)
	}), nil
}

func (d *Deepgram) streamURL(lang string) (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", d.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(encoder.SampleRate))
	q.Set("channels", strconv.Itoa(encoder.Channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if lang != "" {
		q.Set("language", lang)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramStreamResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// gorilla allows one writer at a time; Close can race the sender.
type deepgramConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *deepgramConn) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(kind, data)
}

func dialDeepgram(ctx context.Context, endpoint, apiKey string) (*deepgramConn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+apiKey)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}
	return &deepgramConn{conn: conn}, nil
}

func (c *deepgramConn) Send(pcm []byte) error {
	return c.write(websocket.BinaryMessage, pcm)
}

// CloseSend asks the server to flush whatever audio it still holds.
func (c *deepgramConn) CloseSend() error {
	return c.write(websocket.TextMessage, []byte(`{"type":"Finalize"}`))
}

func (c *deepgramConn) Recv() (streamUpdate, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return streamUpdate{}, err
		}
		var resp deepgramStreamResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return streamUpdate{}, fmt.Errorf("deepgram message parse error: %w", err)
		}
		// Metadata, SpeechStarted and UtteranceEnd carry no transcript
		if resp.Type != "" && resp.Type != "Results" {
			continue
		}
		transcript := ""
		if len(resp.Channel.Alternatives) > 0 {
			transcript = resp.Channel.Alternatives[0].Transcript
		}
		return streamUpdate{
			Transcript:   strings.TrimSpace(transcript),
			IsFinal:      resp.IsFinal,
			SpeechFinal:  resp.SpeechFinal,
			FromFinalize: resp.FromFinalize,
		}, nil
	}
}

func (c *deepgramConn) Close() error {
	c.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	return c.conn.Close()
}
