package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"

	"twin/traced"
)

const (
	groqAPIURL   = "https://api.groq.com/openai/v1/audio/transcriptions"
	openAIAPIURL = "https://api.openai.com/v1/audio/transcriptions"
)

// Whisper speaks the OpenAI audio transcription API, which Groq mirrors.
type Whisper struct {
	name   string
	apiURL string
	apiKey string
	model  string
	format string // response_format
	client *traced.Client
}

func NewGroq(apiKey string) *Whisper {
	return newWhisper("groq", groqAPIURL, apiKey, "whisper-large-v3-turbo", "verbose_json")
}

func NewOpenAI(apiKey string) *Whisper {
	return newWhisper("openai", openAIAPIURL, apiKey, "gpt-4o-transcribe", "json")
}

func newWhisper(name, apiURL, apiKey, model, format string) *Whisper {
	return &Whisper{
		name:   name,
		apiURL: apiURL,
		apiKey: apiKey,
		model:  model,
		format: format,
		client: traced.New(apiURL),
	}
}

func (w *Whisper) Name() string { return w.name }

func (w *Whisper) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	go w.client.Warm()
	lang := cfg.Language
	return newBatchSession(func(audio []byte) (*Result, error) {
		return w.transcribe(ctx, audio, lang)
	})
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

func (w *Whisper) transcribe(ctx context.Context, audio []byte, lang string) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.flac")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	writer.WriteField("model", w.model)
	writer.WriteField("response_format", w.format)
	if lang != "" {
		writer.WriteField("language", lang)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", w.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API error %d: %s", w.name, resp.StatusCode, string(resp.Body))
	}

	var wr whisperResponse
	if err := json.Unmarshal(resp.Body, &wr); err != nil {
		return nil, fmt.Errorf("%s response parse error: %w", w.name, err)
	}

	remaining := traced.FirstNonEmpty(resp.Header, "x-ratelimit-remaining-requests")
	limit := traced.FirstNonEmpty(resp.Header, "x-ratelimit-limit-requests")

	return &Result{
		Text:      wr.Text,
		Metrics:   resp.Metrics,
		RateLimit: remaining + "/" + limit,
		Duration:  wr.Duration,
	}, nil
}
