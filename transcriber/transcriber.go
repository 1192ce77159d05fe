// Package transcriber turns dictated audio into text. Groq and OpenAI take a
// FLAC upload when the session closes; Deepgram streams PCM over a websocket
// and reports interim text as it goes.
package transcriber

import (
	"context"
	"fmt"

	"twin/traced"
)

// Update is one transcript event. Text is the whole utterance so far; Final
// marks the end of the utterance.
type Update struct {
	Text  string
	Final bool
}

type Result struct {
	Text       string
	Metrics    *traced.Metrics
	RateLimit  string
	Confidence float64
	Duration   float64
}

type Transcriber interface {
	Name() string
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

// New builds the named provider.
func New(provider, apiKey string) (Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: missing API key", provider)
	}
	switch provider {
	case "groq":
		return NewGroq(apiKey), nil
	case "openai":
		return NewOpenAI(apiKey), nil
	case "deepgram":
		return NewDeepgram(apiKey), nil
	}
	return nil, fmt.Errorf("unknown transcription provider %q", provider)
}
