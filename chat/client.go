// Package chat talks to the interview agent backend: chat replies, speech
// synthesis of replies, and the hiring report export.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"twin/traced"
)

const (
	ChatPath      = "/api/chat"
	SynthesisPath = "/api/tts"
	ReportPath    = "/api/generate-report"
)

type Client struct {
	baseURL string
	client  *traced.Client
}

func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL: baseURL,
		client:  traced.New(baseURL),
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Warm preconnects to the server.
func (c *Client) Warm() { c.client.Warm() }

// Ping checks the server answers HTTP at all. Any status counts; the root
// path of the agent backend is not guaranteed to exist.
func (c *Client) Ping(ctx context.Context) (*traced.Metrics, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/", nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Metrics, resp.StatusCode, nil
}

// Send posts one user message and returns the agent's reply.
func (c *Client) Send(ctx context.Context, req Request) (Reply, *traced.Metrics, error) {
	resp, err := c.post(ctx, ChatPath, req, "application/json")
	if err != nil {
		return Reply{}, nil, err
	}
	var reply Reply
	if err := json.Unmarshal(resp.Body, &reply); err != nil {
		return Reply{}, resp.Metrics, fmt.Errorf("chat response parse error: %w", err)
	}
	return reply, resp.Metrics, nil
}

// Synthesize returns the encoded audio for text.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.post(ctx, SynthesisPath, synthesisRequest{Text: text}, "audio/*")
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("%s: empty audio", SynthesisPath)
	}
	return resp.Body, nil
}

// Report returns the PDF report for the given history.
func (c *Client) Report(ctx context.Context, history []HistoryEntry) ([]byte, error) {
	if history == nil {
		history = []HistoryEntry{}
	}
	resp, err := c.post(ctx, ReportPath, reportRequest{ChatHistory: history}, "application/pdf")
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("%s: empty report", ReportPath)
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, accept string) (*traced.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !resp.OK() {
		return nil, &StatusError{Endpoint: path, Code: resp.StatusCode, Body: string(resp.Body)}
	}
	return resp, nil
}
