// Package llm talks to a local Ollama server and exposes it as the semantic
// classification service.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"commentguard/internal/classify"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is an Ollama API client.
type Client struct {
	baseURL          string
	model            string
	client           *http.Client
	maxResponseBytes int64
}

// Options configures a Client.
type Options struct {
	BaseURL          string
	Model            string
	Timeout          time.Duration
	MaxResponseBytes int64
}

// New creates a client. A zero timeout defaults to 60s.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = 1024 * 1024
	}
	return &Client{
		baseURL:          strings.TrimRight(opts.BaseURL, "/"),
		model:            opts.Model,
		maxResponseBytes: opts.MaxResponseBytes,
		client:           &http.Client{Timeout: opts.Timeout},
	}
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Availability reports Ready when the configured model is installed and
// NeedsFetch when the server is up but the model is missing. A server that
// cannot be reached is Unavailable with the error.
func (c *Client) Availability(ctx context.Context) (classify.Availability, error) {
	if c.model == "" {
		return classify.Unavailable, fmt.Errorf("no model configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return classify.Unavailable, fmt.Errorf("create tags request: %w", err)
	}

	var tags tagsResponse
	if err := c.do(req, &tags); err != nil {
		return classify.Unavailable, err
	}
	for _, m := range tags.Models {
		if modelMatches(c.model, m.Name) || modelMatches(c.model, m.Model) {
			return classify.Ready, nil
		}
	}
	return classify.NeedsFetch, nil
}

// modelMatches compares model names, treating an untagged name as ":latest".
func modelMatches(want, have string) bool {
	if have == "" {
		return false
	}
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	if !strings.Contains(have, ":") {
		have += ":latest"
	}
	return want == have
}

// CreateSession returns a chat session bound to cfg.
func (c *Client) CreateSession(_ context.Context, cfg classify.SessionConfig) (classify.Session, error) {
	if c.model == "" {
		return nil, fmt.Errorf("no model configured")
	}
	return &chatSession{client: c, cfg: cfg}, nil
}

type chatSession struct {
	client *Client
	cfg    classify.SessionConfig
}

// Prompt sends one user message after the session's system prompt.
func (s *chatSession) Prompt(ctx context.Context, text string) (string, error) {
	payload := chatRequest{
		Model:  s.client.model,
		Stream: false,
	}
	if s.cfg.SystemPrompt != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: s.cfg.SystemPrompt})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: text})
	if s.cfg.MaxOutputTokens > 0 {
		payload.Options = &chatOptions{NumPredict: s.cfg.MaxOutputTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp chatResponse
	if err := s.client.do(req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (c *Client) do(req *http.Request, target any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.maxResponseBytes+1)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("read ollama response: %w", err)
	}
	if int64(len(respBody)) > c.maxResponseBytes {
		return fmt.Errorf("ollama response exceeded limit (%d bytes)", c.maxResponseBytes)
	}

	if resp.StatusCode >= 400 {
		var errBody errorResponse
		if err := json.Unmarshal(respBody, &errBody); err != nil || errBody.Error == "" {
			return fmt.Errorf("ollama error status %d", resp.StatusCode)
		}
		return fmt.Errorf("ollama error status %d: %s", resp.StatusCode, errBody.Error)
	}

	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("decode ollama response: %w", err)
	}
	return nil
}
