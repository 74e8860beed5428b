package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Message is one entry of the chat history as it travels through the relay.
// Content is kept opaque: a plain string or a list of typed parts (text,
// image_url, file) is forwarded to the provider unaltered.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Request is the relay envelope accepted on POST /chat.
type Request struct {
	Messages         []Message `json:"messages"`
	Model            string    `json:"model,omitempty"`
	SystemPrompt     string    `json:"systemPrompt,omitempty"`
	WebSearchEnabled bool      `json:"webSearchEnabled,omitempty"`
}

type Config struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	Referer      string
	AppTitle     string
	HTTPClient   *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		// No client-level timeout: streams stay open for minutes and their
		// lifetime is bounded by the caller's context.
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "x-ai/grok-4.1-fast"
	}
	return &Client{cfg: cfg}
}

// Configured reports whether a provider credential is available.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// Start issues the streaming completion request and returns the raw response
// without touching its body. Single attempt, fail fast; the caller owns the
// body and must close it on every path.
func (c *Client) Start(ctx context.Context, req Request) (*http.Response, error) {
	body, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}
	endpointURL, err := c.buildEndpointURL()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.AppTitle != "" {
		httpReq.Header.Set("X-Title", c.cfg.AppTitle)
	}

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) buildPayload(req Request) ([]byte, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		prompt, err := json.Marshal(req.SystemPrompt)
		if err != nil {
			return nil, fmt.Errorf("marshal system prompt: %w", err)
		}
		messages = append(messages, Message{Role: "system", Content: prompt})
	}
	messages = append(messages, req.Messages...)

	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = c.cfg.DefaultModel
	}

	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   true,
	}
	if req.WebSearchEnabled {
		payload["plugins"] = []map[string]any{{"id": "web"}}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion payload: %w", err)
	}
	return b, nil
}

func (c *Client) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}
