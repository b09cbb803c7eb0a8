// Package llm adapts the text-generation service used for market narrative, AI strategy
// and research effects. Every payload is untrusted: it is schema-validated here and the
// simulation falls back to deterministic defaults whenever a call fails or times out.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAPIURL = "https://api.anthropic.com/v1/messages"
	apiVersion    = "2023-06-01"
	defaultModel  = "claude-haiku-4-5-20251001"
)

var (
	// ErrDisabled is returned when no API key is configured.
	ErrDisabled = errors.New("llm client not configured")
	// ErrRateLimited is returned when the per-minute call budget is spent.
	ErrRateLimited = errors.New("llm rate limit exceeded")
)

// Generator produces text for a system and user prompt.
type Generator interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Client wraps the Anthropic Messages API.
type Client struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	APIKey       string
	Model        string
	MaxPerMinute int
	APIURL       string
}

// NewClient creates an API client. It returns nil if the API key is empty.
func NewClient(opts Options) *Client {
	if opts.APIKey == "" {
		return nil
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.APIURL == "" {
		opts.APIURL = defaultAPIURL
	}
	if opts.MaxPerMinute <= 0 {
		opts.MaxPerMinute = 20
	}
	return &Client{
		apiKey: opts.APIKey,
		apiURL: opts.APIURL,
		model:  opts.Model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.MaxPerMinute)), opts.MaxPerMinute),
	}
}

// Enabled returns true if the client has an API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type response struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// APIError is a non-200 answer from the service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api status %d: %s", e.Status, e.Body)
}

// Complete sends one user prompt and returns the concatenated text blocks of the reply.
func (c *Client) Complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	if !c.limiter.Allow() {
		return "", ErrRateLimited
	}

	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode llm request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()
	rd := io.LimitReader(resp.Body, maxResponseBytes)

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(rd, 512))
		return "", &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var out response
	if err := json.NewDecoder(rd).Decode(&out); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	var text strings.Builder
	for _, b := range out.Content {
		if b.Type == "" || b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	if text.Len() == 0 {
		return "", errors.New("llm response has no text")
	}

	slog.Debug("llm call", "model", c.model, "stop_reason", out.StopReason,
		"input_tokens", out.Usage.InputTokens, "output_tokens", out.Usage.OutputTokens)
	return text.String(), nil
}
