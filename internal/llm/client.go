// Package llm wraps a remote OpenAI-compatible chat-completion service.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrUnavailable is returned on transport failure, timeout, or a
// non-success status from the remote service.
var ErrUnavailable = errors.New("llm: service unavailable")

// ErrMalformed is returned when the remote response cannot be parsed.
var ErrMalformed = errors.New("llm: malformed response")

// ErrNotConfigured is returned when no API credentials are configured.
var ErrNotConfigured = errors.New("llm: not configured")

// Config configures the chat-completion client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Client is a chat-completion client. Calls are attempted once with a
// bounded timeout; pipeline-level fallback substitutes for retry.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// NewClient creates a chat-completion client. Returns ErrNotConfigured
// when no API key is set.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Model == "" {
		cfg.Model = "qwen-plus"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}, nil
}

// Option overrides request parameters for a single call.
type Option func(*openai.ChatCompletionRequest)

// WithTemperature overrides the default temperature.
func WithTemperature(t float32) Option {
	return func(r *openai.ChatCompletionRequest) { r.Temperature = t }
}

// WithMaxTokens overrides the default max token count.
func WithMaxTokens(n int) Option {
	return func(r *openai.ChatCompletionRequest) { r.MaxTokens = n }
}

// Complete sends the messages and returns the text of the first choice.
func (c *Client) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, opts ...Option) (string, error) {
	msg, err := c.complete(ctx, messages, nil, opts...)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// CompleteWithTools sends the messages with a tool contract and returns
// the full first-choice message, which may carry tool calls instead of
// (or alongside) content.
func (c *Client) CompleteWithTools(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, opts ...Option) (*openai.ChatCompletionMessage, error) {
	return c.complete(ctx, messages, tools, opts...)
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, opts ...Option) (*openai.ChatCompletionMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Tools:       tools,
	}
	for _, opt := range opts {
		opt(&req)
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformed)
	}
	msg := resp.Choices[0].Message
	return &msg, nil
}

// ExtractJSON strips markdown code fences around a JSON payload. Models
// often wrap structured output in ```json blocks despite instructions.
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	// Fall back to the outermost object when the payload is embedded in prose.
	if !strings.HasPrefix(s, "{") {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start >= 0 && end > start {
			s = s[start : end+1]
		}
	}
	return s
}
