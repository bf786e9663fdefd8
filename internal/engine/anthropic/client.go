// Package anthropic implements the analysis engine on the Anthropic
// Messages API. The opinion PDF travels as a base64 document block and
// the response is consumed as a server-sent event stream.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/engine"
	"github.com/markwbennett/PDRbot/internal/pipeline"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	apiVersion        = "2023-06-01"
	defaultMaxTokens  = 64000
	defaultTimeout    = 5 * time.Minute
	defaultAttempts   = 3
	defaultRetryDelay = 5 * time.Second
)

// Config captures the runtime settings for the Messages API.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// Client talks to the Messages API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sleeper    func(context.Context, time.Duration) error
	logger     *zap.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(s func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if s != nil {
			c.sleeper = s
		}
	}
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultRetryDelay
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sleeper:    pipeline.Sleep,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model implements engine.Engine.
func (c *Client) Model() string { return c.cfg.Model }

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *blockSource `json:"source,omitempty"`
}

type blockSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze implements engine.Engine. Overload and rate-limit responses are
// retried with doubling delays; other failures surface immediately as
// *pipeline.EngineError.
func (c *Client) Analyze(ctx context.Context, doc engine.Document, prompt string) (engine.Stream, error) {
	body, err := c.requestBody(doc, prompt)
	if err != nil {
		return nil, &pipeline.EngineError{Op: "encode request", Err: err}
	}

	delay := c.cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		stream, err := c.startStream(ctx, body)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		engErr, ok := err.(*pipeline.EngineError)
		if !ok || !engErr.RateLimited || attempt == c.cfg.MaxRetries {
			return nil, err
		}
		c.logger.Warn("Engine overloaded; backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if sleepErr := c.sleeper(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
		delay *= 2
	}
	return nil, lastErr
}

func (c *Client) requestBody(doc engine.Document, prompt string) ([]byte, error) {
	mediaType := doc.MediaType
	if mediaType == "" {
		mediaType = "application/pdf"
	}
	req := messageRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Stream:    true,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				{
					Type: "document",
					Source: &blockSource{
						Type:      "base64",
						MediaType: mediaType,
						Data:      base64.StdEncoding.EncodeToString(doc.Data),
					},
				},
				{Type: "text", Text: prompt},
			},
		}},
	}
	return json.Marshal(req)
}

func (c *Client) startStream(ctx context.Context, body []byte) (engine.Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &pipeline.EngineError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &pipeline.EngineError{Op: "post messages", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}
	return &sseStream{scanner: bufio.NewScanner(resp.Body), body: resp.Body}, nil
}

func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr apiError
	detail := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
		detail = apiErr.Error.Message
	}

	rateLimited := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == 529 ||
		apiErr.Error.Type == "overloaded_error"

	return &pipeline.EngineError{
		Op:          "post messages",
		RateLimited: rateLimited,
		Err:         fmt.Errorf("status %d: %s", resp.StatusCode, detail),
	}
}

// sseStream decodes the Messages event stream, yielding the text deltas of
// content_block_delta events until message_stop.
type sseStream struct {
	scanner *bufio.Scanner
	body    io.Closer
	done    bool
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *sseStream) Recv() (engine.Chunk, error) {
	if s.done {
		return engine.Chunk{}, io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				return engine.Chunk{Text: ev.Delta.Text}, nil
			}
		case "message_stop":
			s.done = true
			return engine.Chunk{}, io.EOF
		case "error":
			s.done = true
			return engine.Chunk{}, &pipeline.EngineError{
				Op:          "read stream",
				RateLimited: ev.Error.Type == "overloaded_error",
				Err:         fmt.Errorf("%s: %s", ev.Error.Type, ev.Error.Message),
			}
		}
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return engine.Chunk{}, &pipeline.EngineError{Op: "read stream", Err: err}
	}
	// A clean close without message_stop means the response was cut off;
	// never pass a truncated analysis off as complete.
	return engine.Chunk{}, &pipeline.EngineError{
		Op:  "read stream",
		Err: fmt.Errorf("stream ended before message_stop"),
	}
}

func (s *sseStream) Close() error { return s.body.Close() }
