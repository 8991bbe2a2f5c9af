package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"support-chain/internal/domain"
)

const (
	DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel    = "minimax/minimax-m2:free"

	// Temperature is fixed for every call the chain makes.
	Temperature = 0.3

	defaultTimeout = 60 * time.Second
	maxErrorBody   = 4096
	maxBody        = 1 << 20
)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// TransportError reports a call that never produced an HTTP response:
// DNS failures, refused connections, timeouts and cancellation.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("openai: request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == domain.ErrTransport
}

// Client is a focused OpenAI-compatible client for chat completions. It holds
// only static configuration and is safe for concurrent use.
type Client struct {
	endpoint     string
	apiKey       string
	defaultModel string
	timeout      time.Duration
	httpClient   *http.Client
}

type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = strings.TrimSpace(endpoint)
	}
}

func WithDefaultModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.defaultModel = m
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-call timeout. It applies to the client given with
// WithHTTPClient too, regardless of option order.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a Client authenticating with apiKey. The key is handed in
// once at construction and never refreshed.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", domain.ErrCredentialMissing)
	}
	c := &Client{
		endpoint:     DefaultEndpoint,
		apiKey:       apiKey,
		defaultModel: DefaultModel,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := http.Client{}
		if c.httpClient != nil {
			hc = *c.httpClient
		}
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	c.endpoint = completionURL(c.endpoint)
	return c, nil
}

func (c *Client) DefaultModel() string {
	return c.defaultModel
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// resolvedHTTPClient returns the configured HTTP client, or a default one if
// the field was cleared.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// completionURL returns the configured endpoint as given, or DefaultEndpoint
// when none is set. The endpoint is the full chat completions URL.
func completionURL(endpoint string) string {
	if e := strings.TrimSpace(endpoint); e != "" {
		return e
	}
	return DefaultEndpoint
}

// NewCompletionRequest builds the request body for one call. A non-empty
// systemPrompt is placed before the user message.
func NewCompletionRequest(model, prompt, systemPrompt string) domain.CompletionRequest {
	messages := make([]domain.ChatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: prompt})
	return domain.CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: Temperature,
	}
}

// Submit sends prompt to the completion endpoint and returns the response
// body as received. An empty model selects the client's default model.
func (c *Client) Submit(ctx context.Context, prompt, systemPrompt, model string) (*domain.CompletionResponse, error) {
	if model == "" {
		model = c.defaultModel
	}

	body, err := json.Marshal(NewCompletionRequest(model, prompt, systemPrompt))
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if reqErr != nil {
		return nil, fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	ctxzap.Debug(ctx, "sending completion request",
		zap.String("endpoint", c.endpoint),
		zap.String("model", model),
	)

	start := time.Now()
	raw, status, err := c.doJSONRequest(req)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			ctxzap.Debug(ctx, "completion request rejected",
				zap.String("model", model),
				zap.Int("status", statusErr.StatusCode),
				zap.Duration("duration", time.Since(start)),
			)
		}
		return nil, err
	}

	ctxzap.Debug(ctx, "completion request finished",
		zap.String("model", model),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
	)

	if !json.Valid(raw) {
		return nil, fmt.Errorf("openai: decode response: %w", domain.ErrMalformedResponse)
	}
	return &domain.CompletionResponse{Body: raw}, nil
}

func (c *Client) doJSONRequest(req *http.Request) ([]byte, int, error) {
	url := req.URL.String()
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, 0, &TransportError{URL: url, Err: doErr}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, res.StatusCode, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, res.StatusCode, &TransportError{URL: url, Err: fmt.Errorf("read response body: %w", err)}
	}
	return buf, res.StatusCode, nil
}
