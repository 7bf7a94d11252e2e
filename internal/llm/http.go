package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 4096
	defaultTemperature      = 0.2
	defaultTimeout          = 60 * time.Second
	defaultMaxRetries       = 2
	defaultBaseBackoff      = 1 * time.Second
	defaultRequestsPerMin   = 50.0
	defaultBurst            = 5
	maxResponseBytes        = 8 << 20
)

// Options configures an HTTP-backed client.
type Options struct {
	Model   string
	BaseURL string
	APIKey  string
	// Timeout is the per-request HTTP timeout.
	Timeout           time.Duration
	RequestsPerMinute float64
	// MaxRetries counts transport-level retries on 429, 5xx and network
	// errors. Negative disables retries.
	MaxRetries  int
	BaseBackoff time.Duration
	HTTPClient  *http.Client
}

// retryableError marks failures worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// transport holds what both providers share: limiter, retry loop and the
// HTTP round trip.
type transport struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	maxBody     int64
}

func newTransport(opts Options, defaultBaseURL string) *transport {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMin
	}
	retries := opts.MaxRetries
	switch {
	case retries == 0:
		retries = defaultMaxRetries
	case retries < 0:
		retries = 0
	}
	backoff := opts.BaseBackoff
	if backoff <= 0 {
		backoff = defaultBaseBackoff
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &transport{
		apiKey:      opts.APIKey,
		baseURL:     baseURL,
		httpClient:  hc,
		limiter:     rate.NewLimiter(rate.Limit(rpm/60.0), defaultBurst),
		maxRetries:  retries,
		baseBackoff: backoff,
		maxBody:     maxResponseBytes,
	}
}

// call POSTs payload to path with retries and returns the raw 200 body.
// Every attempt takes a limiter token. decodeErr extracts a provider error
// message from a non-200 body.
func (t *transport) call(ctx context.Context, path string, headers map[string]string, payload any, decodeErr func([]byte) string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := t.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}

		body, err := t.do(ctx, path, headers, data, decodeErr)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isRetryableError(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (t *transport) do(ctx context.Context, path string, headers map[string]string, data []byte, decodeErr func([]byte) string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > t.maxBody {
		return nil, fmt.Errorf("response exceeds %d bytes", t.maxBody)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		if msg := decodeErr(body); msg != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

type providerError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeProviderError(body []byte) string {
	var pe providerError
	if err := json.Unmarshal(body, &pe); err != nil {
		return ""
	}
	return pe.Error.Message
}
