// Package llm provides the prompt-to-text capability used by entity
// extraction and relationship inference.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/roadmapd/internal/config"
)

var (
	// ErrNoProvider is returned by the client used when no provider is configured.
	ErrNoProvider = errors.New("no llm provider configured")
	// ErrEmptyResponse is returned when a provider answers without text.
	ErrEmptyResponse = errors.New("empty response from llm")
)

// Client maps a prompt to generated text.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Client.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// WithTimeout bounds every call to c by d. A non-positive d returns c.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return Func(func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return c.Complete(ctx, prompt)
	})
}

// Unavailable fails every call with ErrNoProvider.
var Unavailable Client = Func(func(context.Context, string) (string, error) {
	return "", ErrNoProvider
})

// New builds the client selected by cfg.Provider. Provider "none" yields
// Unavailable so extraction falls back to patterns.
func New(cfg config.LLMConfig) (Client, error) {
	opts := Options{
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey.Value(),
		Timeout:           cfg.Timeout.Duration(),
		RequestsPerMinute: cfg.RequestsPerMinute,
	}
	switch cfg.Provider {
	case "", "none":
		return Unavailable, nil
	case "anthropic":
		return NewAnthropic(opts)
	case "openai":
		return NewOpenAI(opts)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
