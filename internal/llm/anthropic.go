package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type anthropicClient struct {
	model string
	t     *transport
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// NewAnthropic creates a client for the Anthropic Messages API.
func NewAnthropic(opts Options) (Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic API key required")
	}
	model := opts.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &anthropicClient{model: model, t: newTransport(opts, defaultAnthropicBaseURL)}, nil
}

func (a *anthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"X-API-Key":         a.t.apiKey,
		"Anthropic-Version": "2023-06-01",
	}

	body, err := a.t.call(ctx, "/v1/messages", headers, req, decodeProviderError)
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	for _, c := range resp.Content {
		if c.Type == "text" || c.Type == "" {
			return c.Text, nil
		}
	}
	return "", ErrEmptyResponse
}
