package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type openAIClient struct {
	model string
	t     *transport
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAI creates a client for the OpenAI chat completions API. BaseURL
// may point at any compatible server.
func NewOpenAI(opts Options) (Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai API key required")
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAIClient{model: model, t: newTransport(opts, defaultOpenAIBaseURL)}, nil
}

func (o *openAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := openAIRequest{
		Model:       o.model,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{"Authorization": "Bearer " + o.t.apiKey}

	body, err := o.t.call(ctx, "/v1/chat/completions", headers, req, decodeProviderError)
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
