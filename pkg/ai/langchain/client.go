// Package langchain backs the RCA Inferencer (C7) with any
// langchaingo-supported provider behind one OpenAI-compatible
// completion surface, for deployments that front a model gateway
// (e.g. LiteLLM, a self-hosted vLLM endpoint) rather than calling
// Anthropic or Bedrock directly.
package langchain

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Client completes prompts through a langchaingo llms.Model,
// satisfying rca.ModelClient.
type Client struct {
	llm llms.Model
}

// NewClient builds a Client against an OpenAI-compatible endpoint at
// baseURL. An empty model defers to the provider's default. Self-hosted
// gateways that don't enforce a real API key still need a non-empty
// token value, so an empty apiKey falls back to a placeholder.
func NewClient(baseURL, model, apiKey string) (*Client, error) {
	if apiKey == "" {
		apiKey = "not-needed"
	}
	opts := []openai.Option{
		openai.WithBaseURL(baseURL),
		openai.WithToken(apiKey),
	}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build langchain client: %w", err)
	}
	return &Client{llm: llm}, nil
}

// ChatCompletion submits prompt as a single turn and returns the
// model's text response.
func (c *Client) ChatCompletion(ctx context.Context, prompt string) (string, error) {
	completion, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("langchain completion failed: %w", err)
	}
	return completion, nil
}
