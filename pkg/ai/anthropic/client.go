// Package anthropic backs the RCA Inferencer's (C7) model cascade with
// Claude Sonnet (mid-capability) and Claude Opus (high-capability)
// directly through the Anthropic Messages API, as an alternative to the
// Bedrock-fronted path in pkg/ai/bedrock.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultMaxTokens bounds a single completion when the caller doesn't
// override it.
const DefaultMaxTokens = 1024

// Client is a single Claude model's chat-completion surface, satisfying
// rca.ModelClient.
type Client struct {
	sdk       anthropic.Client
	modelID   string
	maxTokens int64
}

// NewClient builds a Client against modelID (e.g. a Sonnet or Opus model
// string, per the core's policy of not encoding vendor specifics beyond
// the model_id string). maxTokens ≤ 0 uses DefaultMaxTokens.
func NewClient(apiKey, modelID string, maxTokens int) *Client {
	return NewClientWithOptions(modelID, maxTokens, option.WithAPIKey(apiKey))
}

// NewClientWithOptions builds a Client with caller-supplied SDK options,
// so callers (and tests, pointed at an httptest server via
// option.WithBaseURL) can override transport and auth independently of
// NewClient's API-key-only convenience constructor.
func NewClientWithOptions(modelID string, maxTokens int, opts ...option.RequestOption) *Client {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Client{
		sdk:       anthropic.NewClient(opts...),
		modelID:   modelID,
		maxTokens: int64(maxTokens),
	}
}

// ChatCompletion submits prompt as a single user turn and returns the
// model's text response.
func (c *Client) ChatCompletion(ctx context.Context, prompt string) (string, error) {
	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelID),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}
	if len(msg.Content) == 0 {
		return "", fmt.Errorf("anthropic completion returned no content blocks")
	}
	return msg.Content[0].Text, nil
}
