// Package bedrock backs the RCA Inferencer (C7) and the Knowledge
// Store's (C4) embedding step with AWS Bedrock: Titan embeddings for
// Embed, and Claude-on-Bedrock (the InvokeModel Messages wire format)
// for Complete, so a deployment without direct Anthropic API access can
// still run the full cascade through one AWS account.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// DefaultTitanModel is Amazon's general-purpose text embedding model.
const DefaultTitanModel = "amazon.titan-embed-text-v2:0"

// DefaultMaxTokens bounds a single Claude-on-Bedrock completion.
const DefaultMaxTokens = 1024

// claudeAnthropicVersion is the Bedrock Messages API's required version
// tag for Anthropic models invoked through InvokeModel.
const claudeAnthropicVersion = "bedrock-2023-05-31"

// invokeModelAPI is the subset of *bedrockruntime.Client both backends
// need, declared narrowly so tests can substitute a fake instead of
// standing up real AWS credentials.
type invokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// TitanEmbedder embeds text via Bedrock's Titan Embeddings model,
// satisfying knowledge.Embedder.
type TitanEmbedder struct {
	client  invokeModelAPI
	modelID string
}

// NewTitanEmbedder wraps client (typically a *bedrockruntime.Client; any
// invokeModelAPI works, so tests can substitute a fake). An empty
// modelID uses DefaultTitanModel.
func NewTitanEmbedder(client invokeModelAPI, modelID string) *TitanEmbedder {
	if modelID == "" {
		modelID = DefaultTitanModel
	}
	return &TitanEmbedder{client: client, modelID: modelID}
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns text's embedding vector.
func (e *TitanEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode titan embed request: %w", err)
	}

	out, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("titan embed invocation failed: %w", err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode titan embed response: %w", err)
	}
	return resp.Embedding, nil
}

// ChatClient completes prompts through a Claude model invoked via
// Bedrock's InvokeModel API, satisfying rca.ModelClient.
type ChatClient struct {
	client    invokeModelAPI
	modelID   string
	maxTokens int
}

// NewChatClient wraps client against modelID (e.g. a Claude-on-Bedrock
// model id). maxTokens ≤ 0 uses DefaultMaxTokens.
func NewChatClient(client invokeModelAPI, modelID string, maxTokens int) *ChatClient {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &ChatClient{client: client, modelID: modelID, maxTokens: maxTokens}
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeResponse struct {
	Content []claudeContentBlock `json:"content"`
}

// ChatCompletion submits prompt as a single user turn and returns the
// model's text response.
func (c *ChatClient) ChatCompletion(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(claudeRequest{
		AnthropicVersion: claudeAnthropicVersion,
		MaxTokens:        c.maxTokens,
		Messages:         []claudeMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode bedrock claude request: %w", err)
	}

	out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("bedrock claude invocation failed: %w", err)
	}

	var resp claudeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode bedrock claude response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("bedrock claude completion returned no content blocks")
	}
	return resp.Content[0].Text, nil
}
