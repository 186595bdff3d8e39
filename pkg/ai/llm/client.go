// Package llm talks to the RCA Inferencer's model backend: a LocalAI,
// Anthropic, Bedrock, or LangChain-fronted chat completion endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/sirupsen/logrus"

	"github.com/agenticaiops/incident-core/internal/config"
	"github.com/agenticaiops/incident-core/pkg/ai/anthropic"
	"github.com/agenticaiops/incident-core/pkg/ai/bedrock"
	"github.com/agenticaiops/incident-core/pkg/ai/langchain"
	"github.com/agenticaiops/incident-core/pkg/infrastructure/metrics"
)

// Client produces raw completions from the configured model backend for
// the RCA Inferencer to parse.
type Client interface {
	ChatCompletion(ctx context.Context, prompt string) (string, error)
	IsHealthy() bool
}

var validProviders = map[string]bool{
	"localai":   true,
	"anthropic": true,
	"bedrock":   true,
	"langchain": true,
}

// client is the default Client, speaking an OpenAI-compatible chat
// completion API against cfg.Endpoint.
type client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	log        *logrus.Logger
}

// NewClient validates cfg and builds a Client against the configured
// provider: localai and any other OpenAI-compatible endpoint speak
// directly to cfg.Endpoint; anthropic, bedrock, and langchain delegate
// to their dedicated backend packages.
func NewClient(cfg config.LLMConfig, log *logrus.Logger) (Client, error) {
	if !validProviders[cfg.Provider] {
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if cfg.Provider == "localai" && cfg.Model == "" {
		return nil, fmt.Errorf("model is required for provider: %s", cfg.Provider)
	}

	switch cfg.Provider {
	case "anthropic":
		return &backendClient{backend: anthropic.NewClient(cfg.APIKey, cfg.Model, cfg.MaxTokens), provider: cfg.Provider}, nil
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config for bedrock provider: %w", err)
		}
		brClient := bedrockruntime.NewFromConfig(awsCfg)
		return &backendClient{backend: bedrock.NewChatClient(brClient, cfg.Model, cfg.MaxTokens), provider: cfg.Provider}, nil
	case "langchain":
		lc, err := langchain.NewClient(cfg.Endpoint, cfg.Model, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to build langchain client: %w", err)
		}
		return &backendClient{backend: lc, provider: cfg.Provider}, nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

// chatBackend is the narrow surface the anthropic, bedrock, and
// langchain packages each satisfy directly, letting backendClient wrap
// any of them behind the same Client interface.
type chatBackend interface {
	ChatCompletion(ctx context.Context, prompt string) (string, error)
}

// backendClient adapts a chatBackend into the full Client interface,
// layering the shared call/latency accounting over the vendor SDK.
type backendClient struct {
	backend  chatBackend
	provider string
}

func (b *backendClient) ChatCompletion(ctx context.Context, prompt string) (string, error) {
	metrics.RecordSLMAPICall(b.provider)
	timer := metrics.NewTimer()
	out, err := b.backend.ChatCompletion(ctx, prompt)
	if err != nil {
		metrics.RecordSLMAPIError(b.provider, "completion_failed")
		return "", err
	}
	timer.RecordSLMAnalysis()
	return out, nil
}

// IsHealthy reports true: the vendor SDKs these backends wrap have no
// unauthenticated health-check endpoint to probe.
func (b *backendClient) IsHealthy() bool {
	return true
}

var _ Client = (*backendClient)(nil)

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMsg `json:"message"`
	} `json:"choices"`
}

// ChatCompletion sends prompt as a single user message and returns the
// model's raw text completion.
func (c *client) ChatCompletion(ctx context.Context, prompt string) (string, error) {
	metrics.RecordSLMAPICall(c.cfg.Provider)
	timer := metrics.NewTimer()
	out, err := c.chatCompletion(ctx, prompt)
	if err != nil {
		metrics.RecordSLMAPIError(c.cfg.Provider, "completion_failed")
		return "", err
	}
	timer.RecordSLMAnalysis()
	return out, nil
}

func (c *client) chatCompletion(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model backend returned status %d", resp.StatusCode)
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("model backend returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// IsHealthy sends a GET to the model backend's /healthz endpoint. A
// non-200 or unreachable endpoint is unhealthy.
func (c *client) IsHealthy() bool {
	req, err := http.NewRequest(http.MethodGet, c.cfg.Endpoint+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

var _ Client = (*client)(nil)
