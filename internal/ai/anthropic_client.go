package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

type AnthropicClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	// MaxTokens is sent when a request does not set MaxOutputTokens. The API requires one.
	MaxTokens int
}

// AnthropicClient calls the Messages API.
type AnthropicClient struct {
	apiKey    string
	maxTokens int
	transport Transport
}

func NewAnthropicClient(config AnthropicClientConfig) *AnthropicClient {
	if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	apiKey := strings.TrimSpace(config.APIKey)
	return &AnthropicClient{
		apiKey:    apiKey,
		maxTokens: config.MaxTokens,
		transport: NewTransport("anthropic", config.BaseURL, "https://api.anthropic.com/v1", config.Timeout, config.MaxRetries, config.HTTPClient,
			func(header http.Header) {
				header.Set("x-api-key", apiKey)
				header.Set("anthropic-version", anthropicVersion)
			}),
	}
}

func (c *AnthropicClient) Available() bool {
	return c.apiKey != ""
}

func (c *AnthropicClient) Complete(ctx context.Context, request ChatRequest) (ChatResult, error) {
	if !c.Available() {
		return ChatResult{}, ErrProviderUnavailable
	}
	if strings.TrimSpace(request.Model) == "" {
		return ChatResult{}, errors.New("model is required")
	}

	// System turns go to the top level field; the API rejects them inside messages.
	systemParts := make([]string, 0)
	messages := make([]map[string]string, 0, len(request.Messages))
	for _, message := range request.Messages {
		if message.Role == RoleSystem {
			systemParts = append(systemParts, message.Content)
			continue
		}
		messages = append(messages, map[string]string{
			"role":    string(message.Role),
			"content": message.Content,
		})
	}
	if len(messages) == 0 {
		return ChatResult{}, errors.New("messages are required")
	}

	maxTokens := request.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	payload := map[string]any{
		"model":      request.Model,
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if len(systemParts) > 0 {
		payload["system"] = strings.Join(systemParts, "\n\n")
	}
	if request.Temperature > 0 {
		payload["temperature"] = request.Temperature
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return ChatResult{}, fmt.Errorf("marshal anthropic payload: %w", err)
	}

	body, err := c.transport.Do(ctx, http.MethodPost, "/messages", encoded, "application/json")
	if err != nil {
		return ChatResult{}, err
	}

	var raw anthropicMessagesResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return ChatResult{}, fmt.Errorf("decode anthropic response: %w", err)
	}
	fragments := make([]string, 0, len(raw.Content))
	for _, block := range raw.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			fragments = append(fragments, strings.TrimSpace(block.Text))
		}
	}
	text := strings.Join(fragments, "\n")
	if text == "" {
		return ChatResult{}, errors.New("anthropic response without text output")
	}

	return ChatResult{
		Text:    text,
		ModelID: firstNonEmpty(raw.Model, request.Model),
		Usage: TokenUsage{
			InputTokens:  raw.Usage.InputTokens,
			OutputTokens: raw.Usage.OutputTokens,
			TotalTokens:  raw.Usage.InputTokens + raw.Usage.OutputTokens,
		},
	}, nil
}

type anthropicMessagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
