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

type ChatClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// ChatClient talks to an OpenAI compatible /chat/completions endpoint.
type ChatClient struct {
	apiKey    string
	transport Transport
}

func NewChatClient(config ChatClientConfig) *ChatClient {
	if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}
	apiKey := strings.TrimSpace(config.APIKey)
	return &ChatClient{
		apiKey: apiKey,
		transport: NewTransport("openai", config.BaseURL, "https://api.openai.com/v1", config.Timeout, config.MaxRetries, config.HTTPClient,
			func(header http.Header) {
				header.Set("Authorization", "Bearer "+apiKey)
			}),
	}
}

func (c *ChatClient) Available() bool {
	return c.apiKey != ""
}

func (c *ChatClient) Complete(ctx context.Context, request ChatRequest) (ChatResult, error) {
	if !c.Available() {
		return ChatResult{}, ErrProviderUnavailable
	}
	if strings.TrimSpace(request.Model) == "" {
		return ChatResult{}, errors.New("model is required")
	}
	if len(request.Messages) == 0 {
		return ChatResult{}, errors.New("messages are required")
	}

	messages := make([]map[string]string, 0, len(request.Messages))
	for _, message := range request.Messages {
		messages = append(messages, map[string]string{
			"role":    string(message.Role),
			"content": message.Content,
		})
	}
	payload := map[string]any{
		"model":    request.Model,
		"messages": messages,
	}
	if request.Temperature > 0 {
		payload["temperature"] = request.Temperature
	}
	if request.MaxOutputTokens > 0 {
		payload["max_tokens"] = request.MaxOutputTokens
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return ChatResult{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	body, err := c.transport.Do(ctx, http.MethodPost, "/chat/completions", encoded, "application/json")
	if err != nil {
		return ChatResult{}, err
	}

	var raw chatCompletionsResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return ChatResult{}, fmt.Errorf("decode chat response: %w", err)
	}
	text := extractChatText(raw)
	if strings.TrimSpace(text) == "" {
		return ChatResult{}, errors.New("chat response without text output")
	}

	return ChatResult{
		Text:    text,
		ModelID: firstNonEmpty(raw.Model, request.Model),
		Usage: TokenUsage{
			InputTokens:  raw.Usage.PromptTokens,
			OutputTokens: raw.Usage.CompletionTokens,
			TotalTokens:  raw.Usage.TotalTokens,
		},
	}, nil
}

type chatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func extractChatText(response chatCompletionsResponse) string {
	if len(response.Choices) == 0 {
		return ""
	}
	switch typed := response.Choices[0].Message.Content.(type) {
	case string:
		return strings.TrimSpace(typed)
	case []any:
		fragments := make([]string, 0, len(typed))
		for _, item := range typed {
			fragment, ok := item.(map[string]any)
			if !ok {
				continue
			}
			textValue, _ := fragment["text"].(string)
			if strings.TrimSpace(textValue) == "" {
				continue
			}
			fragments = append(fragments, strings.TrimSpace(textValue))
		}
		return strings.Join(fragments, "\n")
	default:
		return ""
	}
}
