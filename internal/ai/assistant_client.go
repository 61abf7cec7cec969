package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Run states reported by the Assistants API.
const (
	RunQueued         = "queued"
	RunInProgress     = "in_progress"
	RunCompleted      = "completed"
	RunRequiresAction = "requires_action"
	RunCancelling     = "cancelling"
	RunCancelled      = "cancelled"
	RunFailed         = "failed"
	RunExpired        = "expired"
	RunIncomplete     = "incomplete"
)

type AssistantClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// AssistantClient drives the thread/run flow of the Assistants API.
type AssistantClient struct {
	apiKey    string
	transport Transport
}

type Run struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
	// LastError is set by the API for failed runs.
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

func NewAssistantClient(config AssistantClientConfig) *AssistantClient {
	if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}
	apiKey := strings.TrimSpace(config.APIKey)
	return &AssistantClient{
		apiKey: apiKey,
		transport: NewTransport("openai-assistants", config.BaseURL, "https://api.openai.com/v1", config.Timeout, config.MaxRetries, config.HTTPClient,
			func(header http.Header) {
				header.Set("Authorization", "Bearer "+apiKey)
				header.Set("OpenAI-Beta", "assistants=v2")
			}),
	}
}

func (c *AssistantClient) Available() bool {
	return c.apiKey != ""
}

// CreateThread opens a thread seeded with messages. System messages are not
// accepted by threads and are skipped.
func (c *AssistantClient) CreateThread(ctx context.Context, messages []Message) (string, error) {
	if !c.Available() {
		return "", ErrProviderUnavailable
	}
	items := make([]map[string]string, 0, len(messages))
	for _, message := range messages {
		if message.Role == RoleSystem {
			continue
		}
		items = append(items, map[string]string{"role": string(message.Role), "content": message.Content})
	}
	encoded, err := json.Marshal(map[string]any{"messages": items})
	if err != nil {
		return "", fmt.Errorf("marshal thread payload: %w", err)
	}

	body, err := c.transport.Do(ctx, http.MethodPost, "/threads", encoded, "application/json")
	if err != nil {
		return "", err
	}
	var thread struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &thread); err != nil {
		return "", fmt.Errorf("decode thread: %w", err)
	}
	if thread.ID == "" {
		return "", errors.New("thread response without id")
	}
	return thread.ID, nil
}

func (c *AssistantClient) StartRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	if !c.Available() {
		return Run{}, ErrProviderUnavailable
	}
	if strings.TrimSpace(assistantID) == "" {
		return Run{}, errors.New("assistant id is required")
	}
	encoded, err := json.Marshal(map[string]string{"assistant_id": assistantID})
	if err != nil {
		return Run{}, fmt.Errorf("marshal run payload: %w", err)
	}

	body, err := c.transport.Do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs", encoded, "application/json")
	if err != nil {
		return Run{}, err
	}
	return decodeRun(body)
}

func (c *AssistantClient) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	if !c.Available() {
		return Run{}, ErrProviderUnavailable
	}
	body, err := c.transport.Do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID)+"/runs/"+url.PathEscape(runID), nil, "")
	if err != nil {
		return Run{}, err
	}
	return decodeRun(body)
}

// LatestReply returns the text of the newest assistant message in the thread.
func (c *AssistantClient) LatestReply(ctx context.Context, threadID string) (string, error) {
	if !c.Available() {
		return "", ErrProviderUnavailable
	}
	body, err := c.transport.Do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID)+"/messages?order=desc&limit=10", nil, "")
	if err != nil {
		return "", err
	}

	var list struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return "", fmt.Errorf("decode thread messages: %w", err)
	}
	for _, message := range list.Data {
		if message.Role != string(RoleAssistant) {
			continue
		}
		fragments := make([]string, 0, len(message.Content))
		for _, part := range message.Content {
			if part.Type == "text" && strings.TrimSpace(part.Text.Value) != "" {
				fragments = append(fragments, strings.TrimSpace(part.Text.Value))
			}
		}
		if len(fragments) > 0 {
			return strings.Join(fragments, "\n"), nil
		}
	}
	return "", errors.New("thread has no assistant reply")
}

func decodeRun(body []byte) (Run, error) {
	var run Run
	if err := json.Unmarshal(body, &run); err != nil {
		return Run{}, fmt.Errorf("decode run: %w", err)
	}
	if run.ID == "" {
		return Run{}, errors.New("run response without id")
	}
	return run, nil
}
