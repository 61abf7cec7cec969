package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iago/genbot-dispatch/internal/ai"
	"github.com/iago/genbot-dispatch/internal/poll"
)

// Task states reported by the provider.
const (
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusProgress = "progress"
	StatusWaiting  = "waiting"
)

type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// Client submits Midjourney tasks through the userapi.ai proxy and reads their status.
type Client struct {
	apiKey    string
	transport ai.Transport
}

// Image is a finished generation.
type Image struct {
	Hash     string
	URL      string
	FileName string
	Size     int64
}

func NewClient(config ClientConfig) *Client {
	if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	apiKey := strings.TrimSpace(config.APIKey)
	return &Client{
		apiKey: apiKey,
		transport: ai.NewTransport("midjourney", config.BaseURL, "https://api.userapi.ai", config.Timeout, config.MaxRetries, config.HTTPClient,
			func(header http.Header) {
				header.Set("api-key", apiKey)
			}),
	}
}

func (c *Client) Available() bool {
	return c.apiKey != ""
}

func (c *Client) Imagine(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt is required")
	}
	return c.submit(ctx, "/midjourney/v2/imagine", map[string]any{"prompt": prompt})
}

// Reroll regenerates the grid of the task identified by hash. Callers pass
// the lineage root.
func (c *Client) Reroll(ctx context.Context, hash string) (string, error) {
	return c.submit(ctx, "/midjourney/v2/reroll", map[string]any{"hash": hash})
}

func (c *Client) Upscale(ctx context.Context, hash string, choice int) (string, error) {
	if choice < 1 || choice > 4 {
		return "", fmt.Errorf("choice %d out of range 1..4", choice)
	}
	return c.submit(ctx, "/midjourney/v2/upscale", map[string]any{"hash": hash, "choice": choice})
}

func (c *Client) Variation(ctx context.Context, hash string, choice int) (string, error) {
	if choice < 1 || choice > 4 {
		return "", fmt.Errorf("choice %d out of range 1..4", choice)
	}
	return c.submit(ctx, "/midjourney/v2/variation", map[string]any{"hash": hash, "choice": choice})
}

func (c *Client) submit(ctx context.Context, path string, payload map[string]any) (string, error) {
	if !c.Available() {
		return "", ai.ErrProviderUnavailable
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal midjourney payload: %w", err)
	}

	body, err := c.transport.Do(ctx, http.MethodPost, path, encoded, "application/json")
	if err != nil {
		return "", err
	}
	var response struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("decode midjourney submit: %w", err)
	}
	if response.Hash == "" {
		return "", errors.New("midjourney submit without hash")
	}
	return response.Hash, nil
}

type statusResponse struct {
	Hash         string `json:"hash"`
	Status       string `json:"status"`
	StatusReason string `json:"status_reason"`
	Result       *struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	} `json:"result"`
}

// Check asks for the status of hash once and classifies the answer for the
// poll loop. Provider "failed" and transport errors are retryable; anything
// the provider rejects outright is terminal.
func (c *Client) Check(ctx context.Context, hash string) poll.Result[Image] {
	if !c.Available() {
		return poll.Terminal[Image](ai.ErrProviderUnavailable)
	}

	body, err := c.transport.Do(ctx, http.MethodGet, "/midjourney/v2/status?hash="+url.QueryEscape(hash), nil, "")
	if err != nil {
		if ai.IsRetryable(err) {
			return poll.Retryable[Image](err)
		}
		return poll.Terminal[Image](err)
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return poll.Terminal[Image](fmt.Errorf("decode midjourney status: %w", err))
	}

	switch status.Status {
	case StatusDone:
		if status.Result == nil || status.Result.URL == "" {
			return poll.Terminal[Image](errors.New("midjourney task done without result url"))
		}
		return poll.Done(Image{
			Hash:     hash,
			URL:      status.Result.URL,
			FileName: status.Result.Filename,
			Size:     status.Result.Size,
		})
	case StatusFailed:
		return poll.Retryable[Image](fmt.Errorf("midjourney task failed: %s", firstNonEmpty(status.StatusReason, "no reason")))
	default:
		return poll.Pending[Image]()
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
