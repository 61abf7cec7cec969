package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrProviderUnavailable = errors.New("ai provider unavailable: missing api key")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type ChatRequest struct {
	Model           string
	Messages        []Message
	Temperature     float64
	MaxOutputTokens int
}

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type ChatResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

// ChatProvider completes a conversation. Implementations: ChatClient, AnthropicClient.
type ChatProvider interface {
	Complete(ctx context.Context, request ChatRequest) (ChatResult, error)
}

// ProviderHTTPError is a non-2xx answer from a provider.
type ProviderHTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether err is worth another attempt: rate limits,
// server errors and timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *ProviderHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "tempor") || strings.Contains(message, "transport error")
}

// Transport is the request/retry plumbing shared by every provider client.
type Transport struct {
	provider   string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	header     func(http.Header)
}

func NewTransport(provider, baseURL, defaultBaseURL string, timeout time.Duration, maxRetries int, httpClient *http.Client, header func(http.Header)) Transport {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return Transport{
		provider:   provider,
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		timeout:    timeout,
		maxRetries: maxRetries,
		httpClient: httpClient,
		header:     header,
	}
}

// Do sends body to path and retries retryable failures with a linear backoff.
// It returns the 2xx response body.
func (t Transport) Do(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		response, err := t.once(ctx, method, path, body, contentType)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == t.maxRetries {
			break
		}

		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("unknown %s error", t.provider)
	}
	return nil, lastErr
}

func (t Transport) once(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(timeoutCtx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", t.provider, err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	request.Header.Set("Accept", "application/json")
	if t.header != nil {
		t.header(request.Header)
	}

	response, err := t.httpClient.Do(request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timeout: %w", t.provider, err)
		}
		return nil, fmt.Errorf("%s transport error: %w", t.provider, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", t.provider, err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := strings.TrimSpace(string(payload))
		if len(message) > 700 {
			message = message[:700]
		}
		return nil, &ProviderHTTPError{
			Provider:   t.provider,
			StatusCode: response.StatusCode,
			Message:    message,
		}
	}
	return payload, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
