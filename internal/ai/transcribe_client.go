package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

type TranscriptionClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// TranscriptionClient turns voice notes into text through /audio/transcriptions.
type TranscriptionClient struct {
	apiKey    string
	model     string
	transport Transport
}

func NewTranscriptionClient(config TranscriptionClientConfig) *TranscriptionClient {
	if config.MaxRetries == 0 {
		config.MaxRetries = 1
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = "whisper-1"
	}
	apiKey := strings.TrimSpace(config.APIKey)
	return &TranscriptionClient{
		apiKey: apiKey,
		model:  config.Model,
		transport: NewTransport("openai-audio", config.BaseURL, "https://api.openai.com/v1", config.Timeout, config.MaxRetries, config.HTTPClient,
			func(header http.Header) {
				header.Set("Authorization", "Bearer "+apiKey)
			}),
	}
}

func (c *TranscriptionClient) Available() bool {
	return c.apiKey != ""
}

func (c *TranscriptionClient) Transcribe(ctx context.Context, fileName string, audio io.Reader) (string, error) {
	if !c.Available() {
		return "", ErrProviderUnavailable
	}
	if strings.TrimSpace(fileName) == "" {
		fileName = "voice.ogg"
	}

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	if err := writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("create file field: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	body, err := c.transport.Do(ctx, http.MethodPost, "/audio/transcriptions", form.Bytes(), writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	if strings.TrimSpace(result.Text) == "" {
		return "", errors.New("empty transcription")
	}
	return strings.TrimSpace(result.Text), nil
}
