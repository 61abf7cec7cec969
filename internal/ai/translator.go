package ai

import (
	"context"
	"strings"
)

const translateInstructions = "Translate the user's text into English for an image generation prompt. " +
	"Reply with the translation only. If it is already English, repeat it unchanged."

// ChatTranslator translates image prompts to English with a chat model.
type ChatTranslator struct {
	provider ChatProvider
	model    string
}

func NewChatTranslator(provider ChatProvider, model string) *ChatTranslator {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	return &ChatTranslator{provider: provider, model: model}
}

func (t *ChatTranslator) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	result, err := t.provider.Complete(ctx, ChatRequest{
		Model: t.model,
		Messages: []Message{
			{Role: RoleSystem, Content: translateInstructions},
			{Role: RoleUser, Content: text},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}
