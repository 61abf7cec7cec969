package ai

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct{ name string }

func (s stubProvider) Complete(context.Context, ChatRequest) (ChatResult, error) {
	return ChatResult{Text: s.name}, nil
}

func TestRouterSelect(t *testing.T) {
	chat := stubProvider{name: "chat"}
	claude := stubProvider{name: "claude"}
	router := NewRouter(chat, claude, RouterConfig{})

	provider, model, err := router.Select("chatgpt", "")
	if err != nil || provider != chat || model != "gpt-4o-mini" {
		t.Fatalf("unexpected chatgpt route: %v %q %v", provider, model, err)
	}
	provider, model, err = router.Select("claude", "claude-3-opus-latest")
	if err != nil || provider != claude || model != "claude-3-opus-latest" {
		t.Fatalf("unexpected claude route: %v %q %v", provider, model, err)
	}
	provider, _, err = router.Select("chatgpt", "claude-3-haiku")
	if err != nil || provider != claude {
		t.Fatalf("expected claude model to route to anthropic, got %v err=%v", provider, err)
	}

	if _, _, err := NewRouter(nil, nil, RouterConfig{}).Select("chatgpt", ""); err == nil {
		t.Fatalf("expected error without providers")
	}
}

func TestRouterRejectsProviderWithoutKey(t *testing.T) {
	router := NewRouter(NewChatClient(ChatClientConfig{}), nil, RouterConfig{})
	_, _, err := router.Select("chatgpt", "")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}
