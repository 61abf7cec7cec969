package ai

import (
	"fmt"
	"strings"
)

type RouterConfig struct {
	DefaultChatModel   string
	DefaultClaudeModel string
}

// Router picks the chat provider and model for a text job from its queue and
// the model the user selected.
type Router struct {
	chat   ChatProvider
	claude ChatProvider
	config RouterConfig
}

func NewRouter(chat, claude ChatProvider, config RouterConfig) *Router {
	if strings.TrimSpace(config.DefaultChatModel) == "" {
		config.DefaultChatModel = "gpt-4o-mini"
	}
	if strings.TrimSpace(config.DefaultClaudeModel) == "" {
		config.DefaultClaudeModel = "claude-3-5-sonnet-latest"
	}
	return &Router{chat: chat, claude: claude, config: config}
}

func (r *Router) Select(queue, model string) (ChatProvider, string, error) {
	model = strings.TrimSpace(model)
	useClaude := queue == "claude" || strings.HasPrefix(strings.ToLower(model), "claude")

	provider, defaultModel := r.chat, r.config.DefaultChatModel
	if useClaude {
		provider, defaultModel = r.claude, r.config.DefaultClaudeModel
	}
	if provider == nil {
		return nil, "", fmt.Errorf("no provider for queue %q", queue)
	}
	if checker, ok := provider.(interface{ Available() bool }); ok && !checker.Available() {
		return nil, "", fmt.Errorf("queue %q: %w", queue, ErrProviderUnavailable)
	}
	return provider, firstNonEmpty(model, defaultModel), nil
}
