package contextbuilder

import (
	"strings"

	"github.com/iago/genbot-dispatch/internal/ai"
	"github.com/iago/genbot-dispatch/internal/domain"
)

const defaultMaxInputTokens = 24000

type BuildInput struct {
	History        []domain.DialogMessage
	SystemPrompt   string
	MaxInputTokens int
}

type BuildOutput struct {
	Messages   []ai.Message
	TokenCount int
	// Dropped counts history messages left out to fit the budget.
	Dropped int
}

// Builder turns stored dialog history into provider messages.
type Builder struct {
	maxInputTokens int
}

func NewBuilder(maxInputTokens int) *Builder {
	if maxInputTokens <= 0 {
		maxInputTokens = defaultMaxInputTokens
	}
	return &Builder{maxInputTokens: maxInputTokens}
}

// Build keeps the newest messages that fit the token budget, merges runs of
// the same role and makes sure the conversation opens with a user turn. The
// newest message is always kept.
func (b *Builder) Build(input BuildInput) BuildOutput {
	budget := input.MaxInputTokens
	if budget <= 0 {
		budget = b.maxInputTokens
	}

	systemPrompt := strings.TrimSpace(input.SystemPrompt)
	total := estimateTokens(systemPrompt)

	start := len(input.History)
	for index := len(input.History) - 1; index >= 0; index-- {
		text := strings.TrimSpace(input.History[index].Text)
		if text == "" {
			continue
		}
		cost := estimateTokens(text)
		if total+cost > budget && start < len(input.History) {
			break
		}
		total += cost
		start = index
	}

	selected := mergeRoles(input.History[start:])
	for len(selected) > 0 && selected[0].Role != ai.RoleUser {
		total -= estimateTokens(selected[0].Content)
		selected = selected[1:]
	}

	messages := make([]ai.Message, 0, len(selected)+1)
	if systemPrompt != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, selected...)

	return BuildOutput{
		Messages:   messages,
		TokenCount: total,
		Dropped:    start,
	}
}

func mergeRoles(history []domain.DialogMessage) []ai.Message {
	merged := make([]ai.Message, 0, len(history))
	for _, message := range history {
		text := strings.TrimSpace(message.Text)
		if text == "" {
			continue
		}
		role := ai.RoleUser
		if message.Role == domain.RoleAssistant {
			role = ai.RoleAssistant
		}
		if last := len(merged) - 1; last >= 0 && merged[last].Role == role {
			merged[last].Content += "\n\n" + text
			continue
		}
		merged = append(merged, ai.Message{Role: role, Content: text})
	}
	return merged
}

func estimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	count := len([]rune(trimmed)) / 4
	if count < 1 {
		count = 1
	}
	return count
}
