package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MaxStoredMessageRunes bounds a single stored turn.
const MaxStoredMessageRunes = 25000

type DialogMessage struct {
	DialogID  int64
	Role      Role
	Text      string
	CreatedAt time.Time
}

// ImageTask is a stored image generation. FirstHash is the lineage root shared by
// every reroll, upscale and variation derived from the original prompt.
type ImageTask struct {
	ID        int64
	UserID    int64
	Prompt    string
	Hash      string
	FirstHash string
	ImageName string
	CreatedAt time.Time
	UpdatedAt time.Time
}
