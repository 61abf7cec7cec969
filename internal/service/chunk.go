package service

import "strings"

// DefaultChunkSize keeps each Telegram message under the 4096 character limit.
const DefaultChunkSize = 4000

// SplitMessage cuts text into pieces of at most size runes. A break after a
// newline is preferred when one falls in the second half of the window.
func SplitMessage(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for len(runes) > size {
		cut := size
		for i := size - 1; i >= size/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
