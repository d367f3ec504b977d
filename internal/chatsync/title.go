package chatsync

import "strings"

// PlaceholderTitle is the label a chat carries until its first user message.
const PlaceholderTitle = "New Chat"

const (
	titleMaxWords = 6
	titleMaxLen   = 50
)

// TitleFromMessage derives a short chat label from the first user message:
// the first six words, ellipsized when the message was longer, clamped to 50
// characters. Deterministic and idempotent on its own output.
func TitleFromMessage(firstUserMessage string) string {
	clean := strings.TrimSpace(firstUserMessage)
	if clean == "" {
		return PlaceholderTitle
	}

	words := strings.Fields(clean)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	title := strings.Join(words, " ")

	if len(clean) > len(title) {
		title += "..."
	}
	if len(title) < 3 {
		return PlaceholderTitle
	}
	if len(title) > titleMaxLen {
		title = title[:titleMaxLen-3] + "..."
	}
	return title
}
