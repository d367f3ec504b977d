package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// WelcomeMessageID marks the canned greeting shown when a chat view opens.
// It lives only in memory and is never persisted to the backend.
const WelcomeMessageID = "welcome"

type Message struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	IsFlagged  bool      `json:"is_flagged"`
	FlagReason string    `json:"flag_reason,omitempty"`

	// SavedToServer tracks whether this exact message instance has been
	// durably persisted, so a later resync does not re-send it.
	SavedToServer bool `json:"saved_to_server"`

	// Rejected marks a message the backend definitively refused to store.
	// It stays in the transcript but is excluded from further sync attempts.
	Rejected bool `json:"rejected,omitempty"`
}

type Chat struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	IsFlagged   bool      `json:"is_flagged"`
	FlagReason  string    `json:"flag_reason,omitempty"`
}

// ChatSummary is the list-view shape: no message bodies, just a count.
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	IsFlagged    bool      `json:"is_flagged"`
	FlagReason   string    `json:"flag_reason,omitempty"`
	MessageCount int       `json:"message_count"`
}

// User is the identity consumed from the auth layer. The gateway does not
// own authentication; it only records users for moderation purposes.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
