package ragstore

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// AdminChat is the moderation-dashboard row: a chat joined with its owner
// and flag counters, as aggregated by the backend.
type AdminChat struct {
	ID                  string `json:"id"`
	Title               string `json:"title"`
	UserID              string `json:"user_id"`
	UserName            string `json:"user_name"`
	UserEmail           string `json:"user_email"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
	IsFlagged           bool   `json:"is_flagged"`
	FlagReason          string `json:"flag_reason"`
	MessageCount        int    `json:"message_count"`
	FlaggedMessageCount int    `json:"flagged_message_count"`
}

type FlaggedMessage struct {
	ID         string `json:"id"`
	ChatID     string `json:"chat_id"`
	ChatTitle  string `json:"chat_title"`
	UserName   string `json:"user_name"`
	UserEmail  string `json:"user_email"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	FlagReason string `json:"flag_reason"`
}

type FlaggedContent struct {
	FlaggedChats    []AdminChat      `json:"flagged_chats"`
	FlaggedMessages []FlaggedMessage `json:"flagged_messages"`
}

type Statistics struct {
	TotalChats      int `json:"total_chats"`
	TotalMessages   int `json:"total_messages"`
	FlaggedChats    int `json:"flagged_chats"`
	FlaggedMessages int `json:"flagged_messages"`
	ActiveUsers     int `json:"active_users"`
}

// AdminChats lists all chats across users for the moderation dashboard.
func (c *Client) AdminChats(ctx context.Context, limit, offset int) ([]AdminChat, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	var decoded struct {
		Chats []AdminChat `json:"chats"`
	}
	if err := c.do(ctx, "admin chats", http.MethodGet, "/api/admin/chats", q, nil, &decoded); err != nil {
		return nil, err
	}
	return decoded.Chats, nil
}

// FlaggedContent returns flagged chats and messages for review.
func (c *Client) FlaggedContent(ctx context.Context, limit int) (FlaggedContent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	var decoded struct {
		FlaggedChats    []AdminChat      `json:"flaggedChats"`
		FlaggedMessages []FlaggedMessage `json:"flaggedMessages"`
	}
	if err := c.do(ctx, "flagged content", http.MethodGet, "/api/admin/flagged-content", q, nil, &decoded); err != nil {
		return FlaggedContent{}, err
	}
	return FlaggedContent{
		FlaggedChats:    decoded.FlaggedChats,
		FlaggedMessages: decoded.FlaggedMessages,
	}, nil
}

func (c *Client) Statistics(ctx context.Context) (Statistics, error) {
	var decoded struct {
		Statistics *Statistics `json:"statistics"`
	}
	if err := c.do(ctx, "statistics", http.MethodGet, "/api/admin/statistics", nil, nil, &decoded); err != nil {
		return Statistics{}, err
	}
	if decoded.Statistics == nil {
		return Statistics{}, &MalformedResponseError{Op: "statistics", Err: errMissingField("statistics")}
	}
	return *decoded.Statistics, nil
}

func (c *Client) FlagChat(ctx context.Context, chatID, reason string) error {
	body := map[string]any{"chatId": chatID, "reason": reason}
	return c.do(ctx, "flag chat", http.MethodPost, "/api/admin/flag-chat", nil, body, nil)
}

func (c *Client) FlagMessage(ctx context.Context, messageID, reason string) error {
	body := map[string]any{"messageId": messageID, "reason": reason}
	return c.do(ctx, "flag message", http.MethodPost, "/api/admin/flag-message", nil, body, nil)
}

// Ask sends a question to the RAG pipeline and returns the tutor's answer.
// Persistence of the exchange is a separate concern (AppendMessage).
func (c *Client) Ask(ctx context.Context, userID, chatID, message string) (string, error) {
	body := map[string]any{
		"message":   message,
		"userId":    userID,
		"sessionId": chatID,
	}
	var decoded struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := c.do(ctx, "ask", http.MethodPost, "/chat", nil, body, &decoded); err != nil {
		return "", err
	}
	if decoded.Response == "" {
		return "", &MalformedResponseError{Op: "ask", Err: errMissingField("response")}
	}
	return decoded.Response, nil
}
