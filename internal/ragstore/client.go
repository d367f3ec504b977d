// Package ragstore is the HTTP client for the Python RAG backend that owns
// durable chat state. It translates chat, message and moderation operations
// into REST calls and normalizes failures into the typed errors in errors.go.
package ragstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutortron/gateway/internal/model"
)

type Client struct {
	baseURL string
	httpc   *http.Client
	log     zerolog.Logger
}

func New(baseURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:5001"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "ragstore").Logger(),
	}
}

// SetHTTPClient overrides the transport, mainly for tests.
func (c *Client) SetHTTPClient(h *http.Client) { c.httpc = h }

// do issues one JSON request and decodes a 2xx body into out (if non-nil).
// Non-2xx statuses and transport failures come back as typed errors.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ragstore: %s: marshal request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("ragstore: %s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Op: op}
	case resp.StatusCode >= 500:
		return &ServerError{Op: op, Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &ValidationError{Op: op, Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &MalformedResponseError{Op: op, Err: err}
	}
	return nil
}

// Wire shapes. The backend speaks camelCase; the gateway's own API does not,
// so these DTOs stay private and are mapped to internal/model at the edge.

type wireMessage struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	IsFlagged  bool   `json:"is_flagged"`
	FlagReason string `json:"flag_reason"`
}

type wireChat struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Title        string        `json:"title"`
	CreatedAt    string        `json:"created_at"`
	UpdatedAt    string        `json:"updated_at"`
	IsFlagged    bool          `json:"is_flagged"`
	FlagReason   string        `json:"flag_reason"`
	MessageCount int           `json:"message_count"`
	Messages     []wireMessage `json:"messages"`
}

func parseWireTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (w wireChat) summary() model.ChatSummary {
	return model.ChatSummary{
		ID:           w.ID,
		Title:        w.Title,
		CreatedAt:    parseWireTime(w.CreatedAt),
		LastUpdated:  parseWireTime(w.UpdatedAt),
		IsFlagged:    w.IsFlagged,
		FlagReason:   w.FlagReason,
		MessageCount: w.MessageCount,
	}
}

func (w wireChat) chat() model.Chat {
	out := model.Chat{
		ID:          w.ID,
		UserID:      w.UserID,
		Title:       w.Title,
		CreatedAt:   parseWireTime(w.CreatedAt),
		LastUpdated: parseWireTime(w.UpdatedAt),
		IsFlagged:   w.IsFlagged,
		FlagReason:  w.FlagReason,
		Messages:    make([]model.Message, 0, len(w.Messages)),
	}
	for _, m := range w.Messages {
		out.Messages = append(out.Messages, model.Message{
			ID:            m.ID,
			Role:          m.Role,
			Content:       m.Content,
			Timestamp:     parseWireTime(m.Timestamp),
			IsFlagged:     m.IsFlagged,
			FlagReason:    m.FlagReason,
			SavedToServer: true,
		})
	}
	return out
}

// ListChats returns the user's chats, most recently updated first.
func (c *Client) ListChats(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	var decoded struct {
		Chats []wireChat `json:"chats"`
	}
	q := url.Values{"userId": {userID}}
	if err := c.do(ctx, "list chats", http.MethodGet, "/api/chats", q, nil, &decoded); err != nil {
		return nil, err
	}
	out := make([]model.ChatSummary, 0, len(decoded.Chats))
	for _, w := range decoded.Chats {
		out = append(out, w.summary())
	}
	return out, nil
}

type CreateChatParams struct {
	UserID    string
	UserName  string
	UserEmail string
	Title     string
	// ChatID is an optional client-side temporary id the server may adopt
	// or replace; the returned id is authoritative either way.
	ChatID string
}

// CreateChat creates a chat and returns the server-assigned id.
func (c *Client) CreateChat(ctx context.Context, p CreateChatParams) (string, error) {
	body := map[string]any{
		"userId":    p.UserID,
		"userName":  p.UserName,
		"userEmail": p.UserEmail,
		"title":     p.Title,
	}
	if p.ChatID != "" {
		body["chatId"] = p.ChatID
	}
	var decoded struct {
		ChatID string `json:"chatId"`
	}
	if err := c.do(ctx, "create chat", http.MethodPost, "/api/chats", nil, body, &decoded); err != nil {
		return "", err
	}
	if decoded.ChatID == "" {
		return "", &MalformedResponseError{Op: "create chat", Err: errMissingField("chatId")}
	}
	return decoded.ChatID, nil
}

// LoadChat fetches a chat with its full message list. A missing chat is
// (nil, nil), distinguishing absence from transport failure.
func (c *Client) LoadChat(ctx context.Context, chatID, userID string, isAdmin bool) (*model.Chat, error) {
	q := url.Values{"userId": {userID}}
	if isAdmin {
		q.Set("isAdmin", "true")
	}
	var decoded struct {
		Chat *wireChat `json:"chat"`
	}
	err := c.do(ctx, "load chat", http.MethodGet, "/api/chats/"+url.PathEscape(chatID), q, nil, &decoded)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	if decoded.Chat == nil {
		return nil, nil
	}
	chat := decoded.Chat.chat()
	return &chat, nil
}

type AppendParams struct {
	ChatID    string
	Role      string
	Content   string
	MessageID string // optional client-side id
	UserID    string
}

type AppendResult struct {
	MessageID  string
	IsFlagged  bool
	FlagReason string
}

// AppendMessage persists one message. The backend may run its own moderation
// pass; its verdict in the result is authoritative for the stored message.
func (c *Client) AppendMessage(ctx context.Context, p AppendParams) (AppendResult, error) {
	body := map[string]any{
		"role":    p.Role,
		"content": p.Content,
		"userId":  p.UserID,
	}
	if p.MessageID != "" {
		body["messageId"] = p.MessageID
	}
	var decoded struct {
		MessageID  string `json:"messageId"`
		IsFlagged  bool   `json:"isFlagged"`
		FlagReason string `json:"flagReason"`
	}
	path := "/api/chats/" + url.PathEscape(p.ChatID) + "/messages"
	if err := c.do(ctx, "append message", http.MethodPost, path, nil, body, &decoded); err != nil {
		return AppendResult{}, err
	}
	if decoded.MessageID == "" {
		return AppendResult{}, &MalformedResponseError{Op: "append message", Err: errMissingField("messageId")}
	}
	return AppendResult{
		MessageID:  decoded.MessageID,
		IsFlagged:  decoded.IsFlagged,
		FlagReason: decoded.FlagReason,
	}, nil
}

func (c *Client) RenameChat(ctx context.Context, userID, chatID, title string) error {
	body := map[string]any{"title": title, "userId": userID}
	return c.do(ctx, "rename chat", http.MethodPut, "/api/chats/"+url.PathEscape(chatID), nil, body, nil)
}

func (c *Client) DeleteChat(ctx context.Context, userID, chatID string) error {
	q := url.Values{"userId": {userID}}
	return c.do(ctx, "delete chat", http.MethodDelete, "/api/chats/"+url.PathEscape(chatID), q, nil, nil)
}

func errMissingField(name string) error {
	return fmt.Errorf("missing field %q", name)
}
