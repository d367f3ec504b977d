package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tutortron/gateway/internal/activity"
	"github.com/tutortron/gateway/internal/chatsync"
	"github.com/tutortron/gateway/internal/common"
	"github.com/tutortron/gateway/internal/httpapi/middleware"
	"github.com/tutortron/gateway/internal/ragstore"
	"github.com/tutortron/gateway/internal/users"
)

// ListChats returns the caller's chat history, newest first. When the
// backend is down the list comes from the fallback store and the response
// says so.
func (h *Handler) ListChats(c *gin.Context) {
	user, okk := middleware.UserFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chats, degraded, err := h.Chats.History(c.Request.Context(), user.ID)
	if err != nil {
		h.Log.Error().Err(err).Msg("list chats failed")
		common.Fail(c, http.StatusBadGateway, 50201, "failed to list chats")
		return
	}
	common.OK(c, gin.H{"chats": chats, "degraded": degraded})
}

// CreateChat opens a temporary chat. Nothing is persisted until the first
// message.
func (h *Handler) CreateChat(c *gin.Context) {
	user, okk := middleware.UserFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chat := h.Chats.NewChat(user)
	common.OK(c, gin.H{"chat": chat})
}

func (h *Handler) GetChat(c *gin.Context) {
	user, okk := middleware.UserFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chatID := c.Param("chat_id")

	chat, err := h.Chats.Load(c.Request.Context(), user, chatID, user.Role == users.RoleAdmin)
	if err != nil {
		var verr *ragstore.ValidationError
		if errors.As(err, &verr) {
			common.Fail(c, http.StatusBadRequest, 40001, verr.Message)
			return
		}
		h.Log.Error().Err(err).Str("chat_id", chatID).Msg("load chat failed")
		common.Fail(c, http.StatusBadGateway, 50202, "failed to load chat")
		return
	}
	if chat == nil {
		common.Fail(c, http.StatusNotFound, 40401, "chat not found")
		return
	}
	common.OK(c, gin.H{"chat": chat})
}

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
}

// SendMessage appends the user's message, persists it best-effort and
// returns the tutor's reply. A degraded response still carries the full
// transcript plus a user-facing notice.
func (h *Handler) SendMessage(c *gin.Context) {
	user, okk := middleware.UserFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chatID := c.Param("chat_id")

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.Chats.Send(c.Request.Context(), user, chatID, req.Message)
	if err != nil {
		if errors.Is(err, chatsync.ErrChatNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "chat not found")
			return
		}
		h.Log.Error().Err(err).Str("chat_id", chatID).Msg("send message failed")
		common.Fail(c, http.StatusBadGateway, 50203, "failed to send message")
		return
	}

	h.Tracker.Track(c.Request.Context(), user.ID, activity.ActionMessageSent, res.Chat.ID, req.Message)

	common.OK(c, gin.H{
		"chat_id":       res.Chat.ID,
		"title":         res.Chat.Title,
		"title_changed": res.TitleChanged,
		"message":       res.UserMessage,
		"reply":         res.Reply,
		"degraded":      res.Degraded,
		"notice":        res.Notice,
	})
}

type renameChatReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) RenameChat(c *gin.Context) {
	user, okk := middleware.UserFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chatID := c.Param("chat_id")

	var req renameChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.Chats.Rename(c.Request.Context(), user, chatID, req.Title); err != nil {
		var nferr *ragstore.NotFoundError
		if errors.As(err, &nferr) {
			common.Fail(c, http.StatusNotFound, 40401, "chat not found")
			return
		}
		h.Log.Error().Err(err).Str("chat_id", chatID).Msg("rename failed")
		common.Fail(c, http.StatusBadGateway, 50204, "failed to rename chat")
		return
	}

	h.Tracker.Track(c.Request.Context(), user.ID, activity.ActionChatRenamed, chatID, "")
	common.OK(c, gin.H{"chat_id": chatID, "title": req.Title})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	user, okk := middleware.UserFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chatID := c.Param("chat_id")

	if err := h.Chats.Delete(c.Request.Context(), user, chatID); err != nil {
		var nferr *ragstore.NotFoundError
		if errors.As(err, &nferr) {
			common.Fail(c, http.StatusNotFound, 40401, "chat not found")
			return
		}
		h.Log.Error().Err(err).Str("chat_id", chatID).Msg("delete failed")
		common.Fail(c, http.StatusBadGateway, 50205, "failed to delete chat")
		return
	}

	h.Tracker.Track(c.Request.Context(), user.ID, activity.ActionChatDeleted, chatID, "")
	common.OK(c, gin.H{"chat_id": chatID})
}
