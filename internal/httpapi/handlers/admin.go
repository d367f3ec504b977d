package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tutortron/gateway/internal/activity"
	"github.com/tutortron/gateway/internal/common"
	"github.com/tutortron/gateway/internal/httpapi/middleware"
	"github.com/tutortron/gateway/internal/ragstore"
	"github.com/tutortron/gateway/internal/users"
)

func intQuery(c *gin.Context, name string, def int) int {
	if raw := c.Query(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// AdminChats proxies the backend's cross-user chat listing.
func (h *Handler) AdminChats(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	chats, err := h.Backend.AdminChats(c.Request.Context(), limit, offset)
	if err != nil {
		h.Log.Error().Err(err).Msg("admin chats failed")
		common.Fail(c, http.StatusBadGateway, 50210, "failed to list chats")
		return
	}
	common.OK(c, gin.H{"chats": chats})
}

func (h *Handler) AdminFlaggedContent(c *gin.Context) {
	limit := intQuery(c, "limit", 50)

	flagged, err := h.Backend.FlaggedContent(c.Request.Context(), limit)
	if err != nil {
		h.Log.Error().Err(err).Msg("flagged content failed")
		common.Fail(c, http.StatusBadGateway, 50211, "failed to load flagged content")
		return
	}
	common.OK(c, flagged)
}

func (h *Handler) AdminStatistics(c *gin.Context) {
	stats, err := h.Backend.Statistics(c.Request.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("statistics failed")
		common.Fail(c, http.StatusBadGateway, 50212, "failed to load statistics")
		return
	}
	common.OK(c, gin.H{"statistics": stats})
}

// AdminActivities reads the gateway's own activity log, not the backend.
func (h *Handler) AdminActivities(c *gin.Context) {
	limit := intQuery(c, "limit", 50)

	var (
		entries []activity.Entry
		err     error
	)
	if c.Query("flagged") == "true" {
		entries, err = h.Activity.ListFlagged(c.Request.Context(), limit)
	} else {
		entries, err = h.Activity.ListRecent(c.Request.Context(), limit)
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("activities failed")
		common.Fail(c, http.StatusInternalServerError, 50010, "failed to load activities")
		return
	}
	common.OK(c, gin.H{"activities": entries})
}

func (h *Handler) AdminUsers(c *gin.Context) {
	limit := intQuery(c, "limit", 100)

	list, err := h.Users.List(c.Request.Context(), limit)
	if err != nil {
		h.Log.Error().Err(err).Msg("user list failed")
		common.Fail(c, http.StatusInternalServerError, 50011, "failed to list users")
		return
	}
	common.OK(c, gin.H{"users": list})
}

type flagChatReq struct {
	ChatID string `json:"chat_id" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) AdminFlagChat(c *gin.Context) {
	admin, _ := middleware.UserFromContext(c)

	var req flagChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.Backend.FlagChat(c.Request.Context(), req.ChatID, req.Reason); err != nil {
		var nferr *ragstore.NotFoundError
		if errors.As(err, &nferr) {
			common.Fail(c, http.StatusNotFound, 40401, "chat not found")
			return
		}
		h.Log.Error().Err(err).Str("chat_id", req.ChatID).Msg("flag chat failed")
		common.Fail(c, http.StatusBadGateway, 50213, "failed to flag chat")
		return
	}

	h.Tracker.Track(c.Request.Context(), admin.ID, activity.ActionFlagOverride, "chat "+req.ChatID+": "+req.Reason, "")
	common.OK(c, gin.H{"chat_id": req.ChatID, "reason": req.Reason})
}

type flagMessageReq struct {
	MessageID string `json:"message_id" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

func (h *Handler) AdminFlagMessage(c *gin.Context) {
	admin, _ := middleware.UserFromContext(c)

	var req flagMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.Backend.FlagMessage(c.Request.Context(), req.MessageID, req.Reason); err != nil {
		var nferr *ragstore.NotFoundError
		if errors.As(err, &nferr) {
			common.Fail(c, http.StatusNotFound, 40402, "message not found")
			return
		}
		h.Log.Error().Err(err).Str("message_id", req.MessageID).Msg("flag message failed")
		common.Fail(c, http.StatusBadGateway, 50214, "failed to flag message")
		return
	}

	h.Tracker.Track(c.Request.Context(), admin.ID, activity.ActionFlagOverride, "message "+req.MessageID+": "+req.Reason, "")
	common.OK(c, gin.H{"message_id": req.MessageID, "reason": req.Reason})
}

func (h *Handler) AdminBlockUser(c *gin.Context) {
	h.setUserStatus(c, users.StatusBlocked, activity.ActionUserBlocked)
}

func (h *Handler) AdminUnblockUser(c *gin.Context) {
	h.setUserStatus(c, users.StatusActive, activity.ActionUserUnblock)
}

func (h *Handler) setUserStatus(c *gin.Context, status, action string) {
	admin, _ := middleware.UserFromContext(c)
	userID := c.Param("id")

	if err := h.Users.SetStatus(c.Request.Context(), userID, status); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "user not found")
			return
		}
		h.Log.Error().Err(err).Str("user_id", userID).Msg("set status failed")
		common.Fail(c, http.StatusInternalServerError, 50012, "failed to update user")
		return
	}

	h.Tracker.Track(c.Request.Context(), admin.ID, action, userID, "")
	common.OK(c, gin.H{"user_id": userID, "status": status})
}
