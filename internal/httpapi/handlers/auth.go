package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tutortron/gateway/internal/activity"
	"github.com/tutortron/gateway/internal/auth"
	"github.com/tutortron/gateway/internal/common"
	"github.com/tutortron/gateway/internal/users"
)

type adminLoginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AdminLogin checks the configured dashboard credential and issues an admin
// token. Student tokens come from the identity provider, never from here.
func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if req.Email != h.Cfg.AdminEmail || !auth.CheckPassword(h.Cfg.AdminPasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid credentials")
		return
	}

	token, err := h.Tokens.Sign("admin", "Administrator", h.Cfg.AdminEmail, users.RoleAdmin)
	if err != nil {
		h.Log.Error().Err(err).Msg("token sign failed")
		common.Fail(c, http.StatusInternalServerError, 50013, "failed to issue token")
		return
	}

	h.Tracker.Track(c.Request.Context(), "admin", activity.ActionAdminLogin, "", "")
	common.OK(c, gin.H{"token": token, "role": users.RoleAdmin})
}
