package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tutortron/gateway/internal/common"
	"github.com/tutortron/gateway/internal/config"
	"github.com/tutortron/gateway/internal/httpapi/handlers"
	"github.com/tutortron/gateway/internal/httpapi/middleware"
	"github.com/tutortron/gateway/internal/users"
)

func NewRouter(h *handlers.Handler, userRepo *users.Repo, cfg config.Config, reg *prometheus.Registry, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())

	if len(cfg.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.CORSOrigins
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
		r.Use(cors.New(corsCfg))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/healthz", func(c *gin.Context) {
		common.OK(c, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	r.POST("/auth/admin/login", h.AdminLogin)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Tokens, userRepo))
	authGroup.GET("/chats", h.ListChats)
	authGroup.POST("/chats", h.CreateChat)
	authGroup.GET("/chats/:chat_id", h.GetChat)
	authGroup.POST("/chats/:chat_id/messages", h.SendMessage)
	authGroup.PUT("/chats/:chat_id", h.RenameChat)
	authGroup.DELETE("/chats/:chat_id", h.DeleteChat)

	adminGroup := authGroup.Group("/admin")
	adminGroup.Use(middleware.AdminRequired())
	adminGroup.GET("/chats", h.AdminChats)
	adminGroup.GET("/flagged-content", h.AdminFlaggedContent)
	adminGroup.GET("/statistics", h.AdminStatistics)
	adminGroup.GET("/activities", h.AdminActivities)
	adminGroup.GET("/users", h.AdminUsers)
	adminGroup.POST("/flag-chat", h.AdminFlagChat)
	adminGroup.POST("/flag-message", h.AdminFlagMessage)
	adminGroup.POST("/users/:id/block", h.AdminBlockUser)
	adminGroup.POST("/users/:id/unblock", h.AdminUnblockUser)

	return r
}
