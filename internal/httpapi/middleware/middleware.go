package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tutortron/gateway/internal/auth"
	"github.com/tutortron/gateway/internal/common"
	"github.com/tutortron/gateway/internal/model"
	"github.com/tutortron/gateway/internal/users"
)

const (
	UserKey      = "auth_user"
	RequestIDKey = "request_id"
)

// Recovery converts panics into a logged 500 with the standard envelope.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Msg("handler panic")
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// RequestID tags every request with a ULID, echoed in X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			if u, err := common.NewULID(); err == nil {
				id = u
			}
		}
		c.Set(RequestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// AuthRequired validates the bearer token and stores the caller's identity.
// Blocked users are rejected here so no chat route needs its own check.
func AuthRequired(tokens *auth.Tokens, userRepo *users.Repo) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			common.Fail(c, http.StatusUnauthorized, 40101, "malformed authorization header")
			c.Abort()
			return
		}

		claims, err := tokens.Parse(parts[1])
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid or expired token")
			c.Abort()
			return
		}

		user := model.User{
			ID:    claims.UserID,
			Name:  claims.Name,
			Email: claims.Email,
			Role:  claims.Role,
		}

		if userRepo != nil {
			if err := userRepo.EnsureSeen(c.Request.Context(), user.ID, user.Name, user.Email, user.Role); err == nil {
				if u, gerr := userRepo.Get(c.Request.Context(), user.ID); gerr == nil && u.Status == users.StatusBlocked {
					common.Fail(c, http.StatusForbidden, 40301, "account blocked")
					c.Abort()
					return
				}
			}
		}

		c.Set(UserKey, user)
		c.Next()
	}
}

// AdminRequired runs after AuthRequired and gates on the admin role.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := UserFromContext(c)
		if !ok || user.Role != users.RoleAdmin {
			common.Fail(c, http.StatusForbidden, 40302, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

func UserFromContext(c *gin.Context) (model.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return model.User{}, false
	}
	u, ok := v.(model.User)
	return u, ok
}
