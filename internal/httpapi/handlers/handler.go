package handlers

import (
	"github.com/rs/zerolog"

	"github.com/tutortron/gateway/internal/activity"
	"github.com/tutortron/gateway/internal/auth"
	"github.com/tutortron/gateway/internal/chatsync"
	"github.com/tutortron/gateway/internal/config"
	"github.com/tutortron/gateway/internal/ragstore"
	"github.com/tutortron/gateway/internal/users"
)

type Handler struct {
	Chats    *chatsync.Manager
	Backend  *ragstore.Client
	Users    *users.Repo
	Activity *activity.Repo
	Tracker  *activity.Tracker
	Tokens   *auth.Tokens
	Cfg      config.Config
	Log      zerolog.Logger
}

func NewHandler(
	chats *chatsync.Manager,
	backend *ragstore.Client,
	userRepo *users.Repo,
	activityRepo *activity.Repo,
	tracker *activity.Tracker,
	tokens *auth.Tokens,
	cfg config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		Chats:    chats,
		Backend:  backend,
		Users:    userRepo,
		Activity: activityRepo,
		Tracker:  tracker,
		Tokens:   tokens,
		Cfg:      cfg,
		Log:      log.With().Str("component", "httpapi").Logger(),
	}
}
