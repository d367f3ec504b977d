package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tutortron/gateway/internal/activity"
	"github.com/tutortron/gateway/internal/auth"
	"github.com/tutortron/gateway/internal/chatsync"
	"github.com/tutortron/gateway/internal/config"
	"github.com/tutortron/gateway/internal/db"
	"github.com/tutortron/gateway/internal/fallback"
	"github.com/tutortron/gateway/internal/httpapi"
	"github.com/tutortron/gateway/internal/httpapi/handlers"
	"github.com/tutortron/gateway/internal/metrics"
	"github.com/tutortron/gateway/internal/ragstore"
	"github.com/tutortron/gateway/internal/users"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg.LogLevel)
	log.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("backend", cfg.RAGBackendURL).
		Str("db_driver", cfg.DBDriver).
		Msg("starting tutortron gateway")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if err := gdb.AutoMigrate(&activity.Entry{}, &users.User{}); err != nil {
		log.Fatal().Err(err).Msg("automigrate failed")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	backend := ragstore.New(cfg.RAGBackendURL, log.Logger)
	local := fallback.New(rdb, cfg.MaxLocalChats, log.Logger)
	chats := chatsync.NewManager(backend, local, m, log.Logger)

	activityRepo := activity.NewRepo(gdb)
	var sink activity.EntrySink
	if cfg.RabbitURL != "" {
		pub, err := activity.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect rabbitmq")
		}
		defer pub.Close()
		sink = pub
		log.Info().Str("queue", cfg.RabbitQueue).Msg("activity publishing enabled")
	}
	tracker := activity.NewTracker(activityRepo, sink, m, log.Logger)

	userRepo := users.NewRepo(gdb)
	tokens := auth.New(cfg.JWTSecret, 24*time.Hour)

	h := handlers.NewHandler(chats, backend, userRepo, activityRepo, tracker, tokens, cfg, log.Logger)
	router := httpapi.NewRouter(h, userRepo, cfg, reg, log.Logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
