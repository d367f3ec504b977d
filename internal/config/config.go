package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr    string
	RAGBackendURL string

	JWTSecret         string
	AdminEmail        string
	AdminPasswordHash string

	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// rabbitMQ; activity entries append synchronously when RabbitURL is empty
	RabbitURL   string
	RabbitQueue string

	MaxLocalChats int
	LogLevel      string
	CORSOrigins   []string
}

func Load() Config {
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	backendURL := os.Getenv("RAG_BACKEND_URL")
	if backendURL == "" {
		backendURL = "http://localhost:5001"
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	adminEmail := os.Getenv("ADMIN_EMAIL")
	if adminEmail == "" {
		adminEmail = "admin@tutortron.local"
	}

	dbDriver := os.Getenv("DB_DRIVER")
	if dbDriver == "" {
		dbDriver = "sqlite"
	}
	dbDSN := os.Getenv("DB_DSN")
	if dbDSN == "" {
		if dbDriver == "mysql" {
			dbDSN = "app:apppass@tcp(127.0.0.1:3306)/tutortron?charset=utf8mb4&parseTime=true&loc=Local"
		} else {
			dbDSN = "file:gateway.db?cache=shared"
		}
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}
	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "activity_entries"
	}

	maxLocal := 50
	if v := os.Getenv("MAX_LOCAL_CHATS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxLocal = n
		}
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	var corsOrigins []string
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				corsOrigins = append(corsOrigins, origin)
			}
		}
	}

	return Config{
		ListenAddr:    listenAddr,
		RAGBackendURL: backendURL,

		JWTSecret:         secret,
		AdminEmail:        adminEmail,
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),

		DBDriver: dbDriver,
		DBDSN:    dbDSN,

		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: rabbitQueue,

		MaxLocalChats: maxLocal,
		LogLevel:      logLevel,
		CORSOrigins:   corsOrigins,
	}
}
