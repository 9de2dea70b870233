package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port     string
	Env      string
	LogLevel string

	DBDriver    string
	DatabaseDSN string

	JWTSecret             string
	AccessTokenTTLMinutes int

	AdminName     string
	AdminPassword string
	DefaultRooms  []string

	RedisAddr           string
	RedisDB             int
	RoomCacheTTLSeconds int

	// WebSocket 会话参数
	SendBuffer        int
	HistoryLimit      int
	MaxMessageLen     int
	MessagesPerSecond float64
	MessageBurst      int

	CORSAllow []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，非法或非正值回落到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		Env:                   getenv("APP_ENV", "dev"),
		LogLevel:              os.Getenv("LOG_LEVEL"),
		DBDriver:              getenv("DB_DRIVER", "postgres"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatrelay port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 60),
		AdminName:             getenv("ADMIN_NAME", "admin"),
		AdminPassword:         getenv("ADMIN_PASSWORD", "123456"),
		DefaultRooms:          splitCSV(getenv("DEFAULT_ROOMS", "Room 1,Room 2,Room 3")),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisDB:               getenvInt("REDIS_DB", 0),
		RoomCacheTTLSeconds:   getenvInt("ROOM_CACHE_TTL_SECONDS", 300),
		SendBuffer:            getenvInt("WS_SEND_BUFFER", 256),
		HistoryLimit:          getenvInt("WS_HISTORY_LIMIT", 0),
		MaxMessageLen:         getenvInt("WS_MAX_MESSAGE_LEN", 4096),
		MessagesPerSecond:     getenvFloat("WS_MESSAGES_PER_SECOND", 10),
		MessageBurst:          getenvInt("WS_MESSAGE_BURST", 20),
		CORSAllow:             splitCSV(os.Getenv("CORS_ALLOW")),
	}
}

// Validate 拒绝明显错误的配置；非 dev 环境禁止使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	switch cfg.DBDriver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.Env != "dev" && (cfg.JWTSecret == "" || cfg.JWTSecret == defaultJWTSecret) {
		return errors.New("JWT_SECRET must be set outside dev")
	}
	return nil
}
