package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreDriver はセッションストアの実装を表す。
type StoreDriver string

const (
	// StoreMemory はプロセス内メモリのストア。再起動でセッションは失われる。
	StoreMemory StoreDriver = "memory"
	// StorePostgres はPostgreSQLのストア。
	StorePostgres StoreDriver = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver StoreDriver
	DatabaseURL string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string

	// Session defaults
	RetroVotesPerRound     int
	RetroDefaultCategories []string

	// WebSocket
	WSMaxFramesPerSec float64
	WSFrameBurst      int
	WSSendBuffer      int
	WSMaxFrameBytes   int

	// Coordinator
	LaneIdleTimeout time.Duration

	// Cleanup
	SessionRetention time.Duration
	CleanupInterval  time.Duration

	// Rate Limit（req/min/client）
	RateLimitGeneral int
	RateLimitImport  int
}

// Load は環境変数からConfigを読み込む。
// 不正な数値・期間は既定値を使用する。未知のSTORE_DRIVERと、
// postgres指定時のDATABASE_URL未設定はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreDriver = StoreDriver(strings.ToLower(getEnvString("STORE_DRIVER", string(StoreMemory))))
	switch cfg.StoreDriver {
	case StoreMemory, StorePostgres:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q: must be %q or %q", cfg.StoreDriver, StoreMemory, StorePostgres)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StoreDriver == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.RetroVotesPerRound = getEnvPositiveInt("RETRO_VOTES_PER_ROUND", 3)
	cfg.RetroDefaultCategories = getEnvList("RETRO_DEFAULT_CATEGORIES", []string{"went_well"})
	cfg.WSMaxFramesPerSec = getEnvFloat("WS_MAX_FRAMES_PER_SEC", 20)
	cfg.WSFrameBurst = getEnvPositiveInt("WS_FRAME_BURST", 40)
	cfg.WSSendBuffer = getEnvPositiveInt("WS_SEND_BUFFER", 64)
	cfg.WSMaxFrameBytes = getEnvPositiveInt("WS_MAX_FRAME_BYTES", 65536)
	cfg.LaneIdleTimeout = getEnvDuration("LANE_IDLE_TIMEOUT", 5*time.Minute)
	cfg.SessionRetention = getEnvDuration("SESSION_RETENTION", 168*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.RateLimitGeneral = getEnvPositiveInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitImport = getEnvPositiveInt("RATE_LIMIT_IMPORT", 10)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

// getEnvPositiveInt は正の整数を読み込む。0以下や不正な値は既定値を返す。
func getEnvPositiveInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を読み込む。空要素と重複は除外し（最初の出現を残す）、
// 要素がなければ既定値を返す。
func getEnvList(key string, defaultVal []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(os.Getenv(key), ",") {
		p := strings.TrimSpace(part)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
