package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the engine.
type Config struct {
	Port string

	// Database
	DBPath string

	// Per-bot log directory root; bot_<id> subdirs are created inside.
	LogDir string

	// Default testnet flag for preset bots that do not set their own.
	BinanceTestnet bool

	// Order placement pacing
	OrderBatchSize  int
	OrderBatchPause time.Duration
	LoopInterval    time.Duration

	// Exchange request budget
	GlobalRequestsPerSec float64
	MaxInflightOrders    int

	// Optional YAML file with preset bots started at boot.
	BotsConfig string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		DBPath:               getEnv("DB_PATH", "./data/waverider.db"),
		LogDir:               getEnv("LOG_DIR", "./logs"),
		BinanceTestnet:       getEnv("BINANCE_TESTNET", "false") == "true",
		OrderBatchSize:       getEnvInt("ORDER_BATCH_SIZE", 5),
		OrderBatchPause:      time.Duration(getEnvInt("ORDER_BATCH_PAUSE_MS", 1000)) * time.Millisecond,
		LoopInterval:         time.Duration(getEnvInt("LOOP_INTERVAL_MS", 1000)) * time.Millisecond,
		GlobalRequestsPerSec: getEnvFloat("GLOBAL_REQUESTS_PER_SEC", 5),
		MaxInflightOrders:    getEnvInt("MAX_INFLIGHT_ORDERS", 10),
		BotsConfig:           getEnv("BOTS_CONFIG", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
