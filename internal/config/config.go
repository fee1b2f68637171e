// Package config loads engine configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds every tunable of the server and CLI.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	LogLevel    string

	// Matching and options accounting.
	AllowShort        bool
	ContractSize      decimal.Decimal
	PremiumMultiplier decimal.Decimal

	// Safety-net reconciliation; empty disables the scheduler.
	ReconcileSchedule string

	// CSV import.
	ImportBatchSize     int
	ImportBatchesPerSec float64
	ImportMappingFile   string

	ReportCacheTTL time.Duration
	CORSOrigins    []string

	// Per-client limit on POST /imports.
	ImportsPerSec float64
}

// Load reads .env (if present) and then the environment. Invalid values
// are reported rather than silently defaulted.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("error loading .env file, relying on environment", "err", err)
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 1h"),
		ImportMappingFile: os.Getenv("IMPORT_MAPPING_FILE"),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "*")),
	}

	var err error
	if cfg.CacheTTL, err = durationEnv("CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReportCacheTTL, err = durationEnv("REPORT_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AllowShort, err = boolEnv("LEDGER_ALLOW_SHORT", true); err != nil {
		return nil, err
	}
	if cfg.ContractSize, err = decimalEnv("OPTION_CONTRACT_SIZE", decimal.NewFromInt(100)); err != nil {
		return nil, err
	}
	if cfg.PremiumMultiplier, err = decimalEnv("OPTION_PREMIUM_MULTIPLIER", decimal.NewFromInt(1)); err != nil {
		return nil, err
	}
	if cfg.ImportBatchSize, err = intEnv("IMPORT_BATCH_SIZE", 500); err != nil {
		return nil, err
	}
	if cfg.ImportBatchesPerSec, err = floatEnv("IMPORT_BATCHES_PER_SECOND", 20); err != nil {
		return nil, err
	}
	if cfg.ImportsPerSec, err = floatEnv("IMPORTS_PER_SECOND", 1); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseLevel maps a LOG_LEVEL string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger installs a JSON slog logger at the configured level as default.
func InitLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(level)}))
	slog.SetDefault(logger)
	return logger
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: %s: invalid duration %q", key, v)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: invalid bool %q", key, v)
	}
	return b, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s: must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("config: %s: must be a positive number, got %q", key, v)
	}
	return f, nil
}

func decimalEnv(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("config: %s: must be a positive decimal, got %q", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
