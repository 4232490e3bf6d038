// Package config provides centralized configuration management.
// All environment lookups live here instead of scattered os.Getenv calls.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// AegisEnv holds all aegis environment variables.
type AegisEnv struct {
	// GeminiKey is the Gemini API key used by the planner (GEMINI_API_KEY)
	GeminiKey string

	// GeminiModel is the planner model name (AEGIS_GEMINI_MODEL)
	GeminiModel string

	// DBPath is the SQLite repository path (AEGIS_DB_PATH)
	DBPath string

	// MetricsPort is the port for the stats/health HTTP server (AEGIS_METRICS_PORT)
	MetricsPort int

	// MaxReplanAttempts bounds replanning rounds per session (AEGIS_MAX_REPLANS)
	MaxReplanAttempts int

	// ReplanThreshold is the similarity ceiling for accepting a new plan (AEGIS_REPLAN_THRESHOLD)
	ReplanThreshold float64

	// FailureRatio is the failed/total ratio that triggers replanning (AEGIS_FAILURE_RATIO)
	FailureRatio float64

	// DefaultStepTimeout applies when a step declares none (AEGIS_STEP_TIMEOUT_SECONDS)
	DefaultStepTimeout time.Duration

	// CompletedCap bounds the completed-session registry (AEGIS_COMPLETED_CAP)
	CompletedCap int
}

var (
	env     *AegisEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call. A .env file next to the
// binary or in the working directory is loaded if present.
func Env() *AegisEnv {
	envOnce.Do(func() {
		_ = godotenv.Load()
		if p := EnvFilePath(); p != "" {
			_ = godotenv.Load(p)
		}

		env = &AegisEnv{
			GeminiKey:          os.Getenv("GEMINI_API_KEY"),
			GeminiModel:        getEnvDefault("AEGIS_GEMINI_MODEL", "gemini-1.5-flash"),
			DBPath:             getEnvDefault("AEGIS_DB_PATH", Path("aegis.db")),
			MetricsPort:        getEnvInt("AEGIS_METRICS_PORT", 9464),
			MaxReplanAttempts:  getEnvInt("AEGIS_MAX_REPLANS", 3),
			ReplanThreshold:    getEnvFloat("AEGIS_REPLAN_THRESHOLD", 0.7),
			FailureRatio:       getEnvFloat("AEGIS_FAILURE_RATIO", 0.3),
			DefaultStepTimeout: time.Duration(getEnvInt("AEGIS_STEP_TIMEOUT_SECONDS", 300)) * time.Second,
			CompletedCap:       getEnvInt("AEGIS_COMPLETED_CAP", 100),
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

var (
	homeDir  string
	homeOnce sync.Once
)

// Home returns the aegis home directory (~/.aegis), creating nothing.
func Home() string {
	homeOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		homeDir = filepath.Join(home, ".aegis")
	})
	return homeDir
}

// Path returns a path under the aegis home directory.
func Path(parts ...string) string {
	allParts := append([]string{Home()}, parts...)
	return filepath.Join(allParts...)
}

// EnvFilePath returns the well-known .env location (~/.aegis/.env).
func EnvFilePath() string {
	return Path(".env")
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
