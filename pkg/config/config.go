// Package config loads court service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientMode selects between a deterministic local stub and a real
// network client for an external collaborator (judge, mint worker, drand,
// Solana fee RPC).
type ClientMode string

const (
	ModeStub ClientMode = "stub"
	ModeRPC  ClientMode = "rpc"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabasePath is the SQLite database file. WAL mode is enabled at
	// open time; migrations run in order at boot.
	DatabasePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// CORSOrigins is the comma-separated allowlist for the operator
	// dashboard and agent webhook consoles that call the court API
	// from a browser. Empty allows any origin (local/dev default).
	CORSOrigins []string

	SessionTickInterval time.Duration

	JudgeMode string
	JudgeURL  string

	MintWorkerMode  string
	MintWorkerURL   string
	MintWorkerToken string

	DrandMode string
	DrandURL  string

	SolanaMode string
	SolanaRPC  string

	// OCPFeeRequired gates whether Propose must verify a treasury
	// payment before creating an agreement; OCPFeeMinLamports is the
	// minimum accepted payment when it does.
	OCPFeeRequired    bool
	OCPFeeMinLamports int64

	IdempotencyTTL time.Duration

	ObservabilityEnabled bool

	// SystemKey authenticates the operator-only internal endpoints
	// (case voiding, seal job retry) that sit outside the agent
	// signed-request scheme.
	SystemKey string
}

// Load loads configuration from environment variables, applying the same
// defaults-then-override pattern throughout: a sane local default,
// overridable per deployment.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		DatabasePath: getEnv("DATABASE_PATH", "./data/court.db"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		CORSOrigins: getEnvList("CORS_ORIGINS"),

		SessionTickInterval: getEnvDuration("SESSION_TICK_INTERVAL", 5*time.Second),

		JudgeMode: getEnv("JUDGE_MODE", string(ModeStub)),
		JudgeURL:  getEnv("JUDGE_URL", "http://localhost:4300/v1/judge"),

		MintWorkerMode:  getEnv("MINT_WORKER_MODE", string(ModeStub)),
		MintWorkerURL:   getEnv("MINT_WORKER_URL", "http://localhost:4400/api/seal"),
		MintWorkerToken: getEnv("MINT_WORKER_TOKEN", ""),

		DrandMode: getEnv("DRAND_MODE", string(ModeStub)),
		DrandURL:  getEnv("DRAND_URL", "https://api.drand.sh/public/latest"),

		SolanaMode: getEnv("SOLANA_MODE", string(ModeStub)),
		SolanaRPC:  getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),

		OCPFeeRequired:    getEnv("OCP_FEE_REQUIRED", "false") == "true",
		OCPFeeMinLamports: getEnvInt64("OCP_FEE_MIN_LAMPORTS", 0),

		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		ObservabilityEnabled: getEnv("OBSERVABILITY_ENABLED", "true") == "true",

		SystemKey: getEnv("SYSTEM_KEY", ""),
	}
}

func getEnv(key, fallback string) string {
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

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
