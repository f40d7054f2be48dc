package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Topics struct {
	Tasks      string
	Accounting string
	Reassign   string
	Users      string
}

type Config struct {
	Addr            string
	MetricsAddr     string
	DatabaseURL     string
	DBMaxConns      int32
	AppName         string
	RedisAddr       string
	PubSubProjectID string
	PubSubCredsJSON string
	PubSubReplay    bool
	Topics          Topics
	Location        *time.Location
	PayoutEvery     time.Duration
	ReassignSeed    uint64
	RunReactors     bool
	LockTTL         time.Duration
}

type CLIConfig struct {
	APIBaseURL string
	UserID     string
}

// LoadFromEnv reads .env when present, then the process environment.
func LoadFromEnv() (Config, error) {
	_ = godotenv.Load()

	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("TASKOS_API_ADDR", ":8080")
	}

	cfg := Config{
		Addr:            addr,
		MetricsAddr:     envDefault("TASKOS_METRICS_ADDR", ""),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:      envInt32Default("TASKOS_DB_MAX_CONNS", 20),
		AppName:         envDefault("TASKOS_APP_NAME", "taskos"),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDRESS")),
		PubSubProjectID: pubSubProjectID(),
		PubSubCredsJSON: strings.TrimSpace(os.Getenv("PUBSUB_CREDENTIALS_JSON")),
		PubSubReplay:    envBoolDefault("TASKOS_PUBSUB_REPLAY", false),
		Topics: Topics{
			Tasks:      envDefault("TASKOS_TOPIC_TASKS", "task-events"),
			Accounting: envDefault("TASKOS_TOPIC_ACCOUNTING", "accounting"),
			Reassign:   envDefault("TASKOS_TOPIC_REASSIGN", "reassign"),
			Users:      envDefault("TASKOS_TOPIC_USERS", "user"),
		},
		PayoutEvery:  envDurationDefault("TASKOS_PAYOUT_EVERY", 24*time.Hour),
		ReassignSeed: envUint64Default("TASKOS_REASSIGN_SEED", 69),
		LockTTL:      envDurationDefault("TASKOS_LOCK_TTL", 30*time.Second),
	}
	// The in-memory bus only reaches reactors living in the same process.
	cfg.RunReactors = envBoolDefault("TASKOS_RUN_REACTORS", cfg.PubSubProjectID == "")

	tz := envDefault("TASKOS_TIMEZONE", "Local")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return cfg, fmt.Errorf("TASKOS_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	if cfg.PayoutEvery <= 0 {
		return cfg, fmt.Errorf("TASKOS_PAYOUT_EVERY must be > 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	_ = godotenv.Load()
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TK_API_BASE_URL", "http://localhost:8080"), "/"),
		UserID:     strings.TrimSpace(os.Getenv("TK_USER_ID")),
	}
}

func pubSubProjectID() string {
	for _, key := range []string{"PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envUint64Default(key string, fallback uint64) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// envInt32Default rejects values that do not fit a positive int32.
func envInt32Default(key string, fallback int32) int32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n <= 0 {
		return fallback
	}
	return int32(n)
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
