package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from an optional yaml file, then applies
// environment overrides (a .env file is honored when present) and defaults.
// Path may be empty, in which case only env + defaults apply.
func Load(path string) (*Config, error) {
	// best-effort .env load; absence is not an error
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATSYNC_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CHATSYNC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("CHATSYNC_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CHATSYNC_REMOTE_URL"); v != "" {
		cfg.Sync.RemoteURL = v
	}
	if v := os.Getenv("CHATSYNC_USER_ID"); v != "" {
		cfg.Identity.UserID = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ApplyDefaults fills zero values with canonical defaults so downstream
// packages never have to re-default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8321
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = "./db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Retention.Horizon == 0 {
		cfg.Retention.Horizon = Duration(24 * time.Hour)
	}
	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = Duration(time.Hour)
	}
	if cfg.Retention.MaxPendingAge == 0 {
		cfg.Retention.MaxPendingAge = Duration(7 * 24 * time.Hour)
	}
	if cfg.Sync.Timeout == 0 {
		cfg.Sync.Timeout = Duration(10 * time.Second)
	}
	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = 5
	}
	if cfg.Sync.BackoffBase == 0 {
		cfg.Sync.BackoffBase = Duration(200 * time.Millisecond)
	}
	if cfg.Sync.BackoffMax == 0 {
		cfg.Sync.BackoffMax = Duration(30 * time.Second)
	}
	if cfg.Sync.PushRPS == 0 {
		cfg.Sync.PushRPS = 20
	}
	if cfg.Sync.PushBurst == 0 {
		cfg.Sync.PushBurst = 5
	}
	if cfg.Sync.MaxBodyBytes == 0 {
		cfg.Sync.MaxBodyBytes = SizeBytes(1 << 20) // 1MB
	}
	if cfg.Broadcast.BufferSize == 0 {
		cfg.Broadcast.BufferSize = 64
	}
	if cfg.Identity.UserID == "" {
		cfg.Identity.UserID = "local"
	}
}

// Validate rejects configurations that would misbehave at runtime.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Retention.Horizon.Duration() < 0 {
		return fmt.Errorf("retention horizon must not be negative")
	}
	if cfg.Retention.ProtectPending && cfg.Retention.MaxPendingAge.Duration() < cfg.Retention.Horizon.Duration() {
		return fmt.Errorf("max_pending_age must be at least the retention horizon")
	}
	if cfg.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync max_attempts must be at least 1")
	}
	if cfg.Sync.BackoffBase.Duration() > cfg.Sync.BackoffMax.Duration() {
		return fmt.Errorf("sync backoff_base exceeds backoff_max")
	}
	return nil
}
