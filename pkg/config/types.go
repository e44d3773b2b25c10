package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
	Sync      SyncConfig      `yaml:"sync"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Identity  IdentityConfig  `yaml:"identity"`
}

// ServerConfig holds the caller-facing HTTP listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StorageConfig holds local persistence settings.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

// RetentionConfig controls the background sweeper.
type RetentionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Horizon is how long messages are retained before eviction.
	Horizon Duration `yaml:"horizon"`
	// Interval is the fixed sweep period; Cron, when set, takes precedence.
	Interval Duration `yaml:"interval"`
	Cron     string   `yaml:"cron"`
	// ProtectPending excludes unsynced messages from eviction until they are
	// older than MaxPendingAge.
	ProtectPending bool     `yaml:"protect_pending"`
	MaxPendingAge  Duration `yaml:"max_pending_age"`
}

// SyncConfig controls remote dispatch and reconciliation.
type SyncConfig struct {
	// RemoteURL is the backend store base URL; empty disables the HTTP
	// client (callers must inject a remote themselves).
	RemoteURL string `yaml:"remote_url"`
	// Timeout bounds a single push or pull attempt.
	Timeout Duration `yaml:"timeout"`
	// MaxAttempts bounds retries within one reconcile pass.
	MaxAttempts int      `yaml:"max_attempts"`
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffMax  Duration `yaml:"backoff_max"`
	// PushRPS paces backlog pushes toward the backend store.
	PushRPS   float64 `yaml:"push_rps"`
	PushBurst int     `yaml:"push_burst"`
	// MaxBodyBytes caps accepted remote payloads.
	MaxBodyBytes SizeBytes `yaml:"max_body_bytes"`
}

// BroadcastConfig controls the cross-context bus.
type BroadcastConfig struct {
	// BufferSize is the per-subscriber event buffer; overflow drops events
	// (the bus is best-effort at-most-once).
	BufferSize int `yaml:"buffer_size"`
}

// IdentityConfig names the local identity unread counts are computed for.
type IdentityConfig struct {
	UserID string `yaml:"user_id"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
