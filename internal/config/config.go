// Package config provides configuration loading for codesweep.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/codesweep/internal/logging"
	"github.com/fyrsmithlabs/codesweep/internal/session"
	"github.com/fyrsmithlabs/codesweep/internal/telemetry"
)

// Config is the top-level codesweep configuration.
type Config struct {
	// Logging configures the zap logger.
	Logging logging.Config `koanf:"logging"`

	// Session holds the default per-session remediation settings.
	Session session.Config `koanf:"session"`

	// Store configures durable state.
	Store StoreConfig `koanf:"store"`

	// Plugins configures external analyzer discovery.
	Plugins PluginConfig `koanf:"plugins"`

	// Events configures the progress/event sink.
	Events EventsConfig `koanf:"events"`

	// Snapshot bounds the read-only repository view.
	Snapshot SnapshotConfig `koanf:"snapshot"`

	// Telemetry configures OpenTelemetry export.
	Telemetry telemetry.Config `koanf:"telemetry"`
}

// StoreConfig configures the session store.
type StoreConfig struct {
	// Path is the base directory for session files.
	// Default: ~/.config/codesweep/sessions
	Path string `koanf:"path"`
}

// PluginConfig configures external analyzer plugins.
type PluginConfig struct {
	// Dir is the directory scanned for plugin manifests. Empty disables
	// external plugin discovery.
	Dir string `koanf:"dir"`
}

// EventsConfig configures the progress event sink.
type EventsConfig struct {
	// NATSURL enables NATS publishing when non-empty.
	NATSURL string `koanf:"nats_url"`

	// SubjectPrefix prefixes published subjects (default: codesweep).
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SnapshotConfig bounds repository snapshots.
type SnapshotConfig struct {
	// MaxDepth bounds directory recursion (default: 16).
	MaxDepth int `koanf:"max_depth"`

	// MaxFileSize bounds file reads in bytes (default: 1MiB).
	MaxFileSize int64 `koanf:"max_file_size"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if c.Snapshot.MaxDepth < 1 {
		return errors.New("snapshot: max_depth must be at least 1")
	}
	if c.Snapshot.MaxFileSize < 1 {
		return errors.New("snapshot: max_file_size must be at least 1")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	def := session.DefaultConfig()
	if cfg.Session.Provider == "" {
		cfg.Session.Provider = def.Provider
	}
	if cfg.Session.MaxRetries == 0 {
		cfg.Session.MaxRetries = def.MaxRetries
	}
	if cfg.Session.MaxTurns == 0 {
		cfg.Session.MaxTurns = def.MaxTurns
	}
	if cfg.Session.TimeoutMinutes == 0 {
		cfg.Session.TimeoutMinutes = def.TimeoutMinutes
	}
	if cfg.Session.CheckpointInterval == 0 {
		cfg.Session.CheckpointInterval = def.CheckpointInterval
	}
	if cfg.Session.PromptTokenBudget == 0 {
		cfg.Session.PromptTokenBudget = def.PromptTokenBudget
	}
	if cfg.Session.CommandTimeoutSeconds == 0 {
		cfg.Session.CommandTimeoutSeconds = def.CommandTimeoutSeconds
	}
	if cfg.Session.MaxCommandOutputBytes == 0 {
		cfg.Session.MaxCommandOutputBytes = def.MaxCommandOutputBytes
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "codesweep"
	}

	if cfg.Store.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.Path = filepath.Join(home, ".config", "codesweep", "sessions")
		} else {
			cfg.Store.Path = ".codesweep/sessions"
		}
	}

	if cfg.Snapshot.MaxDepth == 0 {
		cfg.Snapshot.MaxDepth = 16
	}
	if cfg.Snapshot.MaxFileSize == 0 {
		cfg.Snapshot.MaxFileSize = 1024 * 1024
	}

	tdef := telemetry.DefaultConfig()
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = tdef.Endpoint
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = tdef.Protocol
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = tdef.SampleRatio
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = tdef.ServiceName
	}
}
