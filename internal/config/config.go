package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for claude-pulse.
type Config struct {
	BaseDir          string // root of the session-health state directory
	DeadlineMs       int    // wall-clock budget for a single gather
	StalenessMinutes int    // transcript age before it counts as stalled
	LogLevel         string
	ConfigDir        string // Claude config dir for the active account slot
	KeychainService  string
	WindowDefault    int // context window fallback when input is absent or absurd
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/claudepulse).
func Load() Config {
	cfg := Config{
		BaseDir:          viper.GetString("base_dir"),
		DeadlineMs:       viper.GetInt("deadline_ms"),
		StalenessMinutes: viper.GetInt("staleness_minutes"),
		LogLevel:         viper.GetString("log_level"),
		ConfigDir:        viper.GetString("config_dir"),
		KeychainService:  viper.GetString("keychain_service"),
		WindowDefault:    viper.GetInt("window_default"),
	}
	if cfg.BaseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.BaseDir = filepath.Join(home, ".claude", "session-health")
	}
	if cfg.DeadlineMs <= 0 {
		cfg.DeadlineMs = 20000
	}
	if cfg.StalenessMinutes <= 0 {
		cfg.StalenessMinutes = 5
	}
	if cfg.WindowDefault <= 0 {
		cfg.WindowDefault = 200000
	}
	return cfg
}

// CooldownDir returns the directory holding freshness cooldown files.
func (c Config) CooldownDir() string { return filepath.Join(c.BaseDir, "cooldowns") }

// IntentDir returns the directory holding refresh intent files.
func (c Config) IntentDir() string { return filepath.Join(c.BaseDir, "refresh-intents") }

// LogPath returns the daemon log file path.
func (c Config) LogPath() string { return filepath.Join(c.BaseDir, "daemon.log") }

// TelemetryDBPath returns the embedded telemetry database path.
func (c Config) TelemetryDBPath() string { return filepath.Join(c.BaseDir, "telemetry.db") }
