package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config holds server configuration.
type Config struct {
	ListenAddr string `yaml:"listen"` // TCP bind address for game clients (e.g. ":8080")
	AdminAddr  string `yaml:"admin"`  // HTTP bind address for admin/metrics (empty = disabled)

	Store     string `yaml:"store"`      // "file" or "sqlite"
	UsersFile string `yaml:"users_file"` // binary user file for the file store
	DBPath    string `yaml:"db"`         // SQLite database path for the sqlite store

	PollInterval time.Duration `yaml:"poll_interval"` // host wait-loop interval
	ACKTimeout   time.Duration `yaml:"ack_timeout"`   // match handshake bound (0 = wait forever)
	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // per-read bound on client sockets (0 = none)

	SendPlayerIDs bool `yaml:"send_player_ids"` // send 4-byte player index before the first tick
	RecordWins    bool `yaml:"record_wins"`     // credit the winner named by an EndGame command
	MaxBatch      int  `yaml:"max_batch"`       // max commands a player may send per tick

	MetricsLogInterval time.Duration `yaml:"metrics_log_interval"` // 0 disables periodic metrics logging

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// CLI-only actions (run and exit)
	ExportUsers bool `yaml:"-"` // export all users as YAML and exit
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":8080",
		AdminAddr:          ":8081",
		Store:              StoreFile,
		UsersFile:          "users.bin",
		DBPath:             "gostep.db",
		PollInterval:       100 * time.Millisecond,
		SendPlayerIDs:      true,
		RecordWins:         true,
		MetricsLogInterval: 60 * time.Second,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// LoadConfig reads a YAML config file over cfg. Keys missing from the file
// keep their current value.
func LoadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return fmt.Errorf("server: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("server: parse config: %w", err)
	}
	return cfg.Validate()
}

// Validate reports configuration values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	switch c.Store {
	case StoreFile:
		if c.UsersFile == "" {
			errs = append(errs, errors.New("users_file is empty"))
		}
	case StoreSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("db is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (valid: %s, %s)", c.Store, StoreFile, StoreSQLite))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.ACKTimeout < 0 || c.IdleTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxBatch < 0 {
		errs = append(errs, errors.New("max_batch must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("server: invalid config: %w", err)
	}
	return nil
}
