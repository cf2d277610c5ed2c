package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/gostep/pkg/datastore"
	"github.com/NicolasHaas/gostep/pkg/logging"
	"github.com/NicolasHaas/gostep/pkg/server"
	"github.com/NicolasHaas/gostep/pkg/store"
	"github.com/NicolasHaas/gostep/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	configPath := flag.String("config", "", "YAML config file (flags given explicitly override it)")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP bind address for game clients")
	flag.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "HTTP bind address for admin and /metrics (empty to disable)")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "User store backend: file or sqlite")
	flag.StringVar(&cfg.UsersFile, "users-file", cfg.UsersFile, "Binary user file (file store)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path (sqlite store)")
	flag.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Host wait-loop poll interval")
	flag.DurationVar(&cfg.ACKTimeout, "ack-timeout", cfg.ACKTimeout, "Match handshake timeout (0 = none)")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Per-read client timeout (0 = none)")
	flag.BoolVar(&cfg.ExportUsers, "export-users", false, "Export all users as YAML and exit")
	importUsers := flag.String("import-users", "", "Replace the stored users with a YAML export and exit")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: "+logging.LevelNames())
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gostep-server", version.Full())
		return
	}

	if *configPath != "" {
		if err := applyConfigFile(*configPath, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	backend, err := openBackend(cfg)
	if err != nil {
		slog.Error("open user store", "store", cfg.Store, "err", err)
		os.Exit(1)
	}

	// Handle import/export commands (run and exit)
	if *importUsers != "" {
		defer func() { _ = backend.Close() }()
		n, err := importUsersYAML(*importUsers, backend)
		if err != nil {
			slog.Error("import users", "err", err)
			os.Exit(1)
		}
		slog.Info("imported users", "count", n, "store", cfg.Store)
		return
	}
	if cfg.ExportUsers {
		defer func() { _ = backend.Close() }()
		users, err := backend.Load()
		if err != nil {
			slog.Error("load users", "err", err)
			os.Exit(1)
		}
		data, err := store.ExportYAML(users)
		if err != nil {
			slog.Error("export users", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	slog.Info("starting GoStep server", "version", version.Full())
	srv := server.New(cfg, server.Dependencies{Backend: backend})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// applyConfigFile loads path over cfg, then re-applies every flag the user
// set on the command line so flags win over the file.
func applyConfigFile(path string, cfg *server.Config) error {
	fromFlags := *cfg
	if err := server.LoadConfig(path, cfg); err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = fromFlags.ListenAddr
		case "admin":
			cfg.AdminAddr = fromFlags.AdminAddr
		case "store":
			cfg.Store = fromFlags.Store
		case "users-file":
			cfg.UsersFile = fromFlags.UsersFile
		case "db":
			cfg.DBPath = fromFlags.DBPath
		case "poll":
			cfg.PollInterval = fromFlags.PollInterval
		case "ack-timeout":
			cfg.ACKTimeout = fromFlags.ACKTimeout
		case "idle-timeout":
			cfg.IdleTimeout = fromFlags.IdleTimeout
		case "log-level":
			cfg.LogLevel = fromFlags.LogLevel
		case "log-format":
			cfg.LogFormat = fromFlags.LogFormat
		}
	})
	return cfg.Validate()
}

func importUsersYAML(path string, backend store.Backend) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	users, err := store.ImportYAML(data)
	if err != nil {
		return 0, err
	}
	// Normalize through the user table so duplicate names collapse.
	table := store.NewUsers()
	table.Replace(users)
	if err := backend.Save(table.All()); err != nil {
		return 0, err
	}
	return table.Len(), nil
}

func openBackend(cfg server.Config) (store.Backend, error) {
	switch cfg.Store {
	case server.StoreSQLite:
		return datastore.NewSQLiteBackend(cfg.DBPath)
	case server.StoreFile:
		return store.NewFileBackend(cfg.UsersFile), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
