package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskboard/pkg/config"
	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/notify"
	"github.com/harrisonrobin/taskboard/pkg/tracker"
)

var (
	configPath string
	backend    string
	logLevel   string
	logFile    string
	verbose    bool

	rootCmd *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "taskboard",
		Short: "Track tasks kept in a Google Sheet or a database table",
		Long: `taskboard lists, creates, edits and deletes tasks stored either as rows of a
Google Sheet or as records in a SQL table, and can serve them as a JSON API.

Configuration is read from ~/.config/taskboard/config.json, then .env and
TASKBOARD_* environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/taskboard/config.json)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", `task backend: "sheets" or "records"`)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

var registerOnce sync.Once

func registerCommands() {
	registerOnce.Do(func() {
		rootCmd.AddCommand(listCmd)
		rootCmd.AddCommand(addCmd)
		rootCmd.AddCommand(editCmd)
		rootCmd.AddCommand(deleteCmd)
		rootCmd.AddCommand(serveCmd)
		rootCmd.AddCommand(watchCmd)
		rootCmd.AddCommand(authCmd)
		rootCmd.AddCommand(configCmd)
	})
}

// Execute runs the root command.
func Execute(version string) error {
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.Version = version
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig resolves the effective configuration and sets up logging.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	_ = godotenv.Load()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if backend != "" {
		cfg.Backend = backend
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	if err := logging.Init(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel}); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}

// openTracker loads the configuration and connects to its backend.
func openTracker(ctx context.Context) (*tracker.Tracker, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	tr, err := tracker.Open(ctx, cfg, notify.NewLogNotifier())
	if err != nil {
		return nil, nil, err
	}
	return tr, cfg, nil
}
