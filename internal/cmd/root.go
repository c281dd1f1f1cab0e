package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Alanimdeo/conveyor/internal/config"
	"github.com/Alanimdeo/conveyor/internal/store"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// globalFlags holds the persistent flags shared by every subcommand
type globalFlags struct {
	configPath string
	dbPath     string
	logLevel   string
	logDir     string
}

// NewRootCommand creates and returns the root cobra command for conveyor
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "conveyor",
		Short: "Rule-based file organizer daemon",
		Long: `Conveyor watches directories and moves or renames new files and folders
according to ordered rules.

Watched directories and their conditions live in a SQLite database.
"conveyor serve" runs the watchers; the other commands edit the
configuration and read the audit log. A running daemon picks up edits
on its next reconcile tick or on SIGHUP.

Configuration is loaded from $CONVEYOR_HOME/config.yaml if present.
CLI flags override configuration file settings.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to config file (default: $CONVEYOR_HOME/config.yaml)")
	cmd.PersistentFlags().StringVar(&g.dbPath, "db", "", "Path to SQLite database (default: $CONVEYOR_HOME/conveyor.db)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.logDir, "log-dir", "", "Directory for daemon log files")

	cmd.AddCommand(newServeCommand(g))
	cmd.AddCommand(newDirectoryCommand(g))
	cmd.AddCommand(newConditionCommand(g))
	cmd.AddCommand(newLogCommand(g))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// loadConfig reads the config file and applies the flags the user set explicitly
func (g *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadConfig(g.configPath)
	} else {
		cfg, err = config.LoadConfigFromHome()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var dbPath, logLevel, logDir *string
	flags := cmd.Flags()
	if flags.Changed("db") {
		dbPath = &g.dbPath
	}
	if flags.Changed("log-level") {
		logLevel = &g.logLevel
	}
	if flags.Changed("log-dir") {
		logDir = &g.logDir
	}
	cfg.MergeWithFlags(dbPath, logLevel, logDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore loads the configuration and opens the database it points at
func (g *globalFlags) openStore(cmd *cobra.Command) (*store.Store, *config.Config, error) {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	dbPath, err := cfg.ResolveDBPath()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get database path: %w", err)
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, cfg, nil
}
