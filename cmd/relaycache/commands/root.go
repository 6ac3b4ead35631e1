package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/poprelay/relaycache/internal/config"
	"github.com/poprelay/relaycache/internal/logging"
	"github.com/poprelay/relaycache/internal/ui"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

// Loaded by the root command before any subcommand runs
var (
	paths  *config.Paths
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "relaycache",
	Short: "relaycache - relay server discovery and packet cache",
	Long: `relaycache finds relay servers on the local network by UDP broadcast and
persists decoded relay packets to an append-only cache file (or Redis).

Use "relaycache [command] --help" for more information about a command.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ~/.relaycache/config.json)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().String("cache", "", "Cache file path")
	rootCmd.PersistentFlags().String("redis-url", "", "Write the cache to Redis instead of a file")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(announceCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(clearCmd)
}

// setup loads the configuration, applies global flags and builds the logger
func setup(cmd *cobra.Command, args []string) error {
	var err error
	paths, err = config.GetPaths()
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err = config.LoadFrom(paths, configFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-file") {
		cfg.Log.File, _ = flags.GetString("log-file")
	}
	if flags.Changed("cache") {
		cfg.Cache.Path, _ = flags.GetString("cache")
	}
	if flags.Changed("redis-url") {
		cfg.Cache.RedisURL, _ = flags.GetString("redis-url")
	}
	if noColor, _ := flags.GetBool("no-color"); noColor {
		ui.SetNoColor(true)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	verbose, _ := flags.GetBool("verbose")
	logger, err = logging.New(cfg.LogOptions(verbose))
	if err != nil {
		return err
	}

	clientID, err := paths.ClientID()
	if err != nil {
		logger.Warn("failed to load client id", zap.Error(err))
	} else {
		logger = logger.With(zap.String("client", shortID(clientID)))
	}
	return nil
}

// versionCmd shows version info
var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Show version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("relaycache\n")
		fmt.Printf("  Version:  %s\n", Version)
		fmt.Printf("  Commit:   %s\n", Commit)
		fmt.Printf("  Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
