// Command lectern serves and drives the generation reconciliation engine.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teilomillet/lectern/config"
	lerrors "github.com/teilomillet/lectern/errors"
	"github.com/teilomillet/lectern/server"
)

// Version is the release tag, overridden at link time.
var Version = "v0.1.0-alpha"

var (
	// Global flags
	configFile string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger

	// appOptions are passed to every server.NewApp call.
	appOptions []server.AppOption
)

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Reconcile free-form model output into typed records",
	Long: `lectern asks a completion endpoint for schema-shaped content and
reconciles whatever comes back into a typed record, continuing truncated
answers and auditing every request.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = server.NewLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		lerrors.SetLogger(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadConfig reads the config file. A missing default file means defaults;
// a missing file named on the command line is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c, err := config.LoadFile(configFile)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.DefaultConfig(), nil
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "lectern.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, generateCmd, chatCmd, validateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
