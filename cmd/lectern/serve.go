package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teilomillet/lectern/server"
)

var noWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves POST /v1/generate/{schema}, POST /v1/chat, GET /v1/schemas,
GET /health and GET /metrics. Generation settings are reloaded when the
config file changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the config file on change")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(cfg, logger, appOptions...)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("Shutdown incomplete", zap.Error(err))
		}
	}()

	if !noWatch {
		if _, statErr := os.Stat(configFile); statErr == nil {
			if err := app.Watch(ctx, configFile); err != nil {
				return err
			}
		}
	}

	srv := server.NewServer(cfg.Server, app.Router, logger)
	logger.Info("Starting lectern",
		zap.String("version", Version),
		zap.String("address", srv.Addr()),
		zap.String("backend", cfg.LLM.Backend),
		zap.String("audit", cfg.Audit.Backend),
	)
	return srv.Start(ctx)
}
