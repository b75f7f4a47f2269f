package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/teilomillet/lectern/config"
	"github.com/teilomillet/lectern/errors"
	"github.com/teilomillet/lectern/server"
)

func main() {
	configPath := "lectern.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		fmt.Printf("Critical error: %v\n", err)
		os.Exit(1)
	}

	logger, err := server.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Critical error: Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Printf("Warning: Failed to sync logger: %v\n", syncErr)
		}
	}()
	errors.SetLogger(logger)

	app, err := server.NewApp(cfg, logger)
	if err != nil {
		logger.Fatal("Engine initialization failed",
			zap.Error(err),
			zap.String("config_path", configPath),
		)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Shutdown signal received",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if err := app.Watch(ctx, configPath); err != nil {
		logger.Warn("Config reload disabled", zap.Error(err))
	}

	srv := server.NewServer(cfg.Server, app.Router, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("Server startup or runtime error", zap.Error(err))
	}
}
