package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bn-hedge-bot/internal/app"
	"bn-hedge-bot/internal/config"
	"bn-hedge-bot/internal/logging"
	"bn-hedge-bot/internal/server"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	log.Info("config loaded", zap.String("path", *configPath))

	application, err := app.New(cfg, log, func(runner *app.Manager, metricsHandler http.Handler) app.APIServer {
		return server.New(cfg.Server, runner, metricsHandler, log)
	})
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	log.Info("app initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && err != context.Canceled {
		log.Error("app terminated", zap.Error(err))
		os.Exit(1)
	}
}
