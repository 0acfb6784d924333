package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"parley/internal/app"
)

func main() {
	cfg := app.LoadConfig()
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("startup.fail", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Error("server.fail", "err", err)
		os.Exit(1)
	}
}
