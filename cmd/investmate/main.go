package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/ykvlv/investmate/internal/app"
	"github.com/ykvlv/investmate/internal/config"
	"github.com/ykvlv/investmate/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	investmate, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("app init failed", zap.Error(err))
	}
	if err := investmate.Run(context.Background()); err != nil {
		log.Fatal("app run failed", zap.Error(err))
	}
}
