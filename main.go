package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"cspdns/internal/config"
	"cspdns/internal/server"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to an optional configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level %q: %v", cfg.Log.Level, err)
	}
	logger.SetLevel(level)

	log.WithField("version", version).Info("=== cs-pdns-sync ===")
	log.Infof("Common zone: %s (enabled: %t)", cfg.DNS.CommonZone, cfg.DNS.AddToCommonZone)
	log.Infof("Watchdog timeout: %s", cfg.WatchdogTimeout())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx, cfg, log, version); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
