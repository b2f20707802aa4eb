// Package main is the entry point for the isogate gateway.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/howard-nolan/isogate/internal/config"
	"github.com/howard-nolan/isogate/internal/logging"
	"github.com/howard-nolan/isogate/internal/proxy"
	"github.com/howard-nolan/isogate/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to optional YAML config file")
	flag.Parse()

	// A configuration error is fatal: the server must never start
	// accepting connections with an invalid or incomplete setup.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.LoggingMode)
	defer logger.Sync()

	forwarder := proxy.New(cfg, logger)
	srv := server.New(cfg, forwarder, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("isogate listening",
		zap.String("addr", cfg.Addr()),
		zap.String("provider", cfg.Provider),
		zap.String("disclosure", cfg.Disclosure),
		zap.String("logging_mode", cfg.LoggingMode),
	)

	if err := httpServer.ListenAndServe(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
