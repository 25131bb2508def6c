// Command server runs the feedsmith HTTP API.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/transitkit/feedsmith/internal/config"
	"github.com/transitkit/feedsmith/internal/server"
)

func main() {
	configPath := flag.String("config", "feedsmith.yaml", "path to the YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("creating server", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
