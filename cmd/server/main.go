// Olynthus - risk profiling for wallet interactions
package main

import (
	"context"
	"os"

	"github.com/LukasBures/olynthus/internal/config"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting olynthus",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"dataset_backend", cfg.DatasetBackend,
		"nodes", len(cfg.Nodes),
		"explorers", len(cfg.Explorers),
		"simulation", cfg.SimulationEnabled && cfg.TenderlyURL != "",
		"kafka", cfg.KafkaEnabled(),
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
