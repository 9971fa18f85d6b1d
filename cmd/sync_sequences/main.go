package main

import (
	"context"
	"os"

	"whatsapp-inbox/internal/config"
	"whatsapp-inbox/internal/database"
	"whatsapp-inbox/pkg/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	cfg.DBDriver = "postgres"
	db, err := database.Open(cfg, log)
	if err != nil {
		log.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}

	log.Info("syncing postgresql sequences")
	if err := database.SyncSequences(context.Background(), db, log); err != nil {
		log.Error("some sequences were not synced", "error", err)
		os.Exit(1)
	}
	log.Info("done")
}
