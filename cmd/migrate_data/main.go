package main

import (
	"context"
	"os"

	"whatsapp-inbox/internal/config"
	"whatsapp-inbox/internal/database"
	"whatsapp-inbox/pkg/logging"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// migrate_data copies an existing SQLite inbox (DB_PATH) into the PostgreSQL
// database described by the DB_* variables. Run sync_sequences afterwards.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)
	ctx := context.Background()

	// 1. Connect to SQLite (Source)
	sqliteDB, err := gorm.Open(sqlite.Open(database.SQLiteDSN(cfg.DBPath)), &gorm.Config{
		Logger: logger.Default.LogMode(database.GormLogLevel(cfg.DBLogLevel)),
	})
	if err != nil {
		log.Error("failed to open sqlite source", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	log.Info("connected to sqlite", "path", cfg.DBPath)

	// 2. Connect to PostgreSQL (Destination)
	cfg.DBDriver = "postgres"
	pgDB, err := database.Open(cfg, log)
	if err != nil {
		log.Error("failed to open postgres destination", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(pgDB); err != nil {
		log.Error("failed to migrate postgres schema", "error", err)
		os.Exit(1)
	}

	log.Info("starting data migration")
	if err := database.CopyTables(ctx, sqliteDB, pgDB, log); err != nil {
		log.Error("data migration failed, nothing was written", "error", err)
		os.Exit(1)
	}
	log.Info("migration completed")
}
