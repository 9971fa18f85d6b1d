package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"whatsapp-inbox/internal/config"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/pkg/logging"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database. TranslateError is always on so
// unique violations surface as gorm.ErrDuplicatedKey on both drivers.
func Open(cfg *config.Config, log *logging.Logger) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(GormLogLevel(cfg.DBLogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("database: connect %s: %w", cfg.DBDriver, err)
	}

	if cfg.DBDriver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("database: sqlite handle: %w", err)
		}
		// SQLite allows one writer; serialize through a single connection.
		sqlDB.SetMaxOpenConns(1)
	}

	log.Info("database connected", "driver", cfg.DBDriver)
	return db, nil
}

func Dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.Open(cfg.PostgresDSN()), nil
	case "sqlite", "":
		return sqlite.Open(SQLiteDSN(cfg.DBPath)), nil
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.DBDriver)
	}
}

// SQLiteDSN appends the pragmas the inbox relies on to a file path.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_foreign_keys=on"
}

func GormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info", "debug":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("database: auto-migrate: %w", err)
	}
	return nil
}

// SeedAccount upserts the account described by the PHONE_NUMBER_ID and
// friends into the accounts table. Existing rows keep their default flags;
// credentials and endpoints are refreshed from the environment.
func SeedAccount(ctx context.Context, db *gorm.DB, cfg *config.Config) (*models.Account, error) {
	if cfg.PhoneNumberID == "" {
		return nil, nil
	}

	var account models.Account
	err := db.WithContext(ctx).Where("name = ?", cfg.AccountName).First(&account).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		var defaults int64
		if err := db.WithContext(ctx).Model(&models.Account{}).Where("default_incoming = ?", true).Count(&defaults).Error; err != nil {
			return nil, fmt.Errorf("database: count default accounts: %w", err)
		}
		account = models.Account{
			Name:            cfg.AccountName,
			DefaultIncoming: defaults == 0,
			DefaultOutgoing: defaults == 0,
		}
	case err != nil:
		return nil, fmt.Errorf("database: load account %q: %w", cfg.AccountName, err)
	}

	account.PhoneNumberID = cfg.PhoneNumberID
	account.BusinessAccountID = cfg.WhatsAppBusinessAccountID
	account.APIURL = cfg.WhatsAppAPIURL
	account.APIVersion = cfg.WhatsAppAPIVersion
	account.Token = cfg.WhatsAppToken
	account.VerifyToken = cfg.VerifyToken
	account.RelayURL = cfg.RelayURL
	account.AutoReadReceipt = cfg.AutoReadReceipt

	if err := db.WithContext(ctx).Save(&account).Error; err != nil {
		return nil, fmt.Errorf("database: save account %q: %w", cfg.AccountName, err)
	}
	return &account, nil
}
