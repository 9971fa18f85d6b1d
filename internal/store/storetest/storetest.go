// Package storetest opens throwaway SQLite databases for package tests.
package storetest

import (
	"path/filepath"
	"testing"

	"whatsapp-inbox/internal/database"
	"whatsapp-inbox/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated database in t's temp dir. It uses a single
// connection so concurrent callers serialize the way a pool would.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "inbox.db")
	db, err := gorm.Open(sqlite.Open(database.SQLiteDSN(path)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// Account inserts an account routed by phoneNumberID.
func Account(t testing.TB, db *gorm.DB, name, phoneNumberID string, mutate ...func(*models.Account)) *models.Account {
	t.Helper()
	account := &models.Account{
		Name:          name,
		PhoneNumberID: phoneNumberID,
		APIURL:        "https://graph.example.test",
		APIVersion:    "v19.0",
		Token:         "token-" + name,
		VerifyToken:   "verify-" + name,
	}
	for _, fn := range mutate {
		fn(account)
	}
	require.NoError(t, db.Create(account).Error)
	return account
}
