package database

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/pkg/logging"

	"gorm.io/gorm"
)

const copyBatchSize = 200

// TableNames lists the tables behind models.All, in dependency order.
func TableNames(db *gorm.DB) ([]string, error) {
	names := make([]string, 0, len(models.All()))
	for _, model := range models.All() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return nil, fmt.Errorf("database: parse %T: %w", model, err)
		}
		names = append(names, stmt.Schema.Table)
	}
	return names, nil
}

// CopyTables copies every row of every table from src into dst, keeping ids.
// The destination is written in a single transaction.
func CopyTables(ctx context.Context, src, dst *gorm.DB, log *logging.Logger) error {
	return dst.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range models.All() {
			rows := reflect.New(reflect.SliceOf(reflect.TypeOf(model).Elem()))
			if err := src.WithContext(ctx).Order("id").Find(rows.Interface()).Error; err != nil {
				return fmt.Errorf("database: read %T: %w", model, err)
			}
			n := rows.Elem().Len()
			if n == 0 {
				log.Info("table empty, skipped", "model", fmt.Sprintf("%T", model))
				continue
			}
			if err := tx.CreateInBatches(rows.Interface(), copyBatchSize).Error; err != nil {
				return fmt.Errorf("database: write %T: %w", model, err)
			}
			log.Info("table copied", "model", fmt.Sprintf("%T", model), "rows", n)
		}
		return nil
	})
}

// SyncSequences moves each PostgreSQL id sequence past the largest copied id.
func SyncSequences(ctx context.Context, db *gorm.DB, log *logging.Logger) error {
	tables, err := TableNames(db)
	if err != nil {
		return err
	}

	var errs []error
	for _, table := range tables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.WithContext(ctx).Exec(query).Error; err != nil {
			log.Error("sequence sync failed", "table", table, "error", err)
			errs = append(errs, fmt.Errorf("database: sync %s: %w", table, err))
			continue
		}
		log.Info("sequence synced", "table", table)
	}
	return errors.Join(errs...)
}
