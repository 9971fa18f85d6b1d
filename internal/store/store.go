// Package store is the gorm-backed repository for accounts, contacts,
// messages and the webhook audit log.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("store: record not found")
	ErrAccountNotFound = errors.New("store: account not found")
	// ErrDuplicate reports an insert that collided with an existing unique key.
	ErrDuplicate = errors.New("store: duplicate record")
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a Store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
