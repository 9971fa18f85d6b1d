// Package storage defines where attachment files live.
package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("storage: object not found")

// Provider stores attachment bytes under opaque keys.
type Provider interface {
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// URL returns the address operators use to fetch key.
	URL(key string) string
}
