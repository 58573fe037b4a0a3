// Package storage persists small JSON documents (per-user catalogs and agent
// records) to a durable backend. Every backend must make a Save visible to
// readers atomically: a reader sees the old document or the new one, never a
// partial write.
package storage

import (
	"context"
	"errors"
	"fmt"

	"radiotiker/config"
)

// ErrNotFound is returned by Load when no document exists under the key.
var ErrNotFound = errors.New("document not found")

// DocumentStore loads and saves whole documents by key.
type DocumentStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Close() error
}

// Open builds the backend selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config) (DocumentStore, error) {
	switch cfg.StoreBackend {
	case "", config.StoreFile:
		return NewFileStore(cfg.DataDir)
	case config.StoreMinio:
		return NewMinioStore(ctx, cfg)
	case config.StoreMySQL:
		return NewGormStore(cfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
