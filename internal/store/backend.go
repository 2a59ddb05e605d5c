package store

import (
	"context"
	"errors"
)

var (
	// ErrStorageWrite wraps every failed write
	ErrStorageWrite = errors.New("storage write failed")

	// ErrNotFound is returned when an addressed record does not exist
	ErrNotFound = errors.New("not found")
)

// Backend is a flat string key-value space
type Backend interface {
	// Get returns the value for key and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)

	// Set replaces the value for key
	Set(ctx context.Context, key, value string) error

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	Close() error
}
