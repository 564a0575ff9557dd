// Package cache provides the namespaced key-value store backing the
// reconciler: raw event logs and sync progress live here between runs.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent, expired, or unreadable.
var ErrMiss = errors.New("cache miss")

// Options control how an entry is written.
type Options struct {
	// TTL is the advisory expiry; zero means no expiry.
	TTL time.Duration
	// Persist routes the entry to durable storage so it survives a restart.
	Persist bool
}

// Store is a namespaced KV store with JSON values.
type Store interface {
	// Get unmarshals the entry into dest, or returns ErrMiss.
	Get(ctx context.Context, namespace, key string, dest interface{}) error
	// Set marshals value and writes it under (namespace, key).
	Set(ctx context.Context, namespace, key string, value interface{}, opts Options) error
	// Delete removes the entry. Deleting an absent key is not an error.
	Delete(ctx context.Context, namespace, key string) error
}
