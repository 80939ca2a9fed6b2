// Package kvstore provides the shared key-value store that carries events
// between processes. The store is per-installation: every window process
// opens the same scope and observes every write made to it, including its
// own.
package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when no value exists for the key.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when the underlying store cannot be
	// reached.
	ErrUnavailable = errors.New("store unavailable")
)

// ChangeHandler receives the key of every write in the store scope, across
// all processes sharing it. It never receives the value; readers re-fetch
// current state with Get.
type ChangeHandler func(key string)

// Store is a persistent key-value store shared by every process of the same
// installation. Writes are atomic per key: a reader never observes a
// partially written value. Writes are not transactional across keys.
type Store interface {
	// Get returns the current value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// OnChange registers fn for change notifications. The returned cancel
	// function unregisters it; it is safe to call more than once.
	OnChange(fn ChangeHandler) (cancel func())
}
