// Package statestore is the durable key/value substrate for alarm firing
// state. Values survive process restarts and are readable before the user
// session is fully available; callers re-read keys immediately before acting
// instead of caching flags.
package statestore

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// Dedup checks treat this as "no record" and let events through rather than
// silencing a wake-up.
var ErrUnavailable = errors.New("statestore: unavailable")

// Store is a small durable key/value store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes a single key.
	Set(ctx context.Context, key, value string) error
	// SetAll writes every pair atomically. Readers observe either none or
	// all of the batch.
	SetAll(ctx context.Context, pairs map[string]string) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes every key.
	Clear(ctx context.Context) error
}
