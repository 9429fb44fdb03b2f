package state

import "context"

// Store is the key-value persistence boundary for simulator snapshots.
// Production uses the sqlite implementation; tests use Memory.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
