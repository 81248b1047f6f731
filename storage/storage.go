package storage

import "context"

// StateStore is the primary durable tier. Actors read it on startup and
// await writes to it before returning from mutating handlers.
type StateStore interface {
	Put(ctx context.Context, table, key string, item interface{}) error
	Get(ctx context.Context, table, key string, out interface{}) (bool, error)
	Delete(ctx context.Context, table, key string) error
}

// BackupStore is the secondary object tier: slow-cadence queue snapshots
// and transient terminal session snapshots. Consulted on cold start only
// when the primary tier is empty.
type BackupStore interface {
	PutObject(ctx context.Context, key string, item interface{}) error
	GetObject(ctx context.Context, key string, out interface{}) (bool, error)
	DeleteObject(ctx context.Context, key string) error
}
