// Package store defines the persistence interface for pool snapshots and
// the audit event ledger. Implementations include PostgreSQL (source of
// truth), Redis (read-through cache), and in-memory (for testing).
//
// Persistence is observational: the live pool engines own the accounting
// state, and the store records snapshots and append-only events for
// indexing and inspection.
package store

import (
	"context"

	"github.com/swapline/pool-engine/internal/model"
)

// Store is the persistence interface.
type Store interface {
	// --- Pool snapshots ---

	// UpsertPool persists the latest snapshot of a pool.
	UpsertPool(ctx context.Context, p *model.Pool) error

	// GetPool retrieves the latest snapshot of a pool by id.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// ListPools returns the latest snapshot of every pool.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// --- Immutable event ledger ---

	// InsertEvent appends an audit event. Events are never updated.
	InsertEvent(ctx context.Context, ev *model.PoolEvent) error

	// GetEventsByPool returns all events for a pool in insertion order.
	GetEventsByPool(ctx context.Context, poolID string) ([]model.PoolEvent, error)

	// GetEventsByActor returns all events for an actor in insertion order.
	GetEventsByActor(ctx context.Context, actor string) ([]model.PoolEvent, error)
}
