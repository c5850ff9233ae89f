package repository

import (
	"context"

	"devicetrust/internal/session/domain"
)

// Store is the remote session store. It assumes read-after-write consistency, not transactions.
// Selects return records newest-activity first.
type Store interface {
	// UpsertByFilter applies patch to the most recently active record matching filter and returns it.
	// It returns (nil, nil) when nothing matches; it never inserts.
	UpsertByFilter(ctx context.Context, filter domain.Filter, patch domain.Patch) (*domain.Record, error)
	// SelectByFilter returns all records matching filter.
	SelectByFilter(ctx context.Context, filter domain.Filter) ([]*domain.Record, error)
	// Insert persists rec and returns the stored record. ID and CreatedAt are assigned when empty.
	Insert(ctx context.Context, rec *domain.Record) (*domain.Record, error)
	// UpdateMany applies patch to every record matching filter and returns the number of rows changed.
	UpdateMany(ctx context.Context, filter domain.Filter, patch domain.Patch) (int64, error)
}
