package history

// Package history defines the history store contract and the best-effort
// recorder that persists fulfilled requests.

import (
	"context"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// Store persists history records per user
type Store interface {
	// Append saves rec atomically and returns the assigned id
	Append(ctx context.Context, rec *types.HistoryRecord) (int64, error)

	// List returns the user's records newest first
	List(ctx context.Context, userID int64, filter types.ListFilter) ([]*types.HistoryRecord, error)

	// Get returns one record owned by userID or types.ErrNotFound
	Get(ctx context.Context, userID, id int64) (*types.HistoryRecord, error)

	// Delete removes one record owned by userID or returns types.ErrNotFound
	Delete(ctx context.Context, userID, id int64) error
}

// Indexer mirrors records into a full-text index
type Indexer interface {
	IndexRecord(ctx context.Context, rec *types.HistoryRecord) error
	DeleteRecord(ctx context.Context, id int64) error
}

// FailureCounter observes failed history writes
type FailureCounter interface {
	RecordHistoryFailure()
}
