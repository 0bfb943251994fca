package search

import (
	"context"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// Indexer defines the interface for history search engines (Typesense, Meilisearch)
type Indexer interface {
	// Name returns the provider name
	Name() string

	// HealthCheck checks if the search engine is available
	HealthCheck(ctx context.Context) error

	// EnsureSchema creates the history collection/index when absent
	EnsureSchema(ctx context.Context) error

	// IndexRecord adds or replaces a history record
	IndexRecord(ctx context.Context, rec *types.HistoryRecord) error

	// DeleteRecord removes a history record
	DeleteRecord(ctx context.Context, id int64) error

	// Search returns matching record ids of one user, best match first
	Search(ctx context.Context, userID int64, query string, limit int) ([]int64, error)

	// GetStats returns collection/index statistics
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the client
	Close() error
}
