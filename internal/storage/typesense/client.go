package typesense

// Package typesense mirrors history records into a Typesense collection
// for typo-tolerant lookups.

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// Client represents a Typesense search client
type Client struct {
	client     *typesense.Client
	config     types.TypesenseConfig
	collection string
}

// NewClient creates a new Typesense client
func NewClient(cfg types.TypesenseConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("typesense is disabled")
	}

	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("no typesense nodes configured")
	}

	timeout := types.DurationOr(cfg.Timeout, 5*time.Second)

	collection := cfg.Collection
	if collection == "" {
		collection = "history"
	}

	client := typesense.NewClient(
		typesense.WithServer(cfg.Nodes[0]),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(timeout),
	)

	log.Info().
		Strs("nodes", cfg.Nodes).
		Str("collection", collection).
		Msg("Typesense client initialized")

	return &Client{
		client:     client,
		config:     cfg,
		collection: collection,
	}, nil
}

// Name returns the provider name
func (c *Client) Name() string {
	return "typesense"
}

// HealthCheck checks if Typesense is available
func (c *Client) HealthCheck(ctx context.Context) error {
	health, err := c.client.Health(ctx, 5*time.Second)
	if err != nil {
		return fmt.Errorf("typesense health check failed: %w", err)
	}
	if !health {
		return fmt.Errorf("typesense is unhealthy")
	}
	return nil
}

// EnsureSchema creates the history collection if it does not exist
func (c *Client) EnsureSchema(ctx context.Context) error {
	schema := &api.CollectionSchema{
		Name: c.collection,
		Fields: []api.Field{
			{Name: "id", Type: "string"},
			{Name: "record_id", Type: "int64"},
			{Name: "user_id", Type: "int64", Facet: pointer.True()},
			{Name: "item_type", Type: "string", Facet: pointer.True()},
			{Name: "query", Type: "string"},
			{Name: "created_at", Type: "int64", Sort: pointer.True()},
		},
		DefaultSortingField: pointer.String("created_at"),
	}

	_, err := c.client.Collections().Create(ctx, schema)
	if err != nil {
		if _, getErr := c.client.Collection(c.collection).Retrieve(ctx); getErr == nil {
			log.Debug().Str("collection", c.collection).Msg("Collection already exists")
			return nil
		}
		return fmt.Errorf("failed to create collection: %w", err)
	}

	log.Info().Str("collection", c.collection).Msg("Collection created")
	return nil
}

// HistoryDocument is the indexed form of a history record
type HistoryDocument struct {
	ID        string `json:"id"`
	RecordID  int64  `json:"record_id"`
	UserID    int64  `json:"user_id"`
	ItemType  string `json:"item_type"`
	Query     string `json:"query"`
	CreatedAt int64  `json:"created_at"`
}

// IndexRecord upserts one history record
func (c *Client) IndexRecord(ctx context.Context, rec *types.HistoryRecord) error {
	doc := HistoryDocument{
		ID:        strconv.FormatInt(rec.ID, 10),
		RecordID:  rec.ID,
		UserID:    rec.UserID,
		ItemType:  string(rec.ItemType),
		Query:     rec.Query,
		CreatedAt: rec.CreatedAt.Unix(),
	}

	_, err := c.client.Collection(c.collection).Documents().Upsert(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to index history record %d: %w", rec.ID, err)
	}

	log.Debug().Int64("id", rec.ID).Msg("History record indexed")
	return nil
}

// DeleteRecord removes one history record from the index
func (c *Client) DeleteRecord(ctx context.Context, id int64) error {
	_, err := c.client.Collection(c.collection).Document(strconv.FormatInt(id, 10)).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete history record %d: %w", id, err)
	}
	return nil
}

// Search returns ids of the user's records matching query, best match first
func (c *Client) Search(ctx context.Context, userID int64, query string, limit int) ([]int64, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if query == "" {
		query = "*"
	}

	numTypos := c.config.NumTypos
	if numTypos == 0 {
		numTypos = 2
	}
	numTyposStr := strconv.Itoa(numTypos)
	queryBy := "query"

	params := &api.SearchCollectionParams{
		Q:        &query,
		QueryBy:  &queryBy,
		FilterBy: pointer.String(fmt.Sprintf("user_id:=%d", userID)),
		SortBy:   pointer.String("_text_match:desc,created_at:desc"),
		Page:     pointer.Int(1),
		PerPage:  pointer.Int(limit),
		NumTypos: &numTyposStr,
	}

	start := time.Now()
	result, err := c.client.Collection(c.collection).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]int64, 0)
	if result.Hits != nil {
		for _, hit := range *result.Hits {
			if hit.Document == nil {
				continue
			}
			if id := getInt(*hit.Document, "record_id"); id > 0 {
				ids = append(ids, id)
			}
		}
	}

	log.Debug().
		Str("query", query).
		Int("hits", len(ids)).
		Int64("search_time_ms", time.Since(start).Milliseconds()).
		Msg("Search completed")

	return ids, nil
}

// GetStats returns collection statistics
func (c *Client) GetStats(ctx context.Context) (map[string]interface{}, error) {
	collection, err := c.client.Collection(c.collection).Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection stats: %w", err)
	}

	stats := map[string]interface{}{
		"collection": c.collection,
	}
	if collection.NumDocuments != nil {
		stats["num_documents"] = *collection.NumDocuments
	}
	return stats, nil
}

// Close closes the client (no-op for Typesense)
func (c *Client) Close() error {
	log.Info().Msg("Typesense client closed")
	return nil
}

func getInt(doc map[string]interface{}, key string) int64 {
	if v, ok := doc[key]; ok {
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int64:
			return n
		case int:
			return int64(n)
		}
	}
	return 0
}
