package meilisearch

// Package meilisearch mirrors history records into a Meilisearch index.

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// Client represents a Meilisearch search client
type Client struct {
	client    meilisearch.ServiceManager
	config    types.MeilisearchConfig
	indexName string
}

// NewClient creates a new Meilisearch client
func NewClient(cfg types.MeilisearchConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("meilisearch is disabled")
	}

	if cfg.Host == "" {
		return nil, fmt.Errorf("meilisearch host is not configured")
	}

	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "history"
	}

	client := meilisearch.New(
		cfg.Host,
		meilisearch.WithAPIKey(cfg.APIKey),
	)

	log.Info().
		Str("host", cfg.Host).
		Str("index", indexName).
		Msg("Meilisearch client initialized")

	return &Client{
		client:    client,
		config:    cfg,
		indexName: indexName,
	}, nil
}

// Name returns the provider name
func (c *Client) Name() string {
	return "meilisearch"
}

// HealthCheck checks if Meilisearch is available
func (c *Client) HealthCheck(ctx context.Context) error {
	health, err := c.client.Health()
	if err != nil {
		return fmt.Errorf("meilisearch health check failed: %w", err)
	}
	if health.Status != "available" {
		return fmt.Errorf("meilisearch is unhealthy: %s", health.Status)
	}
	return nil
}

// EnsureSchema creates the index and its attribute settings
func (c *Client) EnsureSchema(ctx context.Context) error {
	_, err := c.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        c.indexName,
		PrimaryKey: "id",
	})
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create index: %w", err)
		}
		log.Debug().Str("index", c.indexName).Msg("Index already exists")
	}

	index := c.client.Index(c.indexName)

	searchableAttrs := []string{"query"}
	if _, err = index.UpdateSearchableAttributes(&searchableAttrs); err != nil {
		return fmt.Errorf("failed to update searchable attributes: %w", err)
	}

	filterableAttrs := []interface{}{"user_id", "item_type"}
	if _, err = index.UpdateFilterableAttributes(&filterableAttrs); err != nil {
		return fmt.Errorf("failed to update filterable attributes: %w", err)
	}

	sortableAttrs := []string{"created_at"}
	if _, err = index.UpdateSortableAttributes(&sortableAttrs); err != nil {
		return fmt.Errorf("failed to update sortable attributes: %w", err)
	}

	log.Info().Str("index", c.indexName).Msg("Meilisearch schema created/updated")
	return nil
}

// IndexRecord adds or replaces one history record
func (c *Client) IndexRecord(ctx context.Context, rec *types.HistoryRecord) error {
	doc := map[string]interface{}{
		"id":         strconv.FormatInt(rec.ID, 10),
		"record_id":  rec.ID,
		"user_id":    rec.UserID,
		"item_type":  string(rec.ItemType),
		"query":      rec.Query,
		"created_at": rec.CreatedAt.Unix(),
	}

	index := c.client.Index(c.indexName)
	primaryKey := "id"
	if _, err := index.AddDocuments([]map[string]interface{}{doc}, &primaryKey); err != nil {
		return fmt.Errorf("failed to index history record %d: %w", rec.ID, err)
	}

	log.Debug().Int64("id", rec.ID).Msg("History record indexed")
	return nil
}

// DeleteRecord removes one history record from the index
func (c *Client) DeleteRecord(ctx context.Context, id int64) error {
	index := c.client.Index(c.indexName)
	if _, err := index.DeleteDocument(strconv.FormatInt(id, 10)); err != nil {
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

	searchReq := &meilisearch.SearchRequest{
		Limit:                int64(limit),
		Filter:               fmt.Sprintf("user_id = %d", userID),
		AttributesToRetrieve: []string{"record_id"},
	}

	start := time.Now()
	result, err := c.client.Index(c.indexName).Search(query, searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]int64, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var hitMap map[string]interface{}
		if err := hit.DecodeInto(&hitMap); err != nil {
			log.Warn().Err(err).Msg("Failed to decode hit")
			continue
		}
		if id := getInt(hitMap, "record_id"); id > 0 {
			ids = append(ids, id)
		}
	}

	log.Debug().
		Str("query", query).
		Int("hits", len(ids)).
		Int64("search_time_ms", time.Since(start).Milliseconds()).
		Msg("Meilisearch search completed")

	return ids, nil
}

// GetStats returns index statistics
func (c *Client) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats, err := c.client.Index(c.indexName).GetStats()
	if err != nil {
		return nil, fmt.Errorf("failed to get index stats: %w", err)
	}

	return map[string]interface{}{
		"index":         c.indexName,
		"provider":      "meilisearch",
		"num_documents": stats.NumberOfDocuments,
		"is_indexing":   stats.IsIndexing,
	}, nil
}

// Close closes the client (no-op for Meilisearch)
func (c *Client) Close() error {
	log.Info().Msg("Meilisearch client closed")
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
