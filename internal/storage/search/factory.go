package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/internal/storage/meilisearch"
	"github.com/Denis-Chistyakov/aigen/internal/storage/typesense"
	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

var (
	_ Indexer = (*typesense.Client)(nil)
	_ Indexer = (*meilisearch.Client)(nil)
)

// ProviderType represents the search provider type
type ProviderType string

const (
	ProviderTypesense   ProviderType = "typesense"
	ProviderMeilisearch ProviderType = "meilisearch"
)

// ProviderFactory creates search indexers
type ProviderFactory struct {
	typesenseConfig   types.TypesenseConfig
	meilisearchConfig types.MeilisearchConfig
	defaultProvider   ProviderType
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(cfg types.SearchConfig) *ProviderFactory {
	defaultProvider := ProviderTypesense
	switch cfg.Provider {
	case "", "typesense":
	case "meilisearch":
		defaultProvider = ProviderMeilisearch
	default:
		log.Warn().
			Str("provider", cfg.Provider).
			Msg("Unknown search provider, falling back to typesense")
	}

	return &ProviderFactory{
		typesenseConfig:   cfg.Typesense,
		meilisearchConfig: cfg.Meilisearch,
		defaultProvider:   defaultProvider,
	}
}

// DefaultProvider returns the configured provider type
func (f *ProviderFactory) DefaultProvider() ProviderType {
	return f.defaultProvider
}

// Enabled reports whether the selected provider is switched on
func (f *ProviderFactory) Enabled() bool {
	switch f.defaultProvider {
	case ProviderMeilisearch:
		return f.meilisearchConfig.Enabled
	default:
		return f.typesenseConfig.Enabled
	}
}

// Validate validates the configuration of the selected provider
func (f *ProviderFactory) Validate() error {
	switch f.defaultProvider {
	case ProviderMeilisearch:
		if !f.meilisearchConfig.Enabled {
			return fmt.Errorf("meilisearch is selected as provider but is not enabled")
		}
		if f.meilisearchConfig.Host == "" {
			return fmt.Errorf("meilisearch host is required")
		}
	case ProviderTypesense:
		if !f.typesenseConfig.Enabled {
			return fmt.Errorf("typesense is selected as provider but is not enabled")
		}
		if len(f.typesenseConfig.Nodes) == 0 {
			return fmt.Errorf("typesense nodes are required")
		}
	}
	return nil
}

// Create builds the selected indexer and makes sure its schema exists.
// It returns nil, nil when search is disabled.
func (f *ProviderFactory) Create(ctx context.Context) (Indexer, error) {
	if !f.Enabled() {
		log.Info().Msg("History search index disabled")
		return nil, nil
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var (
		idx Indexer
		err error
	)
	switch f.defaultProvider {
	case ProviderMeilisearch:
		idx, err = meilisearch.NewClient(f.meilisearchConfig)
	default:
		idx, err = typesense.NewClient(f.typesenseConfig)
	}
	if err != nil {
		return nil, err
	}

	if err := idx.EnsureSchema(ctx); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to prepare %s schema: %w", idx.Name(), err)
	}

	log.Info().
		Str("provider", idx.Name()).
		Msg("History search index ready")

	return idx, nil
}
