package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

func TestNewProviderFactory_Selection(t *testing.T) {
	assert.Equal(t, ProviderTypesense, NewProviderFactory(types.SearchConfig{}).DefaultProvider())
	assert.Equal(t, ProviderMeilisearch, NewProviderFactory(types.SearchConfig{Provider: "meilisearch"}).DefaultProvider())
	assert.Equal(t, ProviderTypesense, NewProviderFactory(types.SearchConfig{Provider: "elastic"}).DefaultProvider())
}

func TestProviderFactory_DisabledCreatesNothing(t *testing.T) {
	f := NewProviderFactory(types.SearchConfig{Provider: "typesense"})
	assert.False(t, f.Enabled())

	idx, err := f.Create(context.Background())
	require.NoError(t, err)
	assert.Nil(t, idx)
}

func TestProviderFactory_Validate(t *testing.T) {
	f := NewProviderFactory(types.SearchConfig{
		Provider:  "typesense",
		Typesense: types.TypesenseConfig{Enabled: true},
	})
	assert.Error(t, f.Validate())

	f = NewProviderFactory(types.SearchConfig{
		Provider:    "meilisearch",
		Meilisearch: types.MeilisearchConfig{Enabled: true},
	})
	assert.Error(t, f.Validate())

	f = NewProviderFactory(types.SearchConfig{
		Provider:    "meilisearch",
		Meilisearch: types.MeilisearchConfig{Enabled: true, Host: "http://localhost:7700"},
	})
	assert.NoError(t, f.Validate())
	assert.True(t, f.Enabled())
}
