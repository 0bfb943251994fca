package fulfillment

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/internal/provider"
	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// Default tool names on the primary MCP servers
const (
	DefaultSearchTool = "duckduckgo_search"
	DefaultImageTool  = "flux_imagegen"
)

// Image parameter bounds
const (
	MinDimension = 256
	MaxDimension = 2048
	MinSteps     = 10
	MaxSteps     = 50
	MinGuidance  = 1.0
	MaxGuidance  = 20.0
)

// SearchFallback is the secondary search provider
type SearchFallback interface {
	Search(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error)
}

// ImageFallback is the secondary image provider
type ImageFallback interface {
	Generate(prompt string) map[string]interface{}
}

// Recorder persists fulfilled requests without blocking them
type Recorder interface {
	Record(ctx context.Context, rec *types.HistoryRecord) *int64
}

// Metrics observes fulfillment outcomes
type Metrics interface {
	RecordFulfillment(kind types.ItemType, method types.Method, success bool, duration time.Duration)
}

// Config wires a Pipeline
type Config struct {
	Search         provider.Capability
	Image          provider.Capability
	SearchFallback SearchFallback
	ImageFallback  ImageFallback
	Recorder       Recorder
	Metrics        Metrics
	SearchTool     string
	ImageTool      string
}

// Pipeline fulfills search and image requests
type Pipeline struct {
	search         provider.Capability
	image          provider.Capability
	searchFallback SearchFallback
	imageFallback  ImageFallback
	recorder       Recorder
	metrics        Metrics
	searchTool     string
	imageTool      string
}

// SearchOutcome is the result of a fulfilled search
type SearchOutcome struct {
	Query    string
	Results  []types.SearchResult
	Method   types.Method
	RecordID *int64
}

// ImageOutcome is the result of a fulfilled image generation
type ImageOutcome struct {
	Result   *types.ImageResult
	RecordID *int64
}

// NewPipeline creates a pipeline
func NewPipeline(cfg Config) *Pipeline {
	if cfg.SearchTool == "" {
		cfg.SearchTool = DefaultSearchTool
	}
	if cfg.ImageTool == "" {
		cfg.ImageTool = DefaultImageTool
	}
	return &Pipeline{
		search:         cfg.Search,
		image:          cfg.Image,
		searchFallback: cfg.SearchFallback,
		imageFallback:  cfg.ImageFallback,
		recorder:       cfg.Recorder,
		metrics:        cfg.Metrics,
		searchTool:     cfg.SearchTool,
		imageTool:      cfg.ImageTool,
	}
}

// FulfillSearch runs a web search for userID
func (p *Pipeline) FulfillSearch(ctx context.Context, userID int64, query string, maxResults int) (*SearchOutcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.InvalidArgument("Search query cannot be empty")
	}
	if maxResults < 0 {
		return nil, types.InvalidArgument("max_results must not be negative")
	}

	start := time.Now()
	chain := Chain[[]types.SearchResult]{
		{Method: types.MethodMCP, Run: func(ctx context.Context) ([]types.SearchResult, error) {
			if p.search == nil {
				return nil, errNotConfigured
			}
			payload, err := p.search.Call(ctx, p.searchTool, map[string]interface{}{
				"query":       query,
				"max_results": maxResults,
			})
			if err != nil {
				return nil, err
			}
			return rawResults(payload)
		}},
		{Method: types.MethodFallback, Run: func(ctx context.Context) ([]types.SearchResult, error) {
			if p.searchFallback == nil {
				return nil, errNotConfigured
			}
			return p.searchFallback.Search(ctx, query, maxResults)
		}},
	}

	results, method, err := chain.Run(ctx)
	if err != nil {
		p.observe(types.ItemSearch, "", false, start)
		log.Error().
			Err(err).
			Int64("user_id", userID).
			Str("query", query).
			Msg("Search failed on every provider")
		return nil, types.ServiceUnavailable("Search service temporarily unavailable", err)
	}

	results = NormalizeResults(results, maxResults)
	p.observe(types.ItemSearch, method, true, start)

	payload := types.SearchPayload{
		Results:      results,
		SearchMethod: method,
		QueryMetadata: types.QueryMetadata{
			MaxResults:   maxResults,
			ResultsCount: len(results),
		},
	}

	log.Info().
		Int64("user_id", userID).
		Str("method", string(method)).
		Int("results", len(results)).
		Msg("Search fulfilled")

	return &SearchOutcome{
		Query:    query,
		Results:  results,
		Method:   method,
		RecordID: p.record(ctx, userID, types.ItemSearch, query, payload),
	}, nil
}

// FulfillImage generates an image for userID
func (p *Pipeline) FulfillImage(ctx context.Context, userID int64, prompt string, params types.ImageParams) (*ImageOutcome, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, types.InvalidArgument("Image prompt cannot be empty")
	}
	if err := ValidateImageParams(params); err != nil {
		return nil, err
	}

	start := time.Now()
	chain := Chain[map[string]interface{}]{
		{Method: types.MethodMCP, Run: func(ctx context.Context) (map[string]interface{}, error) {
			if p.image == nil {
				return nil, errNotConfigured
			}
			return p.image.Call(ctx, p.imageTool, map[string]interface{}{
				"prompt":   prompt,
				"width":    params.Width,
				"height":   params.Height,
				"steps":    params.Steps,
				"guidance": params.Guidance,
			})
		}},
		{Method: types.MethodFallback, Run: func(ctx context.Context) (map[string]interface{}, error) {
			if p.imageFallback == nil {
				return nil, errNotConfigured
			}
			return p.imageFallback.Generate(prompt), nil
		}},
	}

	payload, method, err := chain.Run(ctx)
	if err != nil {
		p.observe(types.ItemImage, "", false, start)
		log.Error().
			Err(err).
			Int64("user_id", userID).
			Msg("Image generation failed on every provider")
		return nil, types.ServiceUnavailable("Image generation service temporarily unavailable", err)
	}

	result := NormalizeImage(prompt, method, payload, params)
	if result.ImageURL == "" {
		p.observe(types.ItemImage, method, false, start)
		log.Error().
			Int64("user_id", userID).
			Str("method", string(method)).
			Msg("Image generation returned no image URL")
		return nil, types.ServiceUnavailable("Image generation completed but no image URL received", nil)
	}
	p.observe(types.ItemImage, method, true, start)

	log.Info().
		Int64("user_id", userID).
		Str("method", string(method)).
		Msg("Image generated")

	return &ImageOutcome{
		Result:   result,
		RecordID: p.record(ctx, userID, types.ItemImage, prompt, result),
	}, nil
}

// ValidateImageParams enforces the accepted parameter ranges
func ValidateImageParams(params types.ImageParams) error {
	if params.Width < MinDimension || params.Width > MaxDimension {
		return types.InvalidArgument("width must be between 256 and 2048")
	}
	if params.Height < MinDimension || params.Height > MaxDimension {
		return types.InvalidArgument("height must be between 256 and 2048")
	}
	if params.Steps < MinSteps || params.Steps > MaxSteps {
		return types.InvalidArgument("steps must be between 10 and 50")
	}
	if math.IsNaN(params.Guidance) || params.Guidance < MinGuidance || params.Guidance > MaxGuidance {
		return types.InvalidArgument("guidance must be between 1.0 and 20.0")
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, userID int64, kind types.ItemType, query string, data interface{}) *int64 {
	if p.recorder == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("item_type", string(kind)).Msg("Failed to encode history payload")
		return nil
	}
	return p.recorder.Record(ctx, &types.HistoryRecord{
		ItemType: kind,
		Query:    query,
		Data:     raw,
		UserID:   userID,
	})
}

func (p *Pipeline) observe(kind types.ItemType, method types.Method, success bool, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordFulfillment(kind, method, success, time.Since(start))
	}
}
