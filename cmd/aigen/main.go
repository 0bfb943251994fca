package main

// Package main provides the main entry point for the AIGen server.
import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/internal/analytics"
	"github.com/Denis-Chistyakov/aigen/internal/auth"
	"github.com/Denis-Chistyakov/aigen/internal/fallback"
	"github.com/Denis-Chistyakov/aigen/internal/fulfillment"
	"github.com/Denis-Chistyakov/aigen/internal/gateway/cli"
	"github.com/Denis-Chistyakov/aigen/internal/gateway/http"
	"github.com/Denis-Chistyakov/aigen/internal/history"
	"github.com/Denis-Chistyakov/aigen/internal/provider"
	"github.com/Denis-Chistyakov/aigen/internal/storage/badger"
	"github.com/Denis-Chistyakov/aigen/internal/storage/postgres"
	"github.com/Denis-Chistyakov/aigen/internal/storage/search"
	"github.com/Denis-Chistyakov/aigen/internal/storage/sqlite"
	"github.com/Denis-Chistyakov/aigen/internal/version"
	"github.com/Denis-Chistyakov/aigen/pkg/mcpclient"
	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

const (
	shutdownTimeout = 10 * time.Second
	badgerGCPeriod  = 5 * time.Minute
)

// backend is implemented by every storage driver
type backend interface {
	history.Store
	auth.UserStore
	Ping(ctx context.Context) error
	Close() error
	GetStats() map[string]interface{}
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := cli.Execute(run); err != nil {
		log.Fatal().Err(err).Msg("AIGen failed")
	}
}

// run wires every component and serves until ctx is cancelled
func run(ctx context.Context, config *types.Config) error {
	log.Info().Str("version", version.Version).Msg("Starting AIGen")

	store, err := openBackend(ctx, config.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Storage shutdown error")
		}
	}()
	log.Info().
		Interface("stats", store.GetStats()).
		Msg("Storage initialized")

	if db, ok := store.(*badger.DB); ok {
		db.StartGC(ctx, badgerGCPeriod)
	}

	// Optional full-text index over history
	index, err := search.NewProviderFactory(config.Storage.Search).Create(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("History search index unavailable, /dashboard/search disabled")
		index = nil
	}
	var (
		historyIndex history.Indexer
		searcher     http.Searcher
	)
	if index != nil {
		historyIndex, searcher = index, index
		defer index.Close()
		log.Info().Str("provider", index.Name()).Msg("History search index connected")
	}

	collector := analytics.NewCollector(config.Analytics.Enabled)

	// Primary providers
	breakers := provider.NewCircuitBreakerManager(provider.DefaultBreakerSettings())
	var (
		searchCap, imageCap     provider.Capability
		searchProbe, imageProbe http.StatusReporter
	)
	if c := newCapability("search", config.Providers.Search, breakers); c != nil {
		searchCap, searchProbe = c, c
	}
	if c := newCapability("image", config.Providers.Image, breakers); c != nil {
		imageCap, imageProbe = c, c
	}

	// Fallback providers
	retry := fallback.DefaultRetryConfig()
	if config.Fallback.MaxRetries > 0 {
		retry.MaxRetries = config.Fallback.MaxRetries
	}
	duckduckgo := fallback.NewDuckDuckGo(
		config.Fallback.DuckDuckGoURL,
		types.DurationOr(config.Fallback.Timeout, 15*time.Second),
		retry,
	)
	pollinations := fallback.NewPollinations(config.Fallback.PollinationsURL)

	recorder := history.NewRecorder(store, historyIndex, collector, history.RecorderConfig{
		ConfirmTimeout: types.DurationOr(config.History.ConfirmTimeout, history.DefaultConfirmTimeout),
		WriteTimeout:   types.DurationOr(config.History.WriteTimeout, history.DefaultWriteTimeout),
	})

	pipeline := fulfillment.NewPipeline(fulfillment.Config{
		Search:         searchCap,
		Image:          imageCap,
		SearchFallback: duckduckgo,
		ImageFallback:  pollinations,
		Recorder:       recorder,
		Metrics:        collector,
		SearchTool:     config.Providers.Search.Tool,
		ImageTool:      config.Providers.Image.Tool,
	})

	gate := auth.NewService(store, auth.Config{
		Secret:     config.Auth.JWTSecret,
		TokenTTL:   types.DurationOr(config.Auth.TokenTTL, auth.DefaultTokenTTL),
		BcryptCost: config.Auth.BcryptCost,
	})

	server := http.NewServer(http.Dependencies{
		Gate:        gate,
		Fulfiller:   pipeline,
		History:     store,
		Forgetter:   recorder,
		Index:       searcher,
		Collector:   collector,
		Database:    store,
		SearchProbe: searchProbe,
		ImageProbe:  imageProbe,
	}, &config.Server)

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	log.Info().Msgf("HTTP API: http://%s:%d", config.Server.Host, config.Server.Port)
	log.Info().Msg("Press Ctrl+C to stop")

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("AIGen stopped")
	return nil
}

func openBackend(ctx context.Context, cfg types.StorageConfig) (backend, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite: %w", err)
		}
		return store, nil
	default:
		path := cfg.Badger.Path
		if path == "" {
			path = "./data/badger"
		}
		db, err := badger.NewDB(path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize BadgerDB: %w", err)
		}
		return db, nil
	}
}

// newCapability returns nil when the endpoint is not usable; the fallback then serves alone
func newCapability(name string, ep types.MCPEndpointConfig, breakers *provider.CircuitBreakerManager) *provider.MCPCapability {
	client, err := mcpclient.New(mcpclient.FromEndpoint(ep))
	if err != nil {
		log.Warn().Err(err).Str("provider", name).Msg("MCP provider not configured, fallback only")
		return nil
	}
	log.Info().
		Str("provider", name).
		Str("endpoint", client.Endpoint()).
		Str("tool", ep.Tool).
		Msg("MCP provider configured")
	return provider.NewMCPCapability(client, breakers)
}
