package http

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Denis-Chistyakov/aigen/internal/analytics"
	"github.com/Denis-Chistyakov/aigen/internal/fulfillment"
	"github.com/Denis-Chistyakov/aigen/internal/history"
	"github.com/Denis-Chistyakov/aigen/internal/version"
	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

const (
	defaultMaxResults = 5
	maxMaxResults     = 50

	minPromptLen = 3
	maxPromptLen = 500

	defaultIndexLimit = 20
	maxIndexLimit     = 100

	healthProbeTimeout = 5 * time.Second
)

// Default image parameters applied when a request omits them
const (
	DefaultImageWidth    = 1024
	DefaultImageHeight   = 1024
	DefaultImageSteps    = 20
	DefaultImageGuidance = 7.5
)

// Gate registers users and resolves bearer tokens
type Gate interface {
	Register(ctx context.Context, username, email, password string) (int64, error)
	Login(ctx context.Context, email, password string) (*types.LoginResponse, error)
	Authenticate(ctx context.Context, token string) (int64, error)
}

// Fulfiller serves search and image requests
type Fulfiller interface {
	FulfillSearch(ctx context.Context, userID int64, query string, maxResults int) (*fulfillment.SearchOutcome, error)
	FulfillImage(ctx context.Context, userID int64, prompt string, params types.ImageParams) (*fulfillment.ImageOutcome, error)
}

// Forgetter drops deleted records from the search index
type Forgetter interface {
	Forget(ctx context.Context, id int64)
}

// Searcher is the optional full-text history index
type Searcher interface {
	Name() string
	Search(ctx context.Context, userID int64, query string, limit int) ([]int64, error)
}

// Pinger checks a storage backend
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusReporter describes a remote provider as connected, disconnected or circuit_open
type StatusReporter interface {
	Status(ctx context.Context) string
}

// Handler handles HTTP requests
type Handler struct {
	gate      Gate
	fulfiller Fulfiller
	history   history.Store
	forgetter Forgetter
	index     Searcher
	collector *analytics.Collector
	database  Pinger
	search    StatusReporter
	image     StatusReporter
}

// NewHandler creates a new handler
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		gate:      deps.Gate,
		fulfiller: deps.Fulfiller,
		history:   deps.History,
		forgetter: deps.Forgetter,
		index:     deps.Index,
		collector: deps.Collector,
		database:  deps.Database,
		search:    deps.SearchProbe,
		image:     deps.ImageProbe,
	}
}

// Root handles GET /
func (h *Handler) Root(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "AI-Gen API is running",
		"version": version.Version,
		"status":  "healthy",
	})
}

// Register handles POST /auth/register
func (h *Handler) Register(c fiber.Ctx) error {
	var req types.RegisterRequest
	if err := c.Bind().JSON(&req); err != nil {
		return writeError(c, types.InvalidArgument("Invalid request body"))
	}

	userID, err := h.gate.Register(c.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(types.RegisterResponse{
		Message: "User created successfully",
		UserID:  userID,
	})
}

// Login handles POST /auth/login. The form field "username" carries the email.
func (h *Handler) Login(c fiber.Ctx) error {
	session, err := h.gate.Login(c.Context(), c.FormValue("username"), c.FormValue("password"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(session)
}

// Search handles GET /search
func (h *Handler) Search(c fiber.Ctx) error {
	maxResults := defaultMaxResults
	if raw := c.Query("max_results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxMaxResults {
			return writeError(c, types.InvalidArgument("max_results must be between 0 and 50"))
		}
		maxResults = n
	}

	outcome, err := h.fulfiller.FulfillSearch(c.Context(), userIDOf(c), c.Query("q"), maxResults)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(types.SearchResponse{
		ID:           outcome.RecordID,
		Query:        outcome.Query,
		Results:      outcome.Results,
		SearchMethod: outcome.Method,
		TotalResults: len(outcome.Results),
	})
}

// GenerateImage handles POST /image
func (h *Handler) GenerateImage(c fiber.Ctx) error {
	var req types.ImageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return writeError(c, types.InvalidArgument("Invalid request body"))
	}

	prompt := strings.TrimSpace(req.Prompt)
	if n := utf8.RuneCountInString(prompt); n > 0 && (n < minPromptLen || n > maxPromptLen) {
		return writeError(c, types.InvalidArgument("Prompt must be between 3 and 500 characters"))
	}

	outcome, err := h.fulfiller.FulfillImage(c.Context(), userIDOf(c), prompt, imageParams(req))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(types.ImageResponse{
		ID:               outcome.RecordID,
		Prompt:           outcome.Result.Prompt,
		ImageURL:         outcome.Result.ImageURL,
		GenerationMethod: outcome.Result.GenerationMethod,
		Metadata:         outcome.Result.Metadata,
	})
}

func imageParams(req types.ImageRequest) types.ImageParams {
	params := types.ImageParams{
		Width:    DefaultImageWidth,
		Height:   DefaultImageHeight,
		Steps:    DefaultImageSteps,
		Guidance: DefaultImageGuidance,
	}
	if req.Width != nil {
		params.Width = *req.Width
	}
	if req.Height != nil {
		params.Height = *req.Height
	}
	if req.Steps != nil {
		params.Steps = *req.Steps
	}
	if req.Guidance != nil {
		params.Guidance = *req.Guidance
	}
	return params
}

// ListHistory handles GET /dashboard
func (h *Handler) ListHistory(c fiber.Ctx) error {
	filter := types.ListFilter{
		ItemType: types.ItemType(c.Query("item_type")),
		Keyword:  strings.TrimSpace(c.Query("q")),
	}
	if filter.ItemType != "" && !filter.ItemType.Valid() {
		return writeError(c, types.InvalidArgument("item_type must be search or image"))
	}

	items, err := h.history.List(c.Context(), userIDOf(c), filter)
	if err != nil {
		return writeError(c, types.Internal("Failed to load history", err))
	}

	return c.JSON(types.HistoryListResponse{Items: items})
}

// SearchHistory handles GET /dashboard/search using the full-text index
func (h *Handler) SearchHistory(c fiber.Ctx) error {
	if h.index == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(types.ErrorResponse{
			Error:     "History search is not configured",
			Code:      string(types.KindServiceUnavailable),
			Timestamp: time.Now(),
		})
	}

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return writeError(c, types.InvalidArgument("Search query cannot be empty"))
	}

	limit := defaultIndexLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxIndexLimit {
			return writeError(c, types.InvalidArgument("limit must be between 1 and 100"))
		}
		limit = n
	}

	userID := userIDOf(c)
	ids, err := h.index.Search(c.Context(), userID, query, limit)
	if err != nil {
		return writeError(c, types.ServiceUnavailable("History search temporarily unavailable", err))
	}

	items := make([]*types.HistoryRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := h.history.Get(c.Context(), userID, id)
		if errors.Is(err, types.ErrNotFound) {
			// stale index entry
			continue
		}
		if err != nil {
			return writeError(c, types.Internal("Failed to load history", err))
		}
		items = append(items, rec)
	}

	return c.JSON(fiber.Map{
		"items":    items,
		"provider": h.index.Name(),
	})
}

// DeleteHistory handles DELETE /dashboard/:id
func (h *Handler) DeleteHistory(c fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return writeError(c, types.InvalidArgument("Invalid item id"))
	}

	if err := h.history.Delete(c.Context(), userIDOf(c), id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return writeError(c, types.NotFound("Item not found"))
		}
		return writeError(c, types.Internal("Failed to delete item", err))
	}

	if h.forgetter != nil {
		h.forgetter.Forget(c.Context(), id)
	}

	log.Info().
		Int64("user_id", userIDOf(c)).
		Int64("id", id).
		Msg("History item deleted")

	return c.JSON(fiber.Map{"ok": true})
}

// HealthCheck handles GET /health. The store and both providers are probed concurrently.
func (h *Handler) HealthCheck(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), healthProbeTimeout)
	defer cancel()

	database, search, image := "disconnected", "disconnected", "disconnected"

	var g errgroup.Group
	g.Go(func() error {
		if h.database == nil {
			return nil
		}
		if err := h.database.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Database health probe failed")
			return nil
		}
		database = "connected"
		return nil
	})
	g.Go(func() error {
		if h.search != nil {
			search = h.search.Status(ctx)
		}
		return nil
	})
	g.Go(func() error {
		if h.image != nil {
			image = h.image.Status(ctx)
		}
		return nil
	})
	_ = g.Wait()

	status := "healthy"
	if database != "connected" {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status": status,
		"services": fiber.Map{
			"database":   database,
			"mcp_search": search,
			"mcp_image":  image,
		},
		"timestamp": time.Now().Unix(),
	})
}

// Stats handles GET /stats
func (h *Handler) Stats(c fiber.Ctx) error {
	if h.collector == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(types.ErrorResponse{
			Error:     "Analytics not enabled",
			Code:      string(types.KindServiceUnavailable),
			Timestamp: time.Now(),
		})
	}
	return c.JSON(h.collector.GetStats())
}

// writeError renders err as the JSON error body with the status of its kind
func writeError(c fiber.Ctx, err error) error {
	var se *types.ServiceError
	if !errors.As(err, &se) {
		se = types.Internal("Internal server error", err)
	}

	status := se.Kind.StatusCode()
	if status >= fiber.StatusInternalServerError {
		log.Error().
			Err(se.Err).
			Str("request_id", requestIDOf(c)).
			Str("code", string(se.Kind)).
			Msg(se.Message)
	}

	return c.Status(status).JSON(types.ErrorResponse{
		Error:     se.Message,
		Code:      string(se.Kind),
		Timestamp: time.Now(),
	})
}
