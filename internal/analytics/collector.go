package analytics

// Package analytics counts fulfillments by kind and serving tier.
// Counters are exported to Prometheus and mirrored in memory for /stats.

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// Collector handles analytics collection and metrics
type Collector struct {
	// Prometheus metrics
	fulfillments    *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	historyFailures prometheus.Counter
	activeRequests  prometheus.Gauge

	// In-memory stats
	stats   *Stats
	mu      sync.RWMutex
	enabled bool
}

// Stats holds aggregated statistics
type Stats struct {
	TotalRequests   int64            `json:"total_requests"`
	TotalFailures   int64            `json:"total_failures"`
	HistoryFailures int64            `json:"history_failures"`
	AvgLatencyMs    float64          `json:"avg_latency_ms"`
	ByKind          map[string]int64 `json:"by_kind"`
	ByMethod        map[string]int64 `json:"by_method"`
	FallbackRate    float64          `json:"fallback_rate"`
	TopMethods      []MethodStats    `json:"top_methods"`
	StartedAt       time.Time        `json:"started_at"`
}

// MethodStats counts successful fulfillments of one kind served by one tier
type MethodStats struct {
	Kind   string `json:"kind"`
	Method string `json:"method"`
	Count  int64  `json:"count"`
}

// NewCollector creates a new analytics collector
func NewCollector(enabled bool) *Collector {
	collector := &Collector{
		enabled: enabled,
		stats:   newStats(),
	}

	if !enabled {
		log.Info().Msg("Analytics collector disabled")
		return collector
	}

	collector.fulfillments = register(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigen_fulfillments_total",
			Help: "Total number of fulfilled search and image requests",
		},
		[]string{"kind", "method", "status"},
	))

	collector.latency = register(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aigen_fulfillment_latency_seconds",
			Help:    "Fulfillment latency in seconds, primary and fallback included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "method"},
	))

	collector.historyFailures = register(prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aigen_history_write_failures_total",
			Help: "History records that could not be persisted",
		},
	))

	collector.activeRequests = register(prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aigen_active_requests",
			Help: "Number of requests currently being fulfilled",
		},
	))

	log.Info().Bool("enabled", enabled).Msg("Analytics collector initialized")
	return collector
}

// register adds c to the default registry, reusing an identical collector
// registered by an earlier instance.
func register[C prometheus.Collector](c C) C {
	if err := prometheus.DefaultRegisterer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		log.Warn().Err(err).Msg("Failed to register metric")
	}
	return c
}

func newStats() *Stats {
	return &Stats{
		ByKind:     make(map[string]int64),
		ByMethod:   make(map[string]int64),
		TopMethods: []MethodStats{},
		StartedAt:  time.Now(),
	}
}

// RecordFulfillment records the outcome of one search or image request.
// method is empty when no tier succeeded.
func (c *Collector) RecordFulfillment(kind types.ItemType, method types.Method, success bool, d time.Duration) {
	if !c.enabled {
		return
	}

	methodLabel := string(method)
	if methodLabel == "" {
		methodLabel = "none"
	}
	status := "success"
	if !success {
		status = "error"
	}

	c.mu.Lock()
	c.stats.TotalRequests++
	if !success {
		c.stats.TotalFailures++
	}
	c.stats.ByKind[string(kind)]++
	if success {
		c.stats.ByMethod[string(kind)+"/"+methodLabel]++
	}
	latencyMs := float64(d.Milliseconds())
	c.stats.AvgLatencyMs = (c.stats.AvgLatencyMs*float64(c.stats.TotalRequests-1) + latencyMs) / float64(c.stats.TotalRequests)
	c.mu.Unlock()

	c.fulfillments.WithLabelValues(string(kind), methodLabel, status).Inc()
	c.latency.WithLabelValues(string(kind), methodLabel).Observe(d.Seconds())

	log.Debug().
		Str("kind", string(kind)).
		Str("method", methodLabel).
		Bool("success", success).
		Dur("latency", d).
		Msg("Fulfillment recorded")
}

// RecordHistoryFailure counts a history write that was dropped
func (c *Collector) RecordHistoryFailure() {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	c.stats.HistoryFailures++
	c.mu.Unlock()
	c.historyFailures.Inc()
}

// StartRequest increments the active requests gauge
func (c *Collector) StartRequest() {
	if !c.enabled {
		return
	}
	c.activeRequests.Inc()
}

// EndRequest decrements the active requests gauge
func (c *Collector) EndRequest() {
	if !c.enabled {
		return
	}
	c.activeRequests.Dec()
}

// GetStats returns a snapshot of the in-memory statistics
func (c *Collector) GetStats() *Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := &Stats{
		TotalRequests:   c.stats.TotalRequests,
		TotalFailures:   c.stats.TotalFailures,
		HistoryFailures: c.stats.HistoryFailures,
		AvgLatencyMs:    c.stats.AvgLatencyMs,
		ByKind:          make(map[string]int64, len(c.stats.ByKind)),
		ByMethod:        make(map[string]int64, len(c.stats.ByMethod)),
		StartedAt:       c.stats.StartedAt,
	}
	for k, v := range c.stats.ByKind {
		snapshot.ByKind[k] = v
	}

	var served, fallback int64
	for k, v := range c.stats.ByMethod {
		snapshot.ByMethod[k] = v
		served += v
		if strings.HasSuffix(k, "/"+string(types.MethodFallback)) {
			fallback += v
		}
	}
	if served > 0 {
		snapshot.FallbackRate = float64(fallback) / float64(served)
	}
	snapshot.TopMethods = c.topMethods()

	return snapshot
}

// topMethods returns the kind/method pairs ordered by count
func (c *Collector) topMethods() []MethodStats {
	out := make([]MethodStats, 0, len(c.stats.ByMethod))
	for key, count := range c.stats.ByMethod {
		kind, method, _ := strings.Cut(key, "/")
		out = append(out, MethodStats{Kind: kind, Method: method, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Reset resets all statistics
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats = newStats()
	log.Info().Msg("Analytics statistics reset")
}
