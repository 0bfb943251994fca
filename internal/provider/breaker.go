package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while an endpoint's breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerSettings tunes the breakers created by a manager
type BreakerSettings struct {
	MaxRequests  uint32        // Probes allowed in half-open state
	Interval     time.Duration // Window for failure counting
	Timeout      time.Duration // Duration of open state before half-open
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerSettings returns the production breaker tuning
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  3,
		Interval:     10 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// CircuitBreakerManager manages circuit breakers for MCP endpoints
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	settings BreakerSettings
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerManager creates a new circuit breaker manager
func NewCircuitBreakerManager(settings BreakerSettings) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// GetBreaker returns or creates a circuit breaker for an endpoint
func (m *CircuitBreakerManager) GetBreaker(endpoint string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	if breaker, exists := m.breakers[endpoint]; exists {
		m.mu.RUnlock()
		return breaker
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists := m.breakers[endpoint]; exists {
		return breaker
	}

	cfg := m.settings
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio
		},
		// A caller hanging up is not the endpoint's fault
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("endpoint", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	m.breakers[endpoint] = breaker

	log.Info().Str("endpoint", endpoint).Msg("Circuit breaker created")

	return breaker
}

// Execute wraps a tool call with circuit breaker protection
func (m *CircuitBreakerManager) Execute(endpoint string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	breaker := m.GetBreaker(endpoint)

	result, err := breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			log.Warn().Str("endpoint", endpoint).Msg("Circuit breaker open, request blocked")
			return nil, fmt.Errorf("%w for %s: too many failures", ErrCircuitOpen, endpoint)
		}
		if errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn().Str("endpoint", endpoint).Msg("Circuit breaker half-open, too many requests")
			return nil, fmt.Errorf("%w for %s: half-open probe limit reached", ErrCircuitOpen, endpoint)
		}
		return nil, err
	}

	data, _ := result.(map[string]interface{})
	return data, nil
}

// GetState returns the current state of an endpoint's breaker
func (m *CircuitBreakerManager) GetState(endpoint string) gobreaker.State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if breaker, exists := m.breakers[endpoint]; exists {
		return breaker.State()
	}
	return gobreaker.StateClosed
}

// GetMetrics returns counts for all breakers
func (m *CircuitBreakerManager) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := make(map[string]interface{}, len(m.breakers))
	for endpoint, breaker := range m.breakers {
		counts := breaker.Counts()
		metrics[endpoint] = map[string]interface{}{
			"state":                breaker.State().String(),
			"requests":             counts.Requests,
			"total_successes":      counts.TotalSuccesses,
			"total_failures":       counts.TotalFailures,
			"consecutive_failures": counts.ConsecutiveFailures,
		}
	}

	return metrics
}
