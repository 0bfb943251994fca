package fulfillment

// Package fulfillment turns search and image requests into normalized results
// by walking an ordered list of providers.

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// ErrNoStrategies is returned by a chain with nothing to try
var ErrNoStrategies = errors.New("no strategies configured")

var errNotConfigured = errors.New("provider not configured")

// Strategy is one provider tier
type Strategy[T any] struct {
	Method types.Method
	Run    func(ctx context.Context) (T, error)
}

// Chain tries strategies in order until one succeeds
type Chain[T any] []Strategy[T]

// StrategyError records why one tier failed
type StrategyError struct {
	Method types.Method
	Err    error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// Run executes the chain sequentially. The first success wins; otherwise the
// failures of every attempted tier are joined.
func (c Chain[T]) Run(ctx context.Context) (T, types.Method, error) {
	var zero T
	if len(c) == 0 {
		return zero, "", ErrNoStrategies
	}

	var errs []error
	for _, s := range c {
		if err := ctx.Err(); err != nil {
			errs = append(errs, &StrategyError{Method: s.Method, Err: err})
			break
		}

		value, err := s.Run(ctx)
		if err == nil {
			return value, s.Method, nil
		}

		log.Debug().Err(err).Str("method", string(s.Method)).Msg("Strategy failed")
		errs = append(errs, &StrategyError{Method: s.Method, Err: err})
	}

	return zero, "", errors.Join(errs...)
}
