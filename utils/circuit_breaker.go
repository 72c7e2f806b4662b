package utils

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig tunes a breaker. Zero fields fall back to the defaults below.
type CircuitBreakerConfig struct {
	// MinRequests is the number of requests in an interval before the ratio is evaluated.
	MinRequests  uint32
	FailureRatio float64
	Interval     time.Duration
	Timeout      time.Duration
	// HalfOpenRequests successes in a row close the breaker again.
	HalfOpenRequests uint32
	OnStateChange    func(name string, from, to gobreaker.State)
}

var defaultBreakerConfig = CircuitBreakerConfig{
	MinRequests:      100,
	FailureRatio:     0.6,
	Interval:         60 * time.Second,
	Timeout:          60 * time.Second,
	HalfOpenRequests: 1,
}

// CircuitBreaker guards calls to a single upstream provider.
type CircuitBreaker struct {
	cb  *gobreaker.CircuitBreaker
	cfg CircuitBreakerConfig
}

// NewCircuitBreaker creates a breaker with the default thresholds.
func NewCircuitBreaker(name string) *CircuitBreaker {
	return NewCircuitBreakerWithConfig(name, CircuitBreakerConfig{})
}

func NewCircuitBreakerWithConfig(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MinRequests == 0 {
		cfg.MinRequests = defaultBreakerConfig.MinRequests
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = defaultBreakerConfig.FailureRatio
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultBreakerConfig.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBreakerConfig.Timeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = defaultBreakerConfig.HalfOpenRequests
	}

	b := &CircuitBreaker{cfg: cfg}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:          name,
		MaxRequests:   cfg.HalfOpenRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   b.readyToTrip,
		OnStateChange: cfg.OnStateChange,
		IsSuccessful: func(err error) bool {
			// the caller giving up is not the upstream's fault
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return b
}

func (b *CircuitBreaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < b.cfg.MinRequests {
		return false
	}
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return failureRatio >= b.cfg.FailureRatio
}

// Execute runs req if the breaker allows it. An open breaker returns gobreaker.ErrOpenState.
func (b *CircuitBreaker) Execute(ctx context.Context, req func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.cb.Execute(req)
}

func (b *CircuitBreaker) Name() string {
	return b.cb.Name()
}

func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
