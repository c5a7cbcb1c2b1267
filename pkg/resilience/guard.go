// Package resilience retries remote fetches with exponential backoff behind a
// per-source circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/taskerr"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // default 200ms
	MaxInterval         time.Duration // default 5s
	MaxElapsedTime      time.Duration // default 15s
	Multiplier          float64       // default 2.0
	RandomizationFactor float64       // default 0.5
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      15 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerConfig controls when the breaker opens.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker. Default 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing. Default 30s.
	OpenTimeout time.Duration
}

// FetchFunc loads the full task collection.
type FetchFunc func(ctx context.Context) ([]model.Task, error)

// Guard wraps one source's fetches.
type Guard struct {
	source string
	retry  RetryConfig
	cb     *gobreaker.CircuitBreaker
	log    *logrus.Entry
}

// NewGuard returns a Guard for source.
func NewGuard(source string, retry RetryConfig, breaker BreakerConfig) *Guard {
	if breaker.ConsecutiveFailures == 0 {
		breaker.ConsecutiveFailures = 5
	}
	if breaker.OpenTimeout == 0 {
		breaker.OpenTimeout = 30 * time.Second
	}
	log := logging.Logger.WithFields(logrus.Fields{"component": "resilience", "source": source})
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        source,
		MaxRequests: 1,
		Timeout:     breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breaker.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("circuit breaker %s -> %s", from, to)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is the caller's doing, not the source's.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &Guard{source: source, retry: retry, cb: cb, log: log}
}

// State reports the breaker state.
func (g *Guard) State() gobreaker.State { return g.cb.State() }

// Wrap returns fetch guarded by retries and the breaker. Errors come back as
// *taskerr.FetchError.
func (g *Guard) Wrap(fetch FetchFunc) FetchFunc {
	return func(ctx context.Context) ([]model.Task, error) {
		return g.fetch(ctx, fetch)
	}
}

func (g *Guard) fetch(ctx context.Context, fetch FetchFunc) ([]model.Task, error) {
	var tasks []model.Task
	attempt := 0

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++

		result, err := g.cb.Execute(func() (interface{}, error) {
			return fetch(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			g.log.WithError(err).WithField("attempt", attempt).Debug("fetch failed, retrying")
			return err
		}
		tasks, _ = result.([]model.Task)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.retry.InitialInterval
	policy.MaxInterval = g.retry.MaxInterval
	policy.MaxElapsedTime = g.retry.MaxElapsedTime
	policy.Multiplier = g.retry.Multiplier
	policy.RandomizationFactor = g.retry.RandomizationFactor

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, g.fetchError(err)
	}
	return tasks, nil
}

// retryable rejects failures another attempt cannot fix.
func retryable(err error) bool {
	return !taskerr.IsAuth(err) && !taskerr.IsValidation(err) && !errors.Is(err, taskerr.ErrUnsupported)
}

func (g *Guard) fetchError(err error) error {
	var fe *taskerr.FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &taskerr.FetchError{Source: g.source, Msg: fmt.Sprintf("%s is unavailable, retrying later", g.source), Err: err}
	}
	return &taskerr.FetchError{Source: g.source, Msg: err.Error(), Err: err}
}
