// Package resilience retries calls to collaborators that fail transiently
// and trips a circuit breaker when they keep failing. The queue publish path
// and the landmark analyzer run through it; each call site supplies a
// classifier saying which of its errors are worth another attempt.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrorClassification is a call site's verdict on one error: whether a
// further attempt could succeed, and whether the breaker should count it.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Executor runs operations under the retry policy, keeping one circuit
// breaker per operation name when the breaker is enabled.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn under retry and, when enabled, the operation's breaker.
// An open breaker fails fast with gobreaker.ErrOpenState before fn runs.
// A nil classifier treats every error as permanent and countable.
func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classify ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: nil operation %q", operation)
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unnamed"
	}
	if classify == nil {
		classify = func(error) ErrorClassification {
			return ErrorClassification{RecordFailure: true}
		}
	}

	if !e.cfg.BreakerEnabled {
		return e.retry(ctx, op, fn, classify)
	}
	_, err := e.breakerFor(op, classify).Execute(func() (any, error) {
		return nil, e.retry(ctx, op, fn, classify)
	})
	return err
}

func (e *Executor) retry(
	ctx context.Context,
	op string,
	fn func(context.Context) error,
	classify ErrorClassifier,
) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= e.cfg.RetryMaxAttempts || !classify(err).Retryable {
			return err
		}

		wait := e.delayBefore(attempt + 1)
		slog.Warn("retrying operation",
			"operation", op,
			"attempt", attempt,
			"max_attempts", e.cfg.RetryMaxAttempts,
			"wait", wait,
			"error", err,
		)
		if !sleepCtx(ctx, wait) {
			return err
		}
	}
}

// delayBefore is the exponential backoff preceding the given attempt,
// capped at the configured maximum.
func (e *Executor) delayBefore(attempt int) time.Duration {
	d := float64(e.cfg.RetryInitialBackoff)
	for i := 2; i < attempt; i++ {
		d *= e.cfg.RetryMultiplier
	}
	if ceil := float64(e.cfg.RetryMaxBackoff); d > ceil {
		d = ceil
	}
	return time.Duration(d)
}

// sleepCtx waits for d unless the context ends first; reports whether the
// full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) breakerFor(op string, classify ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if br, ok := e.breakers[op]; ok {
		return br
	}
	br := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        op,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= e.cfg.BreakerMinRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("breaker state changed",
				"operation", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[op] = br
	return br
}

// IsCircuitOpen reports whether err came from a breaker refusing the call
// rather than from the operation itself.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
