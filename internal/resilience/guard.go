package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
	"github.com/zhouzirui/hangout/backend/internal/observability"
)

// Config describes how calls to one external dependency are protected.
type Config struct {
	Dependency     string
	Timeout        time.Duration
	Attempts       int
	InitialBackoff time.Duration

	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

// DefaultConfig returns the settings used for a dependency when nothing is
// overridden.
func DefaultConfig(dependency string) Config {
	return Config{
		Dependency:          dependency,
		Timeout:             30 * time.Second,
		Attempts:            2,
		InitialBackoff:      500 * time.Millisecond,
		BreakerMinRequests:  5,
		BreakerFailureRatio: 0.8,
		BreakerOpenTimeout:  60 * time.Second,
	}
}

// Guard applies a per-attempt timeout, bounded retry and a circuit breaker
// to calls against one dependency.
type Guard struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewGuard builds a guard. metrics may be nil.
func NewGuard(cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Guard {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Guard{cfg: cfg, metrics: metrics, logger: logger}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Dependency,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.BreakerMinRequests == 0 || counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("dependency", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return g
}

// Permanent marks err as not worth retrying, e.g. a malformed response.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Run executes op under the guard. Any failure is reported as kind; a call
// that ran out of time additionally matches hangout.ErrTimeout. When ctx is
// canceled the error matches context.Canceled and not kind.
func Run[T any](ctx context.Context, g *Guard, operation string, kind error, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if g == nil {
		res, err := op(ctx)
		if err != nil {
			return zero, classify(ctx, kind, err)
		}
		return res, nil
	}

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		start := time.Now()
		out, err := g.breaker.Execute(func() (interface{}, error) {
			return op(attemptCtx)
		})
		elapsed := time.Since(start)

		if err == nil {
			g.metrics.ObserveExternal(g.cfg.Dependency, operation, "success", elapsed)
			res, _ := out.(T)
			return res, nil
		}

		outcome := "error"
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			outcome = "rejected"
			err = backoff.Permanent(err)
		case ctx.Err() != nil:
			if errors.Is(ctx.Err(), context.Canceled) {
				outcome = "canceled"
			}
			err = backoff.Permanent(err)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			outcome = "timeout"
			err = fmt.Errorf("%w after %s: %w", hangout.ErrTimeout, g.cfg.Timeout, err)
		}
		g.metrics.ObserveExternal(g.cfg.Dependency, operation, outcome, elapsed)
		g.logger.Warn("external call failed",
			zap.String("dependency", g.cfg.Dependency),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return zero, err
	},
		backoff.WithBackOff(g.backoff()),
		backoff.WithMaxTries(uint(g.cfg.Attempts)),
	)
	if err != nil {
		return zero, classify(ctx, kind, err)
	}
	return res, nil
}

// State reports the breaker state, for health output.
func (g *Guard) State() string {
	if g == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}

func (g *Guard) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialBackoff
	b.MaxInterval = 4 * g.cfg.InitialBackoff
	return b
}

func classify(ctx context.Context, kind, err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	// A caller that went away is not a dependency failure.
	if errors.Is(ctx.Err(), context.Canceled) {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %w", context.Canceled, err)
	}
	if !errors.Is(err, hangout.ErrTimeout) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", hangout.ErrTimeout, err)
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
