package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
	"github.com/zhouzirui/hangout/backend/internal/observability"
)

func testConfig() Config {
	cfg := DefaultConfig("llm")
	cfg.Timeout = 50 * time.Millisecond
	cfg.InitialBackoff = time.Millisecond
	return cfg
}

func TestRunReturnsValue(t *testing.T) {
	g := NewGuard(testConfig(), observability.NewMetrics(), zap.NewNop())

	got, err := Run(context.Background(), g, "extract", hangout.ErrExtraction, func(ctx context.Context) (string, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestRunRetriesTransientFailure(t *testing.T) {
	g := NewGuard(testConfig(), nil, zap.NewNop())
	calls := 0

	got, err := Run(context.Background(), g, "extract", hangout.ErrExtraction, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 2, calls)
}

func TestRunDoesNotRetryPermanentFailure(t *testing.T) {
	g := NewGuard(testConfig(), nil, zap.NewNop())
	calls := 0
	malformed := errors.New("no json object")

	_, err := Run(context.Background(), g, "plan", hangout.ErrPlanGeneration, func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(malformed)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, hangout.ErrPlanGeneration)
	assert.ErrorIs(t, err, malformed)
}

func TestRunTimeoutMatchesKindAndTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Attempts = 1
	metrics := observability.NewMetrics()
	g := NewGuard(cfg, metrics, zap.NewNop())

	_, err := Run(context.Background(), g, "extract", hangout.ErrExtraction, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, hangout.ErrTimeout)
	assert.ErrorIs(t, err, hangout.ErrExtraction)
	assert.Equal(t, "timeout", hangout.ErrorKind(err))
}

func TestRunCallerCancellationIsNotAFailure(t *testing.T) {
	metrics := observability.NewMetrics()
	g := NewGuard(testConfig(), metrics, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Run(ctx, g, "extract", hangout.ErrExtraction, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("http: request canceled")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, hangout.ErrExtraction)
	assert.Equal(t, "canceled", hangout.ErrorKind(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ExternalCalls.WithLabelValues("llm", "extract", "canceled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ExternalCalls.WithLabelValues("llm", "extract", "error")))

	_, err = Run(ctx, nil, "plan", hangout.ErrPlanGeneration, func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, hangout.ErrPlanGeneration)
}

func TestRunBreakerOpens(t *testing.T) {
	cfg := testConfig()
	cfg.Attempts = 1
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	g := NewGuard(cfg, nil, zap.NewNop())

	failing := func(ctx context.Context) (int, error) { return 0, errors.New("boom") }
	for i := 0; i < 2; i++ {
		_, _ = Run(context.Background(), g, "geocode", hangout.ErrGeocoding, failing)
	}
	assert.Equal(t, "open", g.State())

	calls := 0
	_, err := Run(context.Background(), g, "geocode", hangout.ErrGeocoding, func(ctx context.Context) (int, error) {
		calls++
		return 1, nil
	})
	assert.ErrorIs(t, err, hangout.ErrGeocoding)
	assert.Zero(t, calls)
}

func TestRunWithoutGuard(t *testing.T) {
	_, err := Run(context.Background(), nil, "plan", hangout.ErrPlanGeneration, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	assert.ErrorIs(t, err, hangout.ErrPlanGeneration)
	assert.Equal(t, "disabled", (*Guard)(nil).State())
}
