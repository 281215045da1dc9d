package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls the Retrying wrapper.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the defaults used by the server.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ErrPermanent marks a provider error that must not be retried, such as a
// malformed response.
var ErrPermanent = errors.New("permanent reasoning error")

// Retrying wraps an LLM with exponential-backoff retries on failed requests.
// Context cancellation stops retrying immediately.
type Retrying struct {
	inner  LLM
	config RetryConfig
	logger *zap.Logger
}

var _ LLM = (*Retrying)(nil)

// NewRetrying wraps inner. A nil logger is replaced by a no-op logger.
func NewRetrying(inner LLM, config RetryConfig, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &Retrying{
		inner:  inner,
		config: config,
		logger: logger.With(zap.String("component", "llm_retry"), zap.String("provider", inner.Name())),
	}
}

func (r *Retrying) Name() string { return r.inner.Name() }

// Generate calls the wrapped model, retrying transient failures.
func (r *Retrying) Generate(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)
			r.logger.Debug("retrying reasoning request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return Response{}, ctx.Err()
			case <-t.C:
			}
		}

		resp, err := r.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrPermanent) {
			return Response{}, err
		}
		r.logger.Warn("reasoning request failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	if r.config.MaxRetries == 0 {
		return Response{}, lastErr
	}
	return Response{}, fmt.Errorf("reasoning request failed after %d retries: %w", r.config.MaxRetries, lastErr)
}

func (r *Retrying) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if r.config.MaxDelay > 0 && d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	return time.Duration(d)
}
