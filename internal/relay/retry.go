package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dunamismax/vintagebooth/internal/domain"
	"github.com/dunamismax/vintagebooth/internal/provider"
)

// invoke calls the provider with bounded retries. Only failures
// provider.IsRetryable accepts are retried; rejections and empty results
// return immediately.
func (r *Relay) invoke(ctx context.Context, req provider.Request) (provider.Result, error) {
	backoff := r.initialBackoff
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return provider.Result{}, err
		}

		attempts = attempt
		result, err := r.attempt(ctx, req, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !provider.IsRetryable(err) || attempt == r.maxAttempts {
			break
		}
		r.logger.Printf("provider attempt failed request_id=%s provider=%s attempt=%d backoff=%s err=%v", req.RequestID, r.provider.Name(), attempt, backoff, err)

		select {
		case <-ctx.Done():
			return provider.Result{}, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = minDuration(backoff*2, r.maxBackoff)
	}

	switch {
	case errors.Is(lastErr, domain.ErrProviderRejected),
		errors.Is(lastErr, domain.ErrNoImageGenerated),
		errors.Is(lastErr, domain.ErrInvalidImage):
		return provider.Result{}, lastErr
	case attempts > 1:
		return provider.Result{}, fmt.Errorf("%w: %s failed after %d attempts: %w", domain.ErrProviderFailure, r.provider.Name(), attempts, lastErr)
	default:
		return provider.Result{}, fmt.Errorf("%w: %s: %w", domain.ErrProviderFailure, r.provider.Name(), lastErr)
	}
}

func (r *Relay) attempt(ctx context.Context, req provider.Request, attempt int) (provider.Result, error) {
	r.metrics.attemptsTotal.WithLabelValues(r.provider.Name()).Inc()

	ctx, span := r.tracer.Start(ctx, "provider.transform")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", r.provider.Name()),
		attribute.Int("attempt", attempt),
		attribute.Bool("staged", req.SourceURL != ""),
	)

	if r.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()
	}

	result, err := r.provider.Transform(ctx, req)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
