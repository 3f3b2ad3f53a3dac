// Package retry drives one inbound request across rotated upstream
// credentials until it succeeds, the attempt budget runs out, or no usable
// credential is left.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"imagegw/internal/credentials"
	"imagegw/internal/logging"
	"imagegw/internal/metrics"
	"imagegw/internal/upstream"
)

// ErrMaxRetries is returned when every attempt failed without a classified
// upstream error to report.
var ErrMaxRetries = errors.New("max retries exceeded")

// Caller sends one translated request with one credential.
type Caller interface {
	Call(ctx context.Context, body []byte, credential string) (*upstream.Response, error)
}

// Policy controls the attempt budget and backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// InvalidConsumesAttempt charges the immediate retry that follows an
	// invalid credential against MaxAttempts. When false that retry is free;
	// the loop stays bounded because each such retry shrinks the pool.
	InvalidConsumesAttempt bool
}

// Backoff returns the wait before the attempt that follows a failure of
// kind at zero-based attempt index.
func (p Policy) Backoff(kind upstream.Kind, attempt int) time.Duration {
	switch kind {
	case upstream.KindInvalidCredential:
		return 0
	case upstream.KindRateLimited:
		return p.BaseDelay << uint(attempt)
	}
	return p.BaseDelay
}

// Result describes a finished request.
type Result struct {
	Response   *upstream.Response
	Attempts   int
	Credential string
}

// Orchestrator owns the retry state machine.
type Orchestrator struct {
	Pool    *credentials.Pool
	Invalid *credentials.InvalidStore
	Caller  Caller
	Policy  Policy
	Logger  *zap.Logger

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Execute runs the attempt loop for body. On failure the returned error is
// credentials.ErrNoCredentials, the last *upstream.Error, a context error, or
// ErrMaxRetries. Result is always non-nil.
func (o *Orchestrator) Execute(ctx context.Context, body []byte) (*Result, error) {
	logger := logging.FromContext(ctx, o.Logger)
	res := &Result{}
	tried := make(map[string]struct{})

	maxAttempts := o.Policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		credential, err := o.Pool.NextUnused(tried)
		if err != nil {
			if lastErr != nil {
				logger.Warn("credential pool exhausted", zap.NamedError("last_error", lastErr))
			}
			return res, err
		}
		tried[credential] = struct{}{}
		res.Attempts++
		res.Credential = credential

		attemptLogger := logger.With(
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.String("credential", credentials.Mask(credential)),
		)

		resp, err := o.Caller.Call(ctx, body, credential)
		if err == nil {
			metrics.ObserveAttempt("success")
			res.Response = resp
			return res, nil
		}

		var upErr *upstream.Error
		if !errors.As(err, &upErr) {
			attemptLogger.Error("upstream call failed", zap.Error(err))
			return res, err
		}
		metrics.ObserveAttempt(upErr.Kind.String())
		lastErr = upErr

		if upErr.Kind == upstream.KindInvalidCredential {
			o.markInvalid(attemptLogger, credential, upErr)
			delete(tried, credential)
			if !o.Policy.InvalidConsumesAttempt {
				attempt--
			}
			continue
		}

		if attempt == maxAttempts-1 {
			attemptLogger.Warn("upstream attempt failed, no attempts left", zap.Error(upErr))
			break
		}

		delay := o.Policy.Backoff(upErr.Kind, attempt)
		attemptLogger.Warn("upstream attempt failed, retrying",
			zap.String("outcome", upErr.Kind.String()),
			zap.Int("status", upErr.Status),
			zap.Duration("backoff", delay),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return res, err
		}
	}

	if lastErr == nil {
		return res, ErrMaxRetries
	}
	return res, lastErr
}

func (o *Orchestrator) markInvalid(logger *zap.Logger, credential string, cause *upstream.Error) {
	if o.Invalid != nil {
		if _, err := o.Invalid.Add(credential); err != nil {
			logger.Error("failed to persist invalid credential", zap.Error(err))
		}
	}
	if o.Pool.Remove(credential) {
		metrics.ObserveInvalidCredential()
		logger.Warn("credential removed from rotation",
			zap.Int("status", cause.Status),
			zap.Int("remaining", o.Pool.Size()),
		)
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
