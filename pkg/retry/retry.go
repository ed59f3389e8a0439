package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("catalog-sync/retry")

// Retryable is implemented by errors that know whether repeating the operation can succeed.
type Retryable interface {
	Retryable() bool
}

// RetryAfter is implemented by errors that carry a server supplied wait hint.
type RetryAfter interface {
	RetryAfter() time.Duration
}

type Retryer struct {
	attempts     uint
	maxAttempts  uint
	initialDelay time.Duration
	maxDelay     time.Duration
	isRetryable  func(error) bool
}

type RetryConfig struct {
	MaxAttempts  uint             // 0 means no limit (which is also the default).
	InitialDelay time.Duration    // Default is 1 second.
	MaxDelay     time.Duration    // Default is 60 seconds.
	IsRetryable  func(error) bool // Default is IsRetryable.
}

func NewRetryer(ctx context.Context, config RetryConfig) *Retryer {
	r := &Retryer{
		attempts:     0,
		maxAttempts:  config.MaxAttempts,
		initialDelay: config.InitialDelay,
		maxDelay:     config.MaxDelay,
		isRetryable:  config.IsRetryable,
	}
	if r.initialDelay == 0 {
		r.initialDelay = time.Second
	}
	if r.maxDelay == 0 {
		r.maxDelay = 60 * time.Second
	}
	if r.isRetryable == nil {
		r.isRetryable = IsRetryable
	}
	return r
}

// IsRetryable reports whether err is a transient failure: a network timeout, an
// unexpected connection drop, or an error that declares itself retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Attempts returns how many consecutive failures have been seen since the last success.
func (r *Retryer) Attempts() uint {
	return r.attempts
}

// ShouldWaitAndRetry returns true after waiting when the caller should repeat the
// operation that produced err. A nil err resets the attempt counter.
func (r *Retryer) ShouldWaitAndRetry(ctx context.Context, err error) bool {
	ctx, span := tracer.Start(ctx, "retry.ShouldWaitAndRetry")
	defer span.End()

	if err == nil {
		r.attempts = 0
		return true
	}
	if !r.isRetryable(err) {
		return false
	}

	r.attempts++
	l := ctxzap.Extract(ctx)

	if r.maxAttempts > 0 && r.attempts >= r.maxAttempts {
		l.Warn("max attempts reached", zap.Error(err), zap.Uint("max_attempts", r.maxAttempts))
		return false
	}

	// use linear backoff by default
	wait := time.Duration(int64(r.attempts)) * r.initialDelay

	var ra RetryAfter
	if errors.As(err, &ra) {
		if hint := ra.RetryAfter(); hint > 0 {
			wait = hint
		}
	}

	if wait > r.maxDelay {
		wait = r.maxDelay
	}

	l.Warn("retrying operation", zap.Error(err), zap.Duration("wait", wait))

	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}
