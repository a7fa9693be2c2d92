package dns

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
)

// Backoff is the retry schedule providers use for API calls.
var Backoff = wait.Backoff{
	Steps:    4,
	Duration: 500 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

var retryablePatterns = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"temporary failure",
	"rate limit",
	"too many requests",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
}

// IsRetryable reports whether err looks like a transient API or network failure.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// unsentPatterns match failures where the API never processed the request.
var unsentPatterns = []string{
	"connection refused",
	"no such host",
	"rate limit",
	"too many requests",
}

// IsUnsent reports whether err shows the request was rejected before the API
// acted on it: a failed dial, an unresolvable host or a rate limit.
func IsUnsent(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range unsentPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Retry runs fn until it succeeds, fails permanently, Backoff is exhausted
// or ctx is done.
func Retry(ctx context.Context, fn func() error) error {
	return retryOn(ctx, IsRetryable, fn)
}

// RetryCreate is Retry for writes that add a record. A failure after the
// request reached the API may already have saved the record, so only
// IsUnsent failures are retried.
func RetryCreate(ctx context.Context, fn func() error) error {
	return retryOn(ctx, IsUnsent, fn)
}

func retryOn(ctx context.Context, retriable func(error) bool, fn func() error) error {
	return retry.OnError(Backoff, retriable, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn()
	})
}
