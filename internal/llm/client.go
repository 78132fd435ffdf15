package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// ErrRateLimited marks the transient "resource exhausted" failure class of
// the completion provider. It is the only error the retry layer acts on;
// auth or malformed-request failures propagate immediately.
var ErrRateLimited = errors.New("completion provider rate limited")

// FatalError wraps the final failure after the retry ceiling is exhausted.
type FatalError struct {
	Attempts int
	Cause    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("completion failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// Completer is the opaque text-completion service contract.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// RetryingClient wraps a Completer with bounded retries on ErrRateLimited,
// using exponential backoff with jitter between attempts. It holds no mutable
// state and is safe for concurrent use.
type RetryingClient struct {
	inner       Completer
	maxAttempts int
	baseDelay   time.Duration
	log         *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryingClient constructs a retrying wrapper. maxAttempts below 1 is
// treated as 1; a non-positive baseDelay falls back to 500ms.
func NewRetryingClient(inner Completer, maxAttempts int, baseDelay time.Duration, log *slog.Logger) *RetryingClient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &RetryingClient{
		inner:       inner,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		log:         log,
		sleep:       sleepCtx,
	}
}

// Complete forwards to the wrapped Completer, retrying only the transient
// exhaustion class. The final transient failure is re-raised as *FatalError;
// every other error class propagates untouched on the first occurrence.
func (c *RetryingClient) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		text, err := c.inner.Complete(ctx, prompt)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return "", err
		}
		lastErr = err

		if attempt < c.maxAttempts-1 {
			delay := c.backoff(attempt)
			c.log.Warn("completion rate limited, retrying",
				"attempt", attempt+1,
				"max_attempts", c.maxAttempts,
				"delay_ms", delay.Milliseconds(),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
	}
	return "", &FatalError{Attempts: c.maxAttempts, Cause: lastErr}
}

// backoff computes base × 2^attempt plus up to 10% jitter.
func (c *RetryingClient) backoff(attempt int) time.Duration {
	d := c.baseDelay << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
