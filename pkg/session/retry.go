package session

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultRetryBaseDelay is the first backoff step used when a RetryPolicy
// enables retries without a delay.
const DefaultRetryBaseDelay = 25 * time.Millisecond

// RetryPolicy is the caller-side policy Service.Append applies to appends
// rejected with ErrLockContention. The store itself never retries. Other
// errors are returned immediately.
type RetryPolicy struct {
	// MaxAttempts is the total number of append attempts. Values below 2
	// disable retries.
	MaxAttempts int
	// BaseDelay is the first backoff step; later steps double.
	BaseDelay time.Duration
}

// FailFast is the default policy: one attempt, contention surfaces at once.
var FailFast = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 2 {
		return fn(ctx)
	}

	base := p.BaseDelay
	if base <= 0 {
		base = DefaultRetryBaseDelay
	}
	backoff := retry.WithMaxRetries(uint64(p.MaxAttempts-1), retry.NewExponential(base))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrLockContention) {
			return retry.RetryableError(err)
		}
		return err
	})
}
