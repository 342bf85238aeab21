package query

import (
	"context"
	"time"

	"github.com/go-orderbook/orderbook-go/internal/backoff"
)

// MutateOptions configure a single Mutate call.
type MutateOptions[T any] struct {
	// Retry is the number of extra attempts after a failure. Zero runs fn
	// exactly once; only set it for operations that are safe to repeat.
	Retry      int
	RetryDelay time.Duration
	// RetryIf limits retries to matching errors. Nil retries every error.
	RetryIf   func(error) bool
	OnSuccess func(T)
	OnError   func(error)
}

// Mutate runs fn once plus up to Retry retries and reports the outcome to
// the callbacks. It never touches cached entries itself; callers invalidate
// from OnSuccess.
func Mutate[T any](ctx context.Context, c *Cache, fn func(ctx context.Context) (T, error), opts MutateOptions[T]) (T, error) {
	var (
		v   T
		err error
	)
	for attempt := 0; ; attempt++ {
		v, err = fn(ctx)
		if err == nil {
			break
		}
		if attempt >= opts.Retry || (opts.RetryIf != nil && !opts.RetryIf(err)) || ctx.Err() != nil {
			break
		}
		c.logger.Warnf("query: mutation attempt %d failed, retrying: %v", attempt+1, err)
		if serr := backoff.Sleep(ctx, opts.RetryDelay); serr != nil {
			break
		}
	}

	if err != nil {
		if opts.OnError != nil {
			opts.OnError(err)
		}
		var zero T
		return zero, err
	}
	if opts.OnSuccess != nil {
		opts.OnSuccess(v)
	}
	return v, nil
}
