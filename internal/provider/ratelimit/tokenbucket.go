package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"seriesfeed/internal/provider"
)

// TokenBucket is a token bucket limiter.
//   - rate: tokens per second
//   - capacity: maximum tokens the bucket can hold (burst)
type TokenBucket struct {
	l *rate.Limiter
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 0.0000001
	}
	if burst <= 0 {
		burst = 1
	}
	// starts full to allow an initial burst
	return &TokenBucket{l: rate.NewLimiter(rate.Limit(tokensPerSecond), burst)}
}

// PerMinute returns a bucket admitting n requests per minute.
func PerMinute(n, burst int) *TokenBucket {
	return NewTokenBucket(float64(n)/60, burst)
}

// Wait blocks until one token is available or ctx is done. A wait that
// cannot finish before ctx's deadline fails at once with
// context.DeadlineExceeded.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return wait(ctx, tb.l)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if err := l.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// the limiter refuses waits that would outlive the deadline
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return nil
}

// TokenBucketProvider wraps a Provider and gates fetches using a token bucket.
// Validate is not gated.
type TokenBucketProvider struct {
	P  provider.Provider
	TB *TokenBucket
}

func (t *TokenBucketProvider) Name() string { return t.P.Name() }

func (t *TokenBucketProvider) Validate(req provider.Request) error { return t.P.Validate(req) }

// Admit takes a token, then runs the wrapped provider's admission.
func (t *TokenBucketProvider) Admit(ctx context.Context, req provider.Request) (context.Context, error) {
	if t.TB != nil {
		if err := t.TB.Wait(ctx); err != nil {
			return ctx, err
		}
	}
	return provider.Admit(context.WithValue(ctx, admittedKey{t}, true), t.P, req)
}

func (t *TokenBucketProvider) Fetch(ctx context.Context, req provider.Request) (*provider.Payload, error) {
	if t.TB != nil && !admitted(ctx, t) {
		if err := t.TB.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return t.P.Fetch(ctx, req)
}
