package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"seriesfeed/internal/provider"
)

// admittedKey marks a context that already passed one limiter.
type admittedKey struct{ limiter any }

func admitted(ctx context.Context, limiter any) bool {
	return ctx.Value(admittedKey{limiter}) != nil
}

// MinInterval wraps a provider and enforces a minimum time between fetches.
// Concurrent fetches queue behind each other, or return early if the context
// is canceled.
type MinInterval struct {
	P        provider.Provider
	Interval time.Duration

	once sync.Once
	l    *rate.Limiter
}

func (m *MinInterval) Name() string { return m.P.Name() }

func (m *MinInterval) Validate(req provider.Request) error { return m.P.Validate(req) }

// Admit waits for a slot, then runs the wrapped provider's admission.
func (m *MinInterval) Admit(ctx context.Context, req provider.Request) (context.Context, error) {
	if err := m.wait(ctx); err != nil {
		return ctx, err
	}
	return provider.Admit(context.WithValue(ctx, admittedKey{m}, true), m.P, req)
}

func (m *MinInterval) Fetch(ctx context.Context, req provider.Request) (*provider.Payload, error) {
	if !admitted(ctx, m) {
		if err := m.wait(ctx); err != nil {
			return nil, err
		}
	}
	return m.P.Fetch(ctx, req)
}

func (m *MinInterval) wait(ctx context.Context) error {
	if m.Interval <= 0 {
		return nil
	}
	m.once.Do(func() { m.l = rate.NewLimiter(rate.Every(m.Interval), 1) })
	return wait(ctx, m.l)
}
