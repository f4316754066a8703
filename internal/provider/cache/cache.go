// Package cache shares upstream responses between series that issue the same
// request within one run.
package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"seriesfeed/internal/provider"
)

// entry stores a cached payload with expiry.
type entry struct {
	expiresAt time.Time
	payload   *provider.Payload
}

// Provider caches payloads per request for a TTL. Concurrent identical
// requests share one upstream call. Failures are never cached.
type Provider struct {
	P        provider.Provider
	TTL      time.Duration
	MaxItems int

	group singleflight.Group
	mu    sync.RWMutex
	items map[provider.Request]entry
}

func (c *Provider) Name() string { return c.P.Name() }

func (c *Provider) Validate(req provider.Request) error { return c.P.Validate(req) }

// Admit lets a fresh hit through at once. A miss queues with the wrapped
// provider.
func (c *Provider) Admit(ctx context.Context, req provider.Request) (context.Context, error) {
	if _, ok := c.fresh(req); ok {
		return ctx, nil
	}
	return provider.Admit(ctx, c.P, req)
}

// Fetch returns the cached payload for req while it is fresh, and fetches it
// otherwise.
func (c *Provider) Fetch(ctx context.Context, req provider.Request) (*provider.Payload, error) {
	if c.TTL <= 0 {
		return c.P.Fetch(ctx, req)
	}
	if p, ok := c.fresh(req); ok {
		return clone(p), nil
	}

	v, err, _ := c.group.Do(fmt.Sprintf("%#v", req), func() (any, error) {
		p, err := c.P.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		c.store(req, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(v.(*provider.Payload)), nil
}

func (c *Provider) fresh(req provider.Request) (*provider.Payload, bool) {
	if c.TTL <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[req]
	if !ok || !time.Now().Before(e.expiresAt) {
		return nil, false
	}
	return e.payload, true
}

func (c *Provider) store(req provider.Request, p *provider.Payload) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[provider.Request]entry)
	}
	c.items[req] = entry{expiresAt: now.Add(c.TTL), payload: p}

	if c.MaxItems <= 0 || len(c.items) <= c.MaxItems {
		return
	}
	// expired first, then arbitrary
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	for k := range c.items {
		if len(c.items) <= c.MaxItems {
			break
		}
		if k != req {
			delete(c.items, k)
		}
	}
}

// clone hands each caller its own observation slice.
func clone(p *provider.Payload) *provider.Payload {
	if p == nil {
		return nil
	}
	out := *p
	out.DateLayouts = slices.Clone(p.DateLayouts)
	out.Observations = slices.Clone(p.Observations)
	return &out
}
