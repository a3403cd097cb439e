// Package credentials resolves and caches per-path backend credentials from
// the external secret store.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/crosspartition/inference-proxy/internal/shared/models"
	"github.com/crosspartition/inference-proxy/internal/shared/secrets"
)

const defaultFetchTimeout = 10 * time.Second

// Provider caches credentials by key. A cache miss triggers exactly one
// store fetch per key at a time; concurrent callers share its result.
type Provider struct {
	store        secrets.Store
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]*models.CachedCredential
}

// Option tweaks provider construction. Used by tests to inject a clock.
type Option func(*Provider)

func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(p *Provider) { p.fetchTimeout = d }
}

func New(store secrets.Store, ttl time.Duration, opts ...Option) *Provider {
	p := &Provider{
		store:        store,
		ttl:          ttl,
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
		cache:        make(map[string]*models.CachedCredential),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve returns a cached, non-expired credential or fetches one from the
// store. A resolution failure maps to AUTH_ERROR and is not retried within
// the call. Waiters honor ctx cancellation without abandoning the shared
// fill for everyone else.
func (p *Provider) Resolve(ctx context.Context, key string) (*models.CachedCredential, error) {
	if cred := p.cached(key); cred != nil {
		return cred, nil
	}

	ch := p.group.DoChan(key, func() (interface{}, error) {
		// A concurrent fill may have landed between the miss and this call.
		if cred := p.cached(key); cred != nil {
			return cred, nil
		}
		return p.fetch(key)
	})

	select {
	case <-ctx.Done():
		return nil, &models.RouteError{
			Outcome: models.OutcomeAuthError,
			Detail:  fmt.Sprintf("credential resolution for %s cancelled", key),
			Err:     ctx.Err(),
		}
	case res := <-ch:
		if res.Err != nil {
			return nil, &models.RouteError{
				Outcome: models.OutcomeAuthError,
				Detail:  fmt.Sprintf("failed to resolve credential %s", key),
				Err:     res.Err,
			}
		}
		return res.Val.(*models.CachedCredential), nil
	}
}

// fetch runs on a detached context so that one caller's cancellation cannot
// fail the fill that other waiters are sharing.
func (p *Provider) fetch(key string) (*models.CachedCredential, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.fetchTimeout)
	defer cancel()

	material, err := p.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}

	now := p.now()
	cred := &models.CachedCredential{
		Key:            key,
		SecretMaterial: material,
		FetchedAt:      now,
		ExpiresAt:      now.Add(p.ttl),
	}

	p.mu.Lock()
	p.cache[key] = cred
	p.mu.Unlock()

	return cred, nil
}

func (p *Provider) cached(key string) *models.CachedCredential {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred, ok := p.cache[key]
	if !ok || cred.Expired(p.now()) {
		return nil
	}
	return cred
}

// Invalidate drops a cached credential the backend rejected as stale. The
// next Resolve refetches it.
func (p *Provider) Invalidate(key string) {
	p.mu.Lock()
	delete(p.cache, key)
	p.mu.Unlock()
}
