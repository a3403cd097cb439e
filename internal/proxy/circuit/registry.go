package circuit

import "sync"

// Registry holds one breaker per transport path, created lazily with shared
// options. The breaker for a path is shared by all concurrent requests.
type Registry struct {
	opts Options

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for the named path, creating it if needed.
func (r *Registry) For(path string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[path]
	if !ok {
		b = NewBreaker(r.opts)
		r.breakers[path] = b
	}
	return b
}

// Snapshots returns the current state of every known path.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
