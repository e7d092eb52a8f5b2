package backend

import (
	"net/url"
	"sort"
	"sync"
)

// Registry hands out one Backend per target so rules sharing a target share
// its connection pool.
type Registry struct {
	mutex    sync.RWMutex
	backends map[string]*Backend
	opts     TransportOptions
}

func NewRegistry(opts TransportOptions) *Registry {
	return &Registry{
		backends: make(map[string]*Backend),
		opts:     opts,
	}
}

// Get returns the Backend for target, creating it on first use.
func (r *Registry) Get(target *url.URL) *Backend {
	key := Key(target)

	r.mutex.RLock()
	b, exists := r.backends[key]
	r.mutex.RUnlock()

	if exists {
		return b
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if b, exists = r.backends[key]; exists {
		return b
	}

	b = New(&url.URL{Scheme: target.Scheme, Host: target.Host}, r.opts)
	r.backends[key] = b
	return b
}

// Backends returns every registered backend ordered by key.
func (r *Registry) Backends() []*Backend {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	keys := make([]string, 0, len(r.backends))
	for k := range r.backends {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*Backend, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.backends[k])
	}
	return out
}

// CloseIdleConnections drains the idle pool of every backend.
func (r *Registry) CloseIdleConnections() {
	for _, b := range r.Backends() {
		b.CloseIdleConnections()
	}
}

// Key identifies a pool: scheme plus host:port.
func Key(target *url.URL) string {
	return target.Scheme + "://" + target.Host
}
