package backend

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// TransportOptions tunes the connection pool kept for each target.
type TransportOptions struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConnsPerHost   int
}

// DefaultTransportOptions mirrors the config defaults.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		DialTimeout:           10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   32,
	}
}

// Backend is a single upstream target with its own connection pool.
type Backend struct {
	url           *url.URL
	transport     *http.Transport
	headerTimeout time.Duration
	mutex         sync.Mutex
	reachable     bool
	inFlight      int
}

// New creates a Backend for u. It starts out reachable until a probe says
// otherwise.
func New(u *url.URL, opts TransportOptions) *Backend {
	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &Backend{
		url: u,
		transport: &http.Transport{
			Proxy:                 nil,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          opts.MaxIdleConnsPerHost,
			MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
			IdleConnTimeout:       opts.IdleConnTimeout,
			ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
			TLSHandshakeTimeout:   opts.DialTimeout,
			ExpectContinueTimeout: 1 * time.Second,
		},
		headerTimeout: opts.ResponseHeaderTimeout,
		reachable:     true,
	}
}

// URL returns the backend base URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// Transport returns the pooled round tripper for this backend.
func (b *Backend) Transport() http.RoundTripper {
	return b.transport
}

// ResponseHeaderTimeout is how long a request may go without progress
// before the backend has sent response headers.
func (b *Backend) ResponseHeaderTimeout() time.Duration {
	return b.headerTimeout
}

// Acquire marks one request as in flight.
func (b *Backend) Acquire() {
	b.mutex.Lock()
	b.inFlight++
	b.mutex.Unlock()
}

// Release marks one request as finished.
func (b *Backend) Release() {
	b.mutex.Lock()
	if b.inFlight > 0 {
		b.inFlight--
	}
	b.mutex.Unlock()
}

// InFlight returns the number of requests currently being forwarded.
func (b *Backend) InFlight() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.inFlight
}

func (b *Backend) IsReachable() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.reachable
}

// SetReachable records the latest probe result.
// Returns true if the status changed.
func (b *Backend) SetReachable(reachable bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.reachable == reachable {
		return false
	}

	b.reachable = reachable
	return true
}

// CloseIdleConnections drops pooled connections that are not in use.
func (b *Backend) CloseIdleConnections() {
	b.transport.CloseIdleConnections()
}
