package healthcheck

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/angeloszaimis/dev-proxy/internal/backend"
)

// Probe reports whether b accepts TCP connections right now. A TCP dial is
// used instead of an HTTP health endpoint because development backends
// rarely expose one.
func Probe(ctx context.Context, b *backend.Backend, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostPort(b))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// HealthCheck probes b immediately and then every interval until ctx is
// done, logging each transition.
func HealthCheck(
	ctx context.Context,
	b *backend.Backend,
	interval time.Duration,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	check(ctx, b, interval, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Health check stopped",
				slog.String("backend", b.URL().String()))
			return

		case <-ticker.C:
			check(ctx, b, interval, logger)
		}
	}
}

// Monitor runs HealthCheck for every backend and blocks until all of them
// stop.
func Monitor(ctx context.Context, backends []*backend.Backend, interval time.Duration, logger *slog.Logger) {
	var wg sync.WaitGroup

	for _, b := range backends {
		wg.Add(1)
		go func(b *backend.Backend) {
			defer wg.Done()
			HealthCheck(ctx, b, interval, logger)
		}(b)
	}

	wg.Wait()
}

func check(ctx context.Context, b *backend.Backend, interval time.Duration, logger *slog.Logger) {
	timeout := interval / 2
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}

	reachable := Probe(ctx, b, timeout)
	if ctx.Err() != nil {
		return
	}

	if !b.SetReachable(reachable) {
		return
	}

	if reachable {
		logger.Info("Backend is back up",
			slog.String("backend", b.URL().String()))
	} else {
		logger.Warn("Backend is down, requests to it will fail with 502",
			slog.String("backend", b.URL().String()))
	}
}

func hostPort(b *backend.Backend) string {
	u := b.URL()
	if u.Port() != "" {
		return u.Host
	}

	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}
