package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrUpstreamProtocol   = errors.New("upstream protocol error")
	ErrClientClosed       = errors.New("client closed request")

	// errBackendStalled is the cancel cause set when a backend makes no
	// progress before sending response headers.
	errBackendStalled = errors.New("backend stalled before response headers")
)

// statusClientClosed is only used in logs and spans; nothing is written.
const statusClientClosed = 499

// classify maps a forwarding error to the status returned to the caller and
// an error wrapping its kind. ctx is the outbound request context.
func classify(ctx context.Context, err error) (int, error) {
	if errors.Is(context.Cause(ctx), errBackendStalled) {
		return http.StatusGatewayTimeout, fmt.Errorf("%w: %v", ErrBackendTimeout, errBackendStalled)
	}

	if ctx.Err() == context.Canceled {
		return statusClientClosed, fmt.Errorf("%w: %v", ErrClientClosed, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return http.StatusBadGateway, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout, fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return http.StatusBadGateway, fmt.Errorf("%w: %v", ErrUpstreamProtocol, err)
}
