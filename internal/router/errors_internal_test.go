package router

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout awaiting response headers" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ = Describe("classify", func() {
	live := context.Background()

	DescribeTable("maps errors to status codes",
		func(err error, status int, kind error) {
			gotStatus, gotErr := classify(live, err)
			Expect(gotStatus).To(Equal(status))
			Expect(gotErr).To(MatchError(kind))
		},
		Entry("refused dial", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			http.StatusBadGateway, ErrBackendUnreachable),
		Entry("timed out dial", &net.OpError{Op: "dial", Net: "tcp", Err: timeoutErr{}},
			http.StatusBadGateway, ErrBackendUnreachable),
		Entry("header timeout", timeoutErr{},
			http.StatusGatewayTimeout, ErrBackendTimeout),
		Entry("deadline", context.DeadlineExceeded,
			http.StatusGatewayTimeout, ErrBackendTimeout),
		Entry("malformed response", errors.New(`malformed HTTP response "garbage"`),
			http.StatusBadGateway, ErrUpstreamProtocol),
		Entry("early EOF", io.ErrUnexpectedEOF,
			http.StatusBadGateway, ErrUpstreamProtocol),
	)

	It("should blame the client when its context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		status, err := classify(ctx, context.Canceled)
		Expect(status).To(Equal(statusClientClosed))
		Expect(err).To(MatchError(ErrClientClosed))
	})

	It("should report a stalled backend as a timeout, not a client hang-up", func() {
		ctx, cancel := context.WithCancelCause(context.Background())
		cancel(errBackendStalled)

		status, err := classify(ctx, context.Canceled)
		Expect(status).To(Equal(http.StatusGatewayTimeout))
		Expect(err).To(MatchError(ErrBackendTimeout))
	})
})
