package router_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/angeloszaimis/dev-proxy/internal/backend"
	"github.com/angeloszaimis/dev-proxy/internal/route"
	"github.com/angeloszaimis/dev-proxy/internal/router"
)

// dripReader yields 1KiB chunks with a delay before each.
type dripReader struct {
	chunks int
	delay  time.Duration
}

func (d *dripReader) Read(p []byte) (int, error) {
	if d.chunks == 0 {
		return 0, io.EOF
	}
	time.Sleep(d.delay)
	d.chunks--
	return copy(p, bytes.Repeat([]byte("x"), 1024)), nil
}

var _ = Describe("Backend failures", func() {
	Context("when the backend refuses connections", func() {
		It("should answer 502 without retrying", func() {
			rt, registry := newRouter(backend.DefaultTransportOptions(),
				rule("/api/auth", "http://"+closedAddr(), true))

			w := httptest.NewRecorder()
			Expect(rt.Route(w, httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))).To(BeTrue())

			Expect(w.Code).To(Equal(http.StatusBadGateway))
			Expect(w.Body.String()).To(ContainSubstring(http.StatusText(http.StatusBadGateway)))
			Expect(registry.Backends()[0].InFlight()).To(BeZero())
		})
	})

	Context("when the backend never sends headers", func() {
		It("should answer 504 and abort the backend connection", func() {
			aborted := make(chan struct{})
			hanging := newTrackedBackend(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
				close(aborted)
			}))
			defer hanging.Close()

			opts := backend.DefaultTransportOptions()
			opts.ResponseHeaderTimeout = 100 * time.Millisecond
			rt, _ := newRouter(opts, rule("/api/auth", hanging.URL, true))

			w := httptest.NewRecorder()
			start := time.Now()
			rt.Route(w, httptest.NewRequest(http.MethodGet, "/api/auth/slow", nil))

			Expect(w.Code).To(Equal(http.StatusGatewayTimeout))
			Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
			Eventually(aborted).Should(BeClosed())
			Eventually(hanging.active.Load).Should(BeZero())
		})
	})

	Context("when the backend stops reading an upload", func() {
		It("should answer 504 instead of waiting on the write", func() {
			release := make(chan struct{})
			stuck := newTrackedBackend(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-release:
				case <-time.After(10 * time.Second):
				}
			}))
			defer stuck.Close()
			defer close(release)

			opts := backend.DefaultTransportOptions()
			opts.ResponseHeaderTimeout = 200 * time.Millisecond
			rt, registry := newRouter(opts, rule("/upload", stuck.URL, true))

			body := bytes.NewReader(make([]byte, 64<<20))
			done := make(chan int, 1)
			go func() {
				w := httptest.NewRecorder()
				rt.Route(w, httptest.NewRequest(http.MethodPost, "/upload/file", body))
				done <- w.Code
			}()

			Eventually(done, 5*time.Second).Should(Receive(Equal(http.StatusGatewayTimeout)))
			Expect(registry.Backends()[0].InFlight()).To(BeZero())
		})

		It("should not time out an upload that keeps making progress", func() {
			upstream := newTrackedBackend(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n, _ := io.Copy(io.Discard, r.Body)
				fmt.Fprintf(w, "%d", n)
			}))
			defer upstream.Close()

			opts := backend.DefaultTransportOptions()
			opts.ResponseHeaderTimeout = 200 * time.Millisecond
			rt, _ := newRouter(opts, rule("/upload", upstream.URL, true))

			// 10 chunks 50ms apart outlast the timeout as a whole.
			body := &dripReader{chunks: 10, delay: 50 * time.Millisecond}
			w := httptest.NewRecorder()
			rt.Route(w, httptest.NewRequest(http.MethodPost, "/upload/file", body))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal("10240"))
		})
	})

	Context("when the backend speaks garbage", func() {
		It("should answer 502", func() {
			l, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			defer l.Close()

			go func() {
				conn, err := l.Accept()
				if err != nil {
					return
				}
				defer conn.Close()
				// consume the request line before replying
				bufio.NewReader(conn).ReadString('\n')
				conn.Write([]byte("this is not http\r\n\r\n"))
			}()

			rt, _ := newRouter(backend.DefaultTransportOptions(),
				rule("/api2/members", "http://"+l.Addr().String(), true))

			w := httptest.NewRecorder()
			rt.Route(w, httptest.NewRequest(http.MethodGet, "/api2/members/1", nil))

			Expect(w.Code).To(Equal(http.StatusBadGateway))
		})
	})

	Context("when the caller disconnects mid-response", func() {
		It("should close the backend connection promptly", func() {
			gone := make(chan struct{})
			ticking := newTrackedBackend(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				defer close(gone)
				rc := http.NewResponseController(w)
				for {
					if _, err := w.Write([]byte("tick\n")); err != nil {
						return
					}
					rc.Flush()
					select {
					case <-r.Context().Done():
						return
					case <-time.After(20 * time.Millisecond):
					}
				}
			}))
			defer ticking.Close()

			rt, registry := newRouter(backend.DefaultTransportOptions(),
				rule("/events", ticking.URL, true))
			proxy := httptest.NewServer(rt)
			defer proxy.Close()

			ctx, cancel := context.WithCancel(context.Background())
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, proxy.URL+"/events", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())

			line, err := bufio.NewReader(resp.Body).ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(Equal("tick\n"))
			Expect(ticking.active.Load()).To(Equal(int32(1)))

			cancel()
			resp.Body.Close()

			Eventually(gone, 2*time.Second).Should(BeClosed())
			Eventually(ticking.active.Load, 2*time.Second).Should(BeZero())
			Eventually(registry.Backends()[0].InFlight, 2*time.Second).Should(BeZero())
		})
	})

	Context("when the backend fails after headers were sent", func() {
		It("should truncate the client response visibly", func() {
			broken := newTrackedBackend(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("partial"))
				http.NewResponseController(w).Flush()
				panic(http.ErrAbortHandler)
			}))
			defer broken.Close()

			rt, _ := newRouter(backend.DefaultTransportOptions(),
				rule("/download", broken.URL, true))
			proxy := httptest.NewServer(rt)
			defer proxy.Close()

			resp, err := http.Get(proxy.URL + "/download")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).To(HaveOccurred())
			Expect(string(body)).To(Equal("partial"))
		})
	})
})

var _ = Describe("Tracing", func() {
	It("should record one span per forwarded request", func() {
		upstream := newTrackedBackend(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer upstream.Close()

		recorder := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

		table, err := route.NewTable([]route.Rule{rule("/api/auth", upstream.URL, true)})
		Expect(err).NotTo(HaveOccurred())
		rt := router.New(discardLogger(), table,
			backend.NewRegistry(backend.DefaultTransportOptions()),
			router.WithTracerProvider(tp))

		rt.Route(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
		rt.Route(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/elsewhere", nil))

		spans := recorder.Ended()
		Expect(spans).To(HaveLen(1))
		Expect(spans[0].Name()).To(Equal("proxy /api/auth"))
	})
})
