package router

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/angeloszaimis/dev-proxy/internal/backend"
	"github.com/angeloszaimis/dev-proxy/internal/route"
)

const tracerName = "github.com/angeloszaimis/dev-proxy/internal/router"

// Headers a Rewrite hook would otherwise drop. They are forwarded as the
// caller sent them.
var forwardingHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
}

type Router struct {
	logger     *slog.Logger
	table      *route.Table
	forwarders map[string]*forwarder
	tracer     trace.Tracer
}

type forwarder struct {
	rule    route.Rule
	backend *backend.Backend
	proxy   *httputil.ReverseProxy
}

type Option func(*Router)

// WithTracerProvider sets where forwarding spans go. Defaults to the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(rt *Router) {
		rt.tracer = tp.Tracer(tracerName)
	}
}

// New builds a forwarder for every rule in table. Rules sharing a target
// share that target's Backend from registry, and with it the connection
// pool.
func New(logger *slog.Logger, table *route.Table, registry *backend.Registry, opts ...Option) *Router {
	rt := &Router{
		logger:     logger,
		table:      table,
		forwarders: make(map[string]*forwarder, table.Len()),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(rt)
	}

	for _, rule := range table.Rules() {
		// Equal prefixes: only the first registered one can ever match.
		if _, exists := rt.forwarders[rule.Prefix]; exists {
			continue
		}

		b := registry.Get(rule.Target)
		rt.forwarders[rule.Prefix] = &forwarder{
			rule:    rule,
			backend: b,
			proxy: &httputil.ReverseProxy{
				Rewrite:        rewrite(rule),
				Transport:      b.Transport(),
				FlushInterval:  -1,
				ModifyResponse: headersReceived,
				ErrorHandler:   rt.handleError,
				ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
			},
		}

		logger.Info("Registered route",
			slog.String("prefix", rule.Prefix),
			slog.String("target", rule.Target.String()),
			slog.Bool("change_origin", rule.RewriteOrigin))
	}

	return rt
}

// Route forwards r if its path matches a rule and reports whether it did.
// When it returns false nothing has been written to w and no backend
// connection was opened.
//
// Matching uses the escaped path, the form that is forwarded, so an encoded
// slash never counts as a segment separator.
func (rt *Router) Route(w http.ResponseWriter, r *http.Request) bool {
	rule, ok := rt.table.Match(r.URL.EscapedPath())
	if !ok {
		rt.logger.Debug("No route matched",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))
		return false
	}

	rt.forward(rt.forwarders[rule.Prefix], w, r)
	return true
}

// Handler routes matching requests and hands everything else to next.
func (rt *Router) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.Route(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.Handler(http.NotFoundHandler()).ServeHTTP(w, r)
}

type outcomeKey struct{}

// outcome carries what the error handler saw back to forward.
type outcome struct {
	err   error
	watch *headerWatch
}

func (rt *Router) forward(fw *forwarder, w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	target := fw.backend.URL().String()

	log := rt.logger.With(
		slog.String("request_id", requestID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("prefix", fw.rule.Prefix),
		slog.String("target", target))

	log.Info("Forwarding request",
		slog.String("from", extractClientIP(r)),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host))

	ctx, span := rt.tracer.Start(r.Context(), "proxy "+fw.rule.Prefix,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.String("server.address", fw.backend.URL().Host),
		))
	defer span.End()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	watch := newHeaderWatch(fw.backend.ResponseHeaderTimeout(), func() {
		cancel(errBackendStalled)
	})
	defer watch.stop()

	oc := &outcome{watch: watch}
	ctx = context.WithValue(ctx, outcomeKey{}, oc)

	out := r.WithContext(ctx)
	if out.Body != nil && out.Body != http.NoBody {
		out.Body = &watchedBody{ReadCloser: out.Body, watch: watch}
	}

	fw.backend.Acquire()
	defer fw.backend.Release()

	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	start := time.Now()

	defer func() {
		duration := time.Since(start)

		if p := recover(); p != nil {
			// Upstream failed after headers went out; the client connection
			// is aborted so the truncation is visible.
			span.SetStatus(codes.Error, "response aborted")
			log.Warn("Response aborted mid-stream",
				slog.Int("status", rec.statusCode),
				slog.Int64("bytes", rec.written),
				slog.Duration("duration", duration))
			panic(p)
		}

		span.SetAttributes(attribute.Int("http.response.status_code", rec.statusCode))

		if oc.err != nil {
			span.RecordError(oc.err)
			span.SetStatus(codes.Error, oc.err.Error())

			if errors.Is(oc.err, ErrClientClosed) {
				log.Info("Client went away", slog.Duration("duration", duration))
				return
			}

			log.Warn("Backend request failed",
				slog.Int("status", rec.statusCode),
				slog.String("error", oc.err.Error()),
				slog.Duration("duration", duration))
			return
		}

		log.Info("Request completed",
			slog.Int("status", rec.statusCode),
			slog.Int64("bytes", rec.written),
			slog.Duration("duration", duration))
	}()

	fw.proxy.ServeHTTP(rec, out)
}

func headersReceived(resp *http.Response) error {
	if oc, ok := resp.Request.Context().Value(outcomeKey{}).(*outcome); ok {
		oc.watch.stop()
	}
	return nil
}

func (rt *Router) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(r.Context(), err)

	if oc, ok := r.Context().Value(outcomeKey{}).(*outcome); ok {
		oc.err = kind
	}

	if errors.Is(kind, ErrClientClosed) {
		if rec, ok := w.(*statusRecorder); ok {
			rec.statusCode = status
		}
		return
	}

	http.Error(w, http.StatusText(status), status)
}

func rewrite(rule route.Rule) func(*httputil.ProxyRequest) {
	return func(pr *httputil.ProxyRequest) {
		pr.SetURL(rule.Target)

		if !rule.RewriteOrigin {
			pr.Out.Host = pr.In.Host
		}

		for _, h := range forwardingHeaders {
			if v, ok := pr.In.Header[h]; ok {
				pr.Out.Header[h] = v
			}
		}
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
