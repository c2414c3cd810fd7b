package proxy

import (
	stdlibcontext "context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/zalando/claimheader/filters"
	logfilter "github.com/zalando/claimheader/filters/log"
	"github.com/zalando/claimheader/filters/flowid"
	"github.com/zalando/claimheader/logging"
	"github.com/zalando/claimheader/metrics"
)

// RouteFilter is a filter instance of the proxy, with the name of the
// spec that created it.
type RouteFilter struct {
	filters.Filter
	Name string
}

// Options of the proxy.
type Options struct {
	// Backend is the address where the authorized requests are
	// forwarded. Required, must be an absolute http or https URL.
	Backend *url.URL

	// Filters are executed in order for every incoming request, and in
	// reverse order for the backend responses.
	Filters []*RouteFilter

	// Metrics backend, when nil, no metrics are collected.
	Metrics metrics.Metrics

	// Tracer used for the request spans. When nil, the tracer of the
	// global OpenTelemetry tracer provider is used.
	Tracer trace.Tracer

	// InitialSpan is the name of the server span, "ingress" by default.
	InitialSpan string

	// LogFilterEvents adds start and end events of every filter to the
	// server span.
	LogFilterEvents bool

	// When set, the Host header of the incoming request is sent to the
	// backend. Otherwise the host of the backend URL is used.
	PreserveHost bool

	// When set, no access log is printed.
	AccessLogDisabled bool

	// Transport used for the backend requests, http.DefaultTransport
	// when nil.
	Transport http.RoundTripper

	// FlushInterval of the backend response body, see
	// httputil.ReverseProxy.
	FlushInterval time.Duration

	// Log receives the error messages of the proxy. When nil, the
	// standard logrus logger is used.
	Log logging.Logger
}

// Proxy instances implement the http.Handler interface, applying the
// filters to the incoming requests, and forwarding them to the backend
// unless a filter served the request.
type Proxy struct {
	backend           *url.URL
	filters           []*RouteFilter
	metrics           metrics.Metrics
	tracing           *proxyTracing
	preserveHost      bool
	accessLogDisabled bool
	log               logging.Logger
	reverseProxy      *httputil.ReverseProxy
}

type contextKey struct{}

// ErrInvalidBackend is returned by New when the backend address is
// missing or not an absolute http(s) URL.
var ErrInvalidBackend = errors.New("invalid backend")

var hostname string

func init() {
	hostname, _ = os.Hostname()
}

// New creates a proxy with the provided options.
func New(o Options) (*Proxy, error) {
	if o.Backend == nil {
		return nil, fmt.Errorf("%w: missing backend", ErrInvalidBackend)
	}

	if o.Backend.Scheme != "http" && o.Backend.Scheme != "https" || o.Backend.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBackend, o.Backend)
	}

	m := o.Metrics
	if m == nil {
		m = metrics.Void
	}

	l := o.Log
	if l == nil {
		l = &logging.DefaultLog{}
	}

	p := &Proxy{
		backend:           o.Backend,
		filters:           o.Filters,
		metrics:           m,
		tracing:           newProxyTracing(o),
		preserveHost:      o.PreserveHost,
		accessLogDisabled: o.AccessLogDisabled,
		log:               l,
	}

	p.reverseProxy = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      o.Transport,
		FlushInterval:  o.FlushInterval,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.backendError,
	}

	return p, nil
}

var caughtPanic atomic.Bool

// tryCatch executes function `p` and `onErr` if `p` panics
// onErr will receive a stack trace string of the first panic
// further panics are ignored for efficiency reasons
func tryCatch(p func(), onErr func(err any, stack string)) {
	defer func() {
		if err := recover(); err != nil {
			s := ""
			if caughtPanic.CompareAndSwap(false, true) {
				buf := make([]byte, 1024)
				l := runtime.Stack(buf, false)
				s = string(buf[:l])
			}
			onErr(err, s)
		}
	}()

	p()
}

// applies filters to a request
func (p *Proxy) applyFiltersToRequest(ctx *context, span trace.Span) {
	for _, fi := range p.filters {
		start := time.Now()
		p.tracing.logFilterStart(span, RequestFiltersEvent, fi.Name)
		tryCatch(func() {
			ctx.setMetricsPrefix(fi.Name)
			fi.Request(ctx)
			p.metrics.MeasureFilterRequest(fi.Name, start)
		}, func(err any, stack string) {
			p.log.Errorf("error while processing filter during request: %s: %v (%s)", fi.Name, err, stack)
		})
		p.tracing.logFilterEnd(span, RequestFiltersEvent, fi.Name)

		ctx.appliedFilters = append(ctx.appliedFilters, fi)
		if ctx.Served() {
			break
		}
	}
}

// applies filters to a response in reverse order
func (p *Proxy) applyFiltersToResponse(ctx *context, span trace.Span) {
	last := len(ctx.appliedFilters) - 1
	for i := range ctx.appliedFilters {
		fi := ctx.appliedFilters[last-i]
		start := time.Now()
		p.tracing.logFilterStart(span, ResponseFiltersEvent, fi.Name)
		tryCatch(func() {
			ctx.setMetricsPrefix(fi.Name)
			fi.Response(ctx)
			p.metrics.MeasureFilterResponse(fi.Name, start)
		}, func(err any, stack string) {
			p.log.Errorf("error while processing filters during response: %s: %v (%s)", fi.Name, err, stack)
		})
		p.tracing.logFilterEnd(span, ResponseFiltersEvent, fi.Name)
	}
}

func copyHeader(to, from http.Header) {
	for k, v := range from {
		to[k] = v
	}
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.backend)
	pr.SetXForwarded()
	if p.preserveHost {
		pr.Out.Host = pr.In.Host
	}

	otel.GetTextMapPropagator().Inject(pr.Out.Context(), propagation.HeaderCarrier(pr.Out.Header))

	if ctx, ok := pr.In.Context().Value(contextKey{}).(*context); ok {
		ctx.startBackend = time.Now()
	}
}

func (p *Proxy) modifyResponse(rsp *http.Response) error {
	ctx, ok := rsp.Request.Context().Value(contextKey{}).(*context)
	if !ok {
		return nil
	}

	p.metrics.MeasureBackend(p.backend.Host, ctx.startBackend)
	ctx.response = rsp
	p.applyFiltersToResponse(ctx, trace.SpanFromContext(rsp.Request.Context()))
	return nil
}

func (p *Proxy) backendError(w http.ResponseWriter, r *http.Request, err error) {
	p.metrics.IncErrorsBackend(p.backend.Host)

	// client closed request
	if errors.Is(err, stdlibcontext.Canceled) && r.Context().Err() != nil {
		p.log.Infof("client request: %v", err)
		w.WriteHeader(499)
		return
	}

	p.log.Errorf("error while proxying to backend %s: %v", p.backend.Host, err)
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

// serveResponse writes the response of a filter that served the request.
func (p *Proxy) serveResponse(ctx *context) {
	copyHeader(ctx.responseWriter.Header(), ctx.response.Header)
	ctx.responseWriter.WriteHeader(ctx.response.StatusCode)
	if _, err := io.Copy(ctx.responseWriter, ctx.response.Body); err != nil {
		p.log.Errorf("error while copying the response stream: %v", err)
	}
}

func (p *Proxy) logAccess(ctx *context, lw *logging.LoggingWriter) {
	if p.accessLogDisabled {
		return
	}

	authUser, _ := ctx.stateBag[logfilter.AuthUserKey].(string)
	entry := &logging.AccessEntry{
		Request:      ctx.request,
		ResponseSize: lw.GetBytes(),
		StatusCode:   lw.GetCode(),
		RequestTime:  ctx.startServe,
		Duration:     time.Since(ctx.startServe),
		AuthUser:     authUser,
	}

	additional := make(map[string]any)
	if reason, ok := ctx.stateBag[logfilter.AuthRejectReasonKey].(string); ok {
		additional[logfilter.AuthRejectReasonKey] = reason
	}

	if flowId := ctx.request.Header.Get(flowid.HeaderName); flowId != "" {
		additional["flow-id"] = flowId
	}

	logging.LogAccess(entry, additional)
}

func (p *Proxy) setCommonSpanInfo(r *http.Request, s trace.Span) {
	s.SetAttributes(
		attribute.String(ComponentTag, "claimheader"),
		attribute.String(HTTPMethodTag, r.Method),
		attribute.String(HostnameTag, hostname),
		attribute.String(HTTPRemoteAddrTag, r.RemoteAddr),
		attribute.String(HTTPPathTag, r.URL.Path),
		attribute.String(HTTPHostTag, r.Host),
	)
}

// http.Handler implementation
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lw := logging.NewLoggingWriter(w)

	spanCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	spanCtx, span := p.tracing.tracer.Start(
		spanCtx,
		p.tracing.initialOperationName,
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	p.setCommonSpanInfo(r, span)

	ctx := newContext(lw, r, p.metrics)
	ctx.request = r.WithContext(stdlibcontext.WithValue(spanCtx, contextKey{}, ctx))

	defer func() {
		code := lw.GetCode()
		if code == 0 {
			code = http.StatusOK
		}

		if flowId := ctx.request.Header.Get(flowid.HeaderName); flowId != "" {
			span.SetAttributes(attribute.String(FlowIDTag, flowId))
		}

		if reason, ok := ctx.stateBag[logfilter.AuthRejectReasonKey].(string); ok {
			span.SetAttributes(attribute.String(RejectReasonTag, reason))
		}

		setStatus(span, code)
		p.metrics.MeasureServe(ctx.metricsHost(), r.Method, code, ctx.startServe)
		p.logAccess(ctx, lw)
	}()

	p.applyFiltersToRequest(ctx, span)

	if ctx.Served() {
		defer func() {
			if err := ctx.response.Body.Close(); err != nil {
				p.log.Errorf("error during closing the response body: %v", err)
			}
		}()

		p.applyFiltersToResponse(ctx, span)
		p.serveResponse(ctx)
		return
	}

	p.reverseProxy.ServeHTTP(lw, ctx.request)
}
