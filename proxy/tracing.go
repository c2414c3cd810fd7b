package proxy

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ComponentTag      = "component"
	FlowIDTag         = "flow_id"
	HostnameTag       = "hostname"
	HTTPHostTag       = "http.host"
	HTTPMethodTag     = "http.method"
	HTTPRemoteAddrTag = "http.remote_addr"
	HTTPPathTag       = "http.path"
	HTTPStatusCodeTag = "http.status_code"
	RejectReasonTag   = "auth.reject_reason"

	RequestFiltersEvent  = "request_filters"
	ResponseFiltersEvent = "response_filters"

	DefaultInitialSpan = "ingress"
	tracerName         = "github.com/zalando/claimheader/proxy"
)

type proxyTracing struct {
	tracer                   trace.Tracer
	initialOperationName     string
	logFilterLifecycleEvents bool
}

func newProxyTracing(o Options) *proxyTracing {
	t := o.Tracer
	if t == nil {
		t = otel.Tracer(tracerName)
	}

	name := o.InitialSpan
	if name == "" {
		name = DefaultInitialSpan
	}

	return &proxyTracing{
		tracer:                   t,
		initialOperationName:     name,
		logFilterLifecycleEvents: o.LogFilterEvents,
	}
}

func (t *proxyTracing) logFilterEvent(span trace.Span, phase, filterName, event string) {
	if !t.logFilterLifecycleEvents {
		return
	}

	span.AddEvent(phase, trace.WithAttributes(attribute.String(filterName, event)))
}

func (t *proxyTracing) logFilterStart(span trace.Span, phase, filterName string) {
	t.logFilterEvent(span, phase, filterName, "start")
}

func (t *proxyTracing) logFilterEnd(span trace.Span, phase, filterName string) {
	t.logFilterEvent(span, phase, filterName, "end")
}

func setStatus(span trace.Span, code int) {
	span.SetAttributes(attribute.Int(HTTPStatusCodeTag, code))
	if code >= 500 {
		span.SetStatus(codes.Error, "")
	}
}
