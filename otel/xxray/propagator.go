// Package xxray provides an AWS X-Ray trace propagator that also accepts
// trace headers carrying only the Root field, like the ones created by
// the AWS application load balancers.
package xxray

import (
	"context"
	"strings"

	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Name of the propagator in OTEL_PROPAGATORS.
	Name = "xxray"

	traceHeaderKey = "X-Amzn-Trace-Id"
	rootKey        = "Root"
	traceIDLength  = 35
)

// Propagator extends the standard [xray.Propagator]. The standard one
// requires both the Root and the Parent keys in the X-Amzn-Trace-Id
// header. When Parent is missing, this one keeps the trace id from Root
// and creates a new parent span id.
type Propagator struct {
	xray.Propagator
	idGenerator *xray.IDGenerator
}

var _ propagation.TextMapPropagator = (*Propagator)(nil)

func NewPropagator() *Propagator {
	return &Propagator{idGenerator: xray.NewIDGenerator()}
}

func (p *Propagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	extracted := p.Propagator.Extract(ctx, carrier)
	if trace.SpanContextFromContext(extracted).IsValid() {
		return extracted
	}

	traceID, ok := rootTraceID(carrier.Get(traceHeaderKey))
	if !ok {
		return extracted
	}

	return trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  p.idGenerator.NewSpanID(ctx, traceID),
	}))
}

// rootTraceID parses the Root field of the header. The X-Ray trace id
// has the format 1-<8 hex digits epoch>-<24 hex digits>.
func rootTraceID(header string) (trace.TraceID, bool) {
	for part := range strings.SplitSeq(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key != rootKey {
			continue
		}

		if len(value) != traceIDLength || !strings.HasPrefix(value, "1-") || value[10] != '-' {
			return trace.TraceID{}, false
		}

		id, err := trace.TraceIDFromHex(value[2:10] + value[11:])
		return id, err == nil && id.IsValid()
	}

	return trace.TraceID{}, false
}
