/*
Package filters contains the interfaces implemented by the request and
response filters of the proxy, and the registry that holds the available
filter specifications.

A filter specification (Spec) receives the filter configuration once and
creates a Filter from it. The proxy calls the Request method of the
filters for every incoming request, in order, until one of them serves a
response. When the request is forwarded, the Response methods are called
in reverse order with the backend response.
*/
package filters

import (
	"errors"
	"net/http"
	"time"
)

// Filter names of the built-in filters.
const (
	JwtClaimHeaderName       = "jwtClaimHeader"
	FlowIdName               = "flowId"
	LogHeaderName            = "logHeader"
	SetRequestHeaderName     = "setRequestHeader"
	AppendRequestHeaderName  = "appendRequestHeader"
	SetResponseHeaderName    = "setResponseHeader"
	AppendResponseHeaderName = "appendResponseHeader"
)

// ErrInvalidFilterParameters is returned by CreateFilter when the
// arguments are not accepted by the filter.
var ErrInvalidFilterParameters = errors.New("invalid filter parameters")

// FilterContext gives the filters access to the request being processed
// and, in the response phase, to the backend response.
type FilterContext interface {
	// The response writer object belonging to the incoming request.
	ResponseWriter() http.ResponseWriter

	// The incoming request object. Filters can modify it, the modified
	// request is sent to the backend.
	Request() *http.Request

	// The response object. It is nil during the request phase, unless
	// a filter served the request.
	Response() *http.Response

	// Served returns true when a filter already served the request.
	Served() bool

	// Serve short-circuits the request with the response. The filters
	// after the current one are not executed and the request is not
	// forwarded to the backend.
	Serve(*http.Response)

	// StateBag is a per request store shared by the filters.
	StateBag() map[string]any

	// Metrics returns the metrics handler, with keys prefixed by the
	// name of the current filter.
	Metrics() Metrics
}

// Metrics is the metrics interface available to the filters.
type Metrics interface {
	MeasureSince(key string, start time.Time)
	IncCounter(key string)
	IncCounterBy(key string, value int64)
}

// Filter instances are created by the Spec. A filter instance is created
// once for a configuration and shared between requests, so it must not
// keep request specific state.
type Filter interface {
	Request(FilterContext)
	Response(FilterContext)
}

// Spec objects are the filter specifications, that create filter
// instances from the filter configuration.
type Spec interface {
	// Name of the filter, as referenced in the configuration.
	Name() string

	// CreateFilter validates the arguments and returns a filter
	// instance, or ErrInvalidFilterParameters.
	CreateFilter(args []any) (Filter, error)
}
