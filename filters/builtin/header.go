// Package builtin provides the generic filters that change the headers
// of the proxied requests and responses.
package builtin

import (
	"net/http"

	"golang.org/x/net/http/httpguts"

	"github.com/zalando/claimheader/filters"
)

type headerTarget int

const (
	requestHeader headerTarget = iota
	responseHeader
)

type headerMode int

const (
	setHeader headerMode = iota
	appendHeader
)

// headerFilter is the common spec and filter type of the header
// filters.
type headerFilter struct {
	target     headerTarget
	mode       headerMode
	name       string
	key, value string
}

// NewSetRequestHeader returns the spec of the setRequestHeader filter,
// that replaces the values of a request header. Instances expect two
// arguments, the header name and the value:
//
//	setRequestHeader("X-Env", "test")
func NewSetRequestHeader() filters.Spec {
	return &headerFilter{target: requestHeader, mode: setHeader, name: filters.SetRequestHeaderName}
}

// NewAppendRequestHeader returns the spec of the appendRequestHeader
// filter, that adds a value to a request header and keeps the existing
// ones.
func NewAppendRequestHeader() filters.Spec {
	return &headerFilter{target: requestHeader, mode: appendHeader, name: filters.AppendRequestHeaderName}
}

// NewSetResponseHeader returns the spec of the setResponseHeader filter.
func NewSetResponseHeader() filters.Spec {
	return &headerFilter{target: responseHeader, mode: setHeader, name: filters.SetResponseHeaderName}
}

// NewAppendResponseHeader returns the spec of the appendResponseHeader
// filter.
func NewAppendResponseHeader() filters.Spec {
	return &headerFilter{target: responseHeader, mode: appendHeader, name: filters.AppendResponseHeaderName}
}

func (spec *headerFilter) Name() string { return spec.name }

// CreateFilter rejects the names and values that can't be sent on the
// wire. The Host header is rejected too, as it is not sent from the
// header map.
func (spec *headerFilter) CreateFilter(args []any) (filters.Filter, error) {
	if len(args) != 2 {
		return nil, filters.ErrInvalidFilterParameters
	}

	key, err := filters.StringArg(args[0])
	if err != nil || !httpguts.ValidHeaderFieldName(key) || http.CanonicalHeaderKey(key) == "Host" {
		return nil, filters.ErrInvalidFilterParameters
	}

	value, err := filters.StringArg(args[1])
	if err != nil || !httpguts.ValidHeaderFieldValue(value) {
		return nil, filters.ErrInvalidFilterParameters
	}

	return &headerFilter{target: spec.target, mode: spec.mode, key: key, value: value}, nil
}

func (f *headerFilter) apply(h http.Header) {
	if f.mode == setHeader {
		h.Set(f.key, f.value)
		return
	}

	h.Add(f.key, f.value)
}

func (f *headerFilter) Request(ctx filters.FilterContext) {
	if f.target == requestHeader {
		f.apply(ctx.Request().Header)
	}
}

func (f *headerFilter) Response(ctx filters.FilterContext) {
	if f.target == responseHeader {
		f.apply(ctx.Response().Header)
	}
}
