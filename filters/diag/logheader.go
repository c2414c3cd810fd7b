// Package diag provides filters to inspect the traffic passing the
// proxy.
package diag

import (
	"maps"
	"net/http"
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/claimheader/filters"
	"github.com/zalando/claimheader/filters/flowid"
)

const (
	requestArg  = "request"
	responseArg = "response"
)

type logHeader struct {
	logger            *log.Logger
	request, response bool
}

// NewLogHeader creates the logHeader filter specification. The filter
// logs every request and response header, one entry per value, at
// trace level of the application log:
//
//	-> X-Flow-Id: 01H...
//	<- Content-Type: text/plain
//
// The entries carry the flow id of the request as a field. The
// optional arguments, "request" or "response", limit the logging to
// one direction:
//
//	logHeader("request")
func NewLogHeader() filters.Spec { return newLogHeader(log.StandardLogger()) }

func newLogHeader(l *log.Logger) *logHeader { return &logHeader{logger: l} }

func (*logHeader) Name() string { return filters.LogHeaderName }

func (spec *logHeader) CreateFilter(args []any) (filters.Filter, error) {
	if len(args) == 0 {
		return &logHeader{logger: spec.logger, request: true, response: true}, nil
	}

	f := &logHeader{logger: spec.logger}
	for _, a := range args {
		s, err := filters.StringArg(a)
		if err != nil {
			return nil, filters.ErrInvalidFilterParameters
		}

		switch s {
		case requestArg:
			f.request = true
		case responseArg:
			f.response = true
		default:
			return nil, filters.ErrInvalidFilterParameters
		}
	}

	return f, nil
}

func (f *logHeader) Request(ctx filters.FilterContext) {
	if !f.request || !f.logger.IsLevelEnabled(log.TraceLevel) {
		return
	}

	req := ctx.Request()
	e := f.entry(req)
	e.Tracef("-> :method: %s", req.Method)
	e.Tracef("-> :path: %s", req.URL.RequestURI())
	e.Tracef("-> :authority: %s", req.Host)
	logValues(e, "->", req.Header)
}

func (f *logHeader) Response(ctx filters.FilterContext) {
	if !f.response || !f.logger.IsLevelEnabled(log.TraceLevel) {
		return
	}

	rsp := ctx.Response()
	e := f.entry(ctx.Request())
	e.Tracef("<- :status: %d", rsp.StatusCode)
	logValues(e, "<-", rsp.Header)
}

func (f *logHeader) entry(req *http.Request) *log.Entry {
	e := log.NewEntry(f.logger)
	if id := req.Header.Get(flowid.HeaderName); id != "" {
		e = e.WithField("flow-id", id)
	}

	return e
}

func logValues(e *log.Entry, dir string, h http.Header) {
	for _, name := range slices.Sorted(maps.Keys(h)) {
		for _, v := range h[name] {
			e.Tracef("%s %s: %s", dir, name, v)
		}
	}
}
