// Package filtertest implements mock versions of the Filter, Spec and
// FilterContext interfaces used during tests.
package filtertest

import (
	"net/http"
	"time"

	"github.com/zalando/claimheader/filters"
)

// Filter is a simple filter spec implementation that can be used to
// check the filter arguments and the calls to the filter.
type Filter struct {
	FilterName string
	Args       []any
}

// Context is a simple filter context implementation. When FMetrics is
// nil, Metrics returns a handler that discards everything.
type Context struct {
	FResponseWriter http.ResponseWriter
	FRequest        *http.Request
	FResponse       *http.Response
	FServed         bool
	FStateBag       map[string]any
	FMetrics        filters.Metrics
}

type discardMetrics struct{}

func (spec *Filter) Name() string                    { return spec.FilterName }
func (f *Filter) Request(ctx filters.FilterContext)  {}
func (f *Filter) Response(ctx filters.FilterContext) {}

func (spec *Filter) CreateFilter(config []any) (filters.Filter, error) {
	return &Filter{spec.FilterName, config}, nil
}

func (fc *Context) ResponseWriter() http.ResponseWriter { return fc.FResponseWriter }
func (fc *Context) Request() *http.Request              { return fc.FRequest }
func (fc *Context) Response() *http.Response            { return fc.FResponse }
func (fc *Context) Served() bool                        { return fc.FServed }

func (fc *Context) StateBag() map[string]any {
	if fc.FStateBag == nil {
		fc.FStateBag = make(map[string]any)
	}
	return fc.FStateBag
}

func (fc *Context) Serve(resp *http.Response) {
	fc.FServed = true
	fc.FResponse = resp
}

func (fc *Context) Metrics() filters.Metrics {
	if fc.FMetrics == nil {
		return discardMetrics{}
	}
	return fc.FMetrics
}

func (discardMetrics) MeasureSince(string, time.Time) {}
func (discardMetrics) IncCounter(string)              {}
func (discardMetrics) IncCounterBy(string, int64)     {}
