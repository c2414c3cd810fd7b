package proxy

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/zalando/claimheader/filters"
	"github.com/zalando/claimheader/metrics"
)

type context struct {
	responseWriter     http.ResponseWriter
	request            *http.Request
	response           *http.Response
	servedWithResponse bool
	stateBag           map[string]any
	metrics            *filterMetrics
	startServe         time.Time
	startBackend       time.Time

	// request filters that were executed, their response phase runs
	// in reverse order
	appliedFilters []*RouteFilter
}

type filterMetrics struct {
	prefix string
	impl   metrics.Metrics
}

func defaultBody() io.ReadCloser {
	return io.NopCloser(&bytes.Buffer{})
}

func newContext(w http.ResponseWriter, r *http.Request, m metrics.Metrics) *context {
	return &context{
		responseWriter: w,
		request:        r,
		stateBag:       make(map[string]any),
		metrics:        &filterMetrics{impl: m},
		startServe:     time.Now(),
	}
}

func (c *context) ResponseWriter() http.ResponseWriter { return c.responseWriter }
func (c *context) Request() *http.Request              { return c.request }
func (c *context) Response() *http.Response            { return c.response }
func (c *context) Served() bool                        { return c.servedWithResponse }
func (c *context) StateBag() map[string]any            { return c.stateBag }
func (c *context) Metrics() filters.Metrics            { return c.metrics }

func (c *context) Serve(r *http.Response) {
	r.Request = c.Request()

	if r.Header == nil {
		r.Header = make(http.Header)
	}

	if r.Body == nil {
		r.Body = defaultBody()
	}

	c.servedWithResponse = true
	c.response = r
}

func (c *context) setMetricsPrefix(filterName string) {
	c.metrics.prefix = filterName + "."
}

func (c *context) metricsHost() string {
	return c.request.Host
}

func (m *filterMetrics) MeasureSince(key string, start time.Time) {
	m.impl.MeasureSince(m.prefix+key, start)
}

func (m *filterMetrics) IncCounter(key string) {
	m.impl.IncCounter(m.prefix + key)
}

func (m *filterMetrics) IncCounterBy(key string, value int64) {
	m.impl.IncCounterBy(m.prefix+key, value)
}
