/*
Package metrics implements collection of the proxy performance metrics.

The collected metrics include the time spent in the request and response
phase of every filter, the time waiting for the backend response, the
backend errors and the total serve time per host. Filters can record
custom counters and durations, their keys are prefixed with the name of
the filter, e.g. jwtClaimHeader.forward.

The metrics are exposed in the Prometheus format on the support listener,
on the /metrics path.
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the generic interface that all the required backends
// should implement to be a metrics backend.
type Metrics interface {
	// Implements the filters.Metrics interface.
	MeasureSince(key string, start time.Time)
	IncCounter(key string)
	IncCounterBy(key string, value int64)

	// Additional methods used by the proxy.
	MeasureFilterRequest(filterName string, start time.Time)
	MeasureFilterResponse(filterName string, start time.Time)
	MeasureBackend(host string, start time.Time)
	MeasureServe(host, method string, code int, start time.Time)
	IncErrorsBackend(host string)
	RegisterHandler(path string, handler *http.ServeMux)
	Close()
}

// Options for initializing metrics collection.
type Options struct {
	// Common prefix for the keys of the different collected metrics.
	// When empty, claimheader is used.
	Prefix string

	// If set, the Go runtime and process metrics are collected in
	// addition to the http traffic metrics.
	EnableRuntimeMetrics bool

	// HistogramBuckets defines buckets into which the observations
	// are counted. When not set, prometheus.DefBuckets is used.
	HistogramBuckets []float64

	// PrometheusRegistry is the registry used to register the
	// metrics. When not set, a new registry is created.
	PrometheusRegistry *prometheus.Registry
}

// Void is a noop metrics backend, used when no backend is configured.
var Void Metrics = voidMetrics{}

type voidMetrics struct{}

func (voidMetrics) MeasureSince(string, time.Time)              {}
func (voidMetrics) IncCounter(string)                           {}
func (voidMetrics) IncCounterBy(string, int64)                  {}
func (voidMetrics) MeasureFilterRequest(string, time.Time)      {}
func (voidMetrics) MeasureFilterResponse(string, time.Time)     {}
func (voidMetrics) MeasureBackend(string, time.Time)            {}
func (voidMetrics) MeasureServe(string, string, int, time.Time) {}
func (voidMetrics) IncErrorsBackend(string)                     {}
func (voidMetrics) RegisterHandler(string, *http.ServeMux)      {}
func (voidMetrics) Close()                                      {}
