package metricstest

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Keys of the measures recorded by the mock for the proxy methods.
const (
	KeyFilterRequest  = "filter.%s.request"
	KeyFilterResponse = "filter.%s.response"
	KeyBackend        = "backend.%s"
	KeyBackendErrors  = "errors.backend.%s"
	KeyServe          = "serve.%s.%s.%d"
)

type MockMetrics struct {
	Prefix string

	mu sync.Mutex

	// Metrics gathering
	counters map[string]int64
	measures map[string][]time.Duration
	Now      time.Time
}

//
// Public thread safe access to metrics
//

func (m *MockMetrics) WithCounters(f func(counters map[string]int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]int64)
	}
	f(m.counters)
}

func (m *MockMetrics) WithMeasures(f func(measures map[string][]time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.measures == nil {
		m.measures = make(map[string][]time.Duration)
	}
	f(m.measures)
}

//
// Interface Metrics
//

func (m *MockMetrics) since(start time.Time) time.Duration {
	now := m.Now
	if now.IsZero() {
		now = time.Now()
	}

	return now.Sub(start)
}

func (m *MockMetrics) measure(key string, start time.Time) {
	d := m.since(start)
	m.WithMeasures(func(measures map[string][]time.Duration) {
		measures[key] = append(measures[key], d)
	})
}

func (m *MockMetrics) MeasureSince(key string, start time.Time) {
	m.measure(m.Prefix+key, start)
}

func (m *MockMetrics) IncCounter(key string) {
	m.IncCounterBy(key, 1)
}

func (m *MockMetrics) IncCounterBy(key string, value int64) {
	key = m.Prefix + key
	m.WithCounters(func(counters map[string]int64) {
		counters[key] += value
	})
}

func (m *MockMetrics) MeasureFilterRequest(filterName string, start time.Time) {
	m.measure(fmt.Sprintf(KeyFilterRequest, filterName), start)
}

func (m *MockMetrics) MeasureFilterResponse(filterName string, start time.Time) {
	m.measure(fmt.Sprintf(KeyFilterResponse, filterName), start)
}

func (m *MockMetrics) MeasureBackend(host string, start time.Time) {
	m.measure(fmt.Sprintf(KeyBackend, host), start)
}

func (m *MockMetrics) MeasureServe(host, method string, code int, start time.Time) {
	m.measure(fmt.Sprintf(KeyServe, host, method, code), start)
}

func (m *MockMetrics) IncErrorsBackend(host string) {
	key := fmt.Sprintf(KeyBackendErrors, host)
	m.WithCounters(func(counters map[string]int64) {
		counters[key]++
	})
}

func (*MockMetrics) RegisterHandler(path string, handler *http.ServeMux) {
	panic("implement me")
}

func (*MockMetrics) Close() {}

func (m *MockMetrics) Counter(key string) (v int64, ok bool) {
	m.WithCounters(func(counters map[string]int64) {
		v, ok = counters[key]
	})

	return
}

func (m *MockMetrics) Measure(key string) (d []time.Duration, ok bool) {
	m.WithMeasures(func(measures map[string][]time.Duration) {
		d, ok = measures[key]
	})

	return
}
