package proxy_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/zalando/claimheader/filters"
	"github.com/zalando/claimheader/filters/auth"
	"github.com/zalando/claimheader/filters/flowid"
	"github.com/zalando/claimheader/logging"
	"github.com/zalando/claimheader/logging/loggingtest"
	"github.com/zalando/claimheader/metrics/metricstest"
	"github.com/zalando/claimheader/proxy"
	"github.com/zalando/claimheader/proxy/backendtest"
)

const testPayload = `{"sub":"1234567890","name":"John Doe","iat":1516239022}`

func testToken(payload string) string {
	return "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
		base64.RawURLEncoding.EncodeToString([]byte(payload)) +
		".SflKxwRJSMeKKF2QT4fwpMeJf36POk6yJV_adQssw5c"
}

type orderSpec struct {
	name  string
	mu    *sync.Mutex
	calls *[]string
}

type orderFilter struct {
	orderSpec
}

type panicFilter struct{}

func (s orderSpec) Name() string { return s.name }

func (s orderSpec) CreateFilter([]any) (filters.Filter, error) {
	return &orderFilter{s}, nil
}

func (f *orderFilter) record(phase string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.calls = append(*f.calls, f.name+"."+phase)
}

func (f *orderFilter) Request(filters.FilterContext)  { f.record("request") }
func (f *orderFilter) Response(filters.FilterContext) { f.record("response") }

func (panicFilter) Request(filters.FilterContext)  { panic("filter failure") }
func (panicFilter) Response(filters.FilterContext) {}

func mustParse(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func jwtClaimHeader(t *testing.T, args ...any) *proxy.RouteFilter {
	t.Helper()
	f, err := auth.NewJwtClaimHeader().CreateFilter(args)
	require.NoError(t, err)
	return &proxy.RouteFilter{Filter: f, Name: filters.JwtClaimHeaderName}
}

func flowId(t *testing.T) *proxy.RouteFilter {
	t.Helper()
	f, err := flowid.New().CreateFilter(nil)
	require.NoError(t, err)
	return &proxy.RouteFilter{Filter: f, Name: filters.FlowIdName}
}

func newProxy(t *testing.T, o proxy.Options) *proxy.Proxy {
	t.Helper()
	p, err := proxy.New(o)
	require.NoError(t, err)
	return p
}

func TestNewInvalidBackend(t *testing.T) {
	for _, backend := range []string{"", "/relative", "ftp://example.org", "http://"} {
		t.Run(backend, func(t *testing.T) {
			var u *url.URL
			if backend != "" {
				u = mustParse(t, backend)
			}

			_, err := proxy.New(proxy.Options{Backend: u})
			assert.ErrorIs(t, err, proxy.ErrInvalidBackend)
		})
	}
}

func TestJwtClaimHeaderDecisions(t *testing.T) {
	for _, tc := range []struct {
		msg         string
		auth        string
		status      int
		body        string
		forwarded   bool
		injected    string
		invalidMark bool
	}{{
		msg:    "no authorization header",
		status: http.StatusForbidden,
		body:   "Access forbidden.\n",
	}, {
		msg:         "not a bearer token",
		auth:        "Basic dXNlcjpwYXNz",
		status:      http.StatusBadRequest,
		body:        "invalid auth header",
		invalidMark: true,
	}, {
		msg:         "malformed token",
		auth:        "Bearer not-a-jwt",
		status:      http.StatusBadRequest,
		body:        "invalid jwt auth header: malformed token: expected 3 segments",
		invalidMark: true,
	}, {
		msg:         "claim not found",
		auth:        "Bearer " + testToken(`{"name":"John Doe"}`),
		status:      http.StatusBadRequest,
		body:        "claim not found",
		invalidMark: true,
	}, {
		msg:         "claim with line break",
		auth:        "Bearer " + testToken(`{"sub":"alice\r\nX-Admin: true"}`),
		status:      http.StatusBadRequest,
		body:        "invalid claim value",
		invalidMark: true,
	}, {
		msg:       "forwarded with the claim",
		auth:      "Bearer " + testToken(testPayload),
		status:    http.StatusOK,
		body:      "Hello",
		forwarded: true,
		injected:  "1234567890",
	}} {
		t.Run(tc.msg, func(t *testing.T) {
			backend := backendtest.NewBackendRecorder()
			defer backend.Close()

			p := newProxy(t, proxy.Options{
				Backend: mustParse(t, backend.GetURL()),
				Filters: []*proxy.RouteFilter{jwtClaimHeader(t, "sub", "X-User-Id")},
			})

			s := httptest.NewServer(p)
			defer s.Close()

			req, err := http.NewRequest("POST", s.URL+"/api/resource?q=1", strings.NewReader("Hello"))
			require.NoError(t, err)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}

			rsp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer rsp.Body.Close()

			b, err := io.ReadAll(rsp.Body)
			require.NoError(t, err)

			assert.Equal(t, tc.status, rsp.StatusCode)
			assert.Equal(t, tc.body, string(b))
			if tc.invalidMark {
				assert.Equal(t, auth.InvalidHeaderValue, rsp.Header.Get(auth.InvalidHeaderName))
			} else {
				assert.Empty(t, rsp.Header.Get(auth.InvalidHeaderName))
			}

			requests := backend.GetRequests()
			if !tc.forwarded {
				assert.Empty(t, requests)
				return
			}

			require.Len(t, requests, 1)
			assert.Equal(t, "/api/resource", requests[0].URL.Path)
			assert.Equal(t, "q=1", requests[0].URL.RawQuery)
			assert.Equal(t, []string{tc.injected}, requests[0].Header.Values("X-User-Id"))
			assert.Equal(t, tc.auth, requests[0].Header.Get("Authorization"))
			assert.NotEmpty(t, requests[0].Header.Get("X-Forwarded-For"))
		})
	}
}

func TestExistingHeaderValuesArePreserved(t *testing.T) {
	backend := backendtest.NewBackendRecorder()
	defer backend.Close()

	p := newProxy(t, proxy.Options{
		Backend: mustParse(t, backend.GetURL()),
		Filters: []*proxy.RouteFilter{jwtClaimHeader(t, `{"claim": "sub", "header": "x-user-id"}`)},
	})

	req := httptest.NewRequest("GET", "http://www.example.org/", nil)
	req.Header.Set("Authorization", "Bearer "+testToken(testPayload))
	req.Header.Set("X-User-Id", "spoofed")

	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	requests := backend.GetRequests()
	require.Len(t, requests, 1)
	values := requests[0].Header.Values("X-User-Id")
	assert.Equal(t, []string{"spoofed", "1234567890"}, values)

	// the claim is the last value, the first one is the client's
	assert.Equal(t, "1234567890", values[len(values)-1])
	assert.Equal(t, "spoofed", requests[0].Header.Get("X-User-Id"))
}

func TestBackendPathAndHost(t *testing.T) {
	for _, tc := range []struct {
		msg          string
		preserveHost bool
	}{{
		msg: "backend host",
	}, {
		msg:          "preserved host",
		preserveHost: true,
	}} {
		t.Run(tc.msg, func(t *testing.T) {
			backend := backendtest.NewBackendRecorder()
			defer backend.Close()

			backendURL := mustParse(t, backend.GetURL()+"/base")
			p := newProxy(t, proxy.Options{Backend: backendURL, PreserveHost: tc.preserveHost})

			req := httptest.NewRequest("GET", "http://www.example.org/foo", nil)
			w := httptest.NewRecorder()
			p.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			requests := backend.GetRequests()
			require.Len(t, requests, 1)
			assert.Equal(t, "/base/foo", requests[0].URL.Path)
			if tc.preserveHost {
				assert.Equal(t, "www.example.org", requests[0].Host)
			} else {
				assert.Equal(t, backendURL.Host, requests[0].Host)
			}
		})
	}
}

func TestBackendUnavailable(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	backendURL := mustParse(t, backend.URL)
	backend.Close()

	tl := loggingtest.New()
	defer tl.Close()

	m := &metricstest.MockMetrics{}
	p := newProxy(t, proxy.Options{Backend: backendURL, Metrics: m, Log: tl})

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest("GET", "http://www.example.org/", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NoError(t, tl.WaitFor("error while proxying to backend", 100*time.Millisecond))

	v, ok := m.Counter(fmt.Sprintf(metricstest.KeyBackendErrors, backendURL.Host))
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)

	_, ok = m.Measure(fmt.Sprintf(metricstest.KeyServe, "www.example.org", "GET", http.StatusBadGateway))
	assert.True(t, ok)
}

func TestFilterOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)

	spec := func(name string) *proxy.RouteFilter {
		f, _ := orderSpec{name: name, mu: &mu, calls: &calls}.CreateFilter(nil)
		return &proxy.RouteFilter{Filter: f, Name: name}
	}

	backend := backendtest.NewBackendRecorder()
	defer backend.Close()

	p := newProxy(t, proxy.Options{
		Backend: mustParse(t, backend.GetURL()),
		Filters: []*proxy.RouteFilter{spec("first"), spec("second"), spec("third")},
	})

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest("GET", "http://www.example.org/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{
		"first.request", "second.request", "third.request",
		"third.response", "second.response", "first.response",
	}, calls)
}

func TestServedRequestSkipsRemainingFilters(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)

	before, _ := orderSpec{name: "before", mu: &mu, calls: &calls}.CreateFilter(nil)
	after, _ := orderSpec{name: "after", mu: &mu, calls: &calls}.CreateFilter(nil)

	backend := backendtest.NewBackendRecorder()
	defer backend.Close()

	p := newProxy(t, proxy.Options{
		Backend: mustParse(t, backend.GetURL()),
		Filters: []*proxy.RouteFilter{
			{Filter: before, Name: "before"},
			jwtClaimHeader(t, "sub", "X-User-Id"),
			{Filter: after, Name: "after"},
		},
	})

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest("GET", "http://www.example.org/", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, []string{"before.request", "before.response"}, calls)
	assert.Empty(t, backend.GetRequests())
}

func TestFilterPanicIsRecovered(t *testing.T) {
	backend := backendtest.NewBackendRecorder()
	defer backend.Close()

	tl := loggingtest.New()
	defer tl.Close()

	p := newProxy(t, proxy.Options{
		Backend: mustParse(t, backend.GetURL()),
		Filters: []*proxy.RouteFilter{{Filter: panicFilter{}, Name: "panic"}},
		Log:     tl,
	})

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest("GET", "http://www.example.org/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, tl.WaitFor("error while processing filter during request: panic: filter failure", 100*time.Millisecond))
	assert.Len(t, backend.GetRequests(), 1)
}

func TestFilterMetrics(t *testing.T) {
	backend := backendtest.NewBackendRecorder()
	defer backend.Close()

	m := &metricstest.MockMetrics{}
	p := newProxy(t, proxy.Options{
		Backend: mustParse(t, backend.GetURL()),
		Filters: []*proxy.RouteFilter{jwtClaimHeader(t, "sub", "X-User-Id")},
		Metrics: m,
	})

	for _, header := range []string{"", "Token foo", "Bearer " + testToken(testPayload)} {
		req := httptest.NewRequest("GET", "http://www.example.org/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}

		p.ServeHTTP(httptest.NewRecorder(), req)
	}

	m.WithCounters(func(counters map[string]int64) {
		assert.Equal(t, map[string]int64{
			"jwtClaimHeader.missing-token":      1,
			"jwtClaimHeader.invalid-token-type": 1,
			"jwtClaimHeader.forward":            1,
		}, counters)
	})

	for _, key := range []string{
		fmt.Sprintf(metricstest.KeyFilterRequest, filters.JwtClaimHeaderName),
		fmt.Sprintf(metricstest.KeyFilterResponse, filters.JwtClaimHeaderName),
		fmt.Sprintf(metricstest.KeyBackend, mustParse(t, backend.GetURL()).Host),
		fmt.Sprintf(metricstest.KeyServe, "www.example.org", "GET", http.StatusForbidden),
		fmt.Sprintf(metricstest.KeyServe, "www.example.org", "GET", http.StatusBadRequest),
		fmt.Sprintf(metricstest.KeyServe, "www.example.org", "GET", http.StatusOK),
	} {
		_, ok := m.Measure(key)
		assert.True(t, ok, key)
	}
}

func spanAttributes(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		attrs[kv.Key] = kv.Value
	}

	return attrs
}

func TestTracing(t *testing.T) {
	backend := backendtest.NewBackendRecorder()
	defer backend.Close()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	p := newProxy(t, proxy.Options{
		Backend:         mustParse(t, backend.GetURL()),
		Filters:         []*proxy.RouteFilter{flowId(t), jwtClaimHeader(t, "sub", "X-User-Id")},
		Tracer:          tp.Tracer("test"),
		LogFilterEvents: true,
	})

	req := httptest.NewRequest("GET", "http://www.example.org/", nil)
	req.Header.Set("Authorization", "Bearer "+testToken(`{"name":"John Doe"}`))
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	spans := sr.Ended()
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, proxy.DefaultInitialSpan, s.Name())
	assert.Equal(t, trace.SpanKindServer, s.SpanKind())

	attrs := spanAttributes(s)
	assert.Equal(t, int64(http.StatusBadRequest), attrs[proxy.HTTPStatusCodeTag].AsInt64())
	assert.Equal(t, "GET", attrs[proxy.HTTPMethodTag].AsString())
	assert.Equal(t, "missing-claim", attrs[proxy.RejectReasonTag].AsString())
	assert.NotEmpty(t, attrs[proxy.FlowIDTag].AsString())

	var events []string
	for _, e := range s.Events() {
		events = append(events, e.Name)
	}

	assert.Equal(t, []string{
		proxy.RequestFiltersEvent, proxy.RequestFiltersEvent,
		proxy.RequestFiltersEvent, proxy.RequestFiltersEvent,
		proxy.ResponseFiltersEvent, proxy.ResponseFiltersEvent,
		proxy.ResponseFiltersEvent, proxy.ResponseFiltersEvent,
	}, events)
}

func TestTracingCustomInitialSpan(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	defer backend.Close()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	p := newProxy(t, proxy.Options{
		Backend:     mustParse(t, backend.URL),
		Tracer:      tp.Tracer("test"),
		InitialSpan: "claimheader",
	})

	p.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "http://www.example.org/", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "claimheader", spans[0].Name())
	assert.Equal(t, int64(http.StatusNotFound), spanAttributes(spans[0])[proxy.HTTPStatusCodeTag].AsInt64())
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Options{
		ApplicationLogOutput: io.Discard,
		AccessLogOutput:      &buf,
		AccessLogJSONEnabled: true,
	})
	defer logging.Init(logging.Options{AccessLogDisabled: true})

	backend := backendtest.NewBackendRecorder()
	defer backend.Close()

	p := newProxy(t, proxy.Options{
		Backend: mustParse(t, backend.GetURL()),
		Filters: []*proxy.RouteFilter{flowId(t), jwtClaimHeader(t, "sub", "X-User-Id")},
	})

	for _, header := range []string{"Bearer " + testToken(testPayload), "Token foo"} {
		req := httptest.NewRequest("GET", "/foo", nil)
		req.Header.Set("Authorization", header)
		p.ServeHTTP(httptest.NewRecorder(), req)
	}

	dec := json.NewDecoder(&buf)

	var forwarded map[string]any
	require.NoError(t, dec.Decode(&forwarded))
	assert.Equal(t, "1234567890", forwarded["auth-user"])
	assert.Equal(t, float64(http.StatusOK), forwarded["status"])
	assert.Equal(t, "/foo", forwarded["uri"])
	assert.NotEmpty(t, forwarded["flow-id"])
	assert.NotContains(t, forwarded, "auth-reject-reason")

	var rejected map[string]any
	require.NoError(t, dec.Decode(&rejected))
	assert.Equal(t, "-", rejected["auth-user"])
	assert.Equal(t, float64(http.StatusBadRequest), rejected["status"])
	assert.Equal(t, "invalid-token-type", rejected["auth-reject-reason"])
}

func TestAccessLogDisabled(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Options{
		ApplicationLogOutput: io.Discard,
		AccessLogOutput:      &buf,
	})
	defer logging.Init(logging.Options{AccessLogDisabled: true})

	backend := backendtest.NewBackendRecorder()
	defer backend.Close()

	p := newProxy(t, proxy.Options{Backend: mustParse(t, backend.GetURL()), AccessLogDisabled: true})
	p.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "http://www.example.org/", nil))

	assert.Empty(t, buf.String())
}
