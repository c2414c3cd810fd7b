package claimheader

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zalando/claimheader/filters"
	"github.com/zalando/claimheader/filters/auth"
	"github.com/zalando/claimheader/filters/builtin"
	"github.com/zalando/claimheader/filters/diag"
	"github.com/zalando/claimheader/filters/flowid"
	logfilter "github.com/zalando/claimheader/filters/log"
	"github.com/zalando/claimheader/logging"
	"github.com/zalando/claimheader/metrics"
	"github.com/zalando/claimheader/otel"
	"github.com/zalando/claimheader/proxy"
)

const (
	DefaultAddress         = ":9090"
	DefaultSupportListener = ":9911"
	DefaultMetricsPrefix   = "claimheader."

	serviceName = "claimheader"
)

// Options to start the proxy with.
type Options struct {
	// Network address that the proxy listens on.
	Address string

	// Network address of the support endpoints, /metrics and /health.
	// When empty, the support listener is not started.
	SupportListener string

	// Address of the backend, where the accepted requests are
	// forwarded.
	Backend string

	// When set, the Host header of the incoming requests is sent to
	// the backend.
	ProxyPreserveHost bool

	// When set, the TLS certificate of the backend is not verified.
	Insecure bool

	// Configuration of the jwtClaimHeader filter, a JSON object with
	// the claim and the header fields.
	FilterConfig string

	// Maximum length of the accepted tokens. When zero,
	// jwt.DefaultMaxTokenSize is used.
	MaxTokenSize int

	// When set, the X-Flow-Id header is not set on the requests.
	DisableFlowId bool

	// When set, valid incoming flow ids are kept.
	FlowIdReuse bool

	// Generator of the flow ids: ulid or uuid. When empty,
	// ulid is used.
	FlowIdGenerator string

	// When set, an audit log entry is printed for every request, with
	// the accepted user or the reject reason.
	EnableAuditLog bool

	// Maximum number of request body bytes printed in the audit log.
	MaxAuditBody int

	// When set, the headers of the requests and the responses are
	// logged at trace level of the application log.
	LogHeaders bool

	// Headers appended to the requests forwarded to the backend.
	RequestHeaders http.Header

	// Headers appended to the responses, including the rejections.
	ResponseHeaders http.Header

	// Additional filter specifications available for the filter
	// registry.
	CustomFilters []filters.Spec

	// Timeouts and limits of the proxy server connections.
	ReadTimeoutServer       time.Duration
	ReadHeaderTimeoutServer time.Duration
	WriteTimeoutServer      time.Duration
	IdleTimeoutServer       time.Duration
	MaxHeaderBytes          int

	// Settings of the backend connections.
	TimeoutBackend               time.Duration
	KeepAliveBackend             time.Duration
	ResponseHeaderTimeoutBackend time.Duration
	MaxIdleConnsBackend          int
	BackendFlushInterval         time.Duration

	// Period to wait after the shutdown signal, while the health
	// endpoint already reports unhealthy, before the listeners are
	// closed.
	WaitForHealthcheckInterval time.Duration

	// Output file of the application log. When empty, os.Stderr is
	// used.
	ApplicationLogOutput string

	// Application log level, when zero, the level is not changed.
	ApplicationLogLevel log.Level

	// Prefix of the application log entries.
	ApplicationLogPrefix string

	// When set, the application log is printed in JSON format.
	ApplicationLogJSONEnabled bool

	// Output file of the access log. When empty, os.Stderr is used.
	AccessLogOutput string

	// When set, no access log is printed.
	AccessLogDisabled bool

	// When set, the access log is printed in JSON format.
	AccessLogJSONEnabled bool

	// Prefix of the metrics, "claimheader." by default.
	MetricsPrefix string

	// When set, the Go runtime and process metrics are exposed.
	EnableRuntimeMetrics bool

	// Buckets of the histogram metrics.
	HistogramMetricBuckets []float64

	// Registry of the Prometheus metrics. When nil, a new registry
	// is used.
	PrometheusRegistry *prometheus.Registry

	// OpenTelemetry configuration, when nil, the global tracer
	// provider is used as is.
	OpenTelemetry *otel.Options

	// Name of the server span, "ingress" by default.
	OpenTelemetryInitialSpan string

	// When set, the start and end of the filters are recorded as
	// events of the server span.
	LogFilterEvents bool
}

type closers []io.Closer

func (cs closers) Close() error {
	var err error
	for _, c := range cs {
		err = errors.Join(err, c.Close())
	}

	return err
}

func openLogFile(name string) (*os.File, error) {
	return os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
}

func initLog(o Options) (io.Closer, error) {
	var (
		files           closers
		logOutput       io.Writer
		accessLogOutput io.Writer
	)

	if o.ApplicationLogOutput != "" {
		f, err := openLogFile(o.ApplicationLogOutput)
		if err != nil {
			return nil, err
		}

		files = append(files, f)
		logOutput = f
	}

	if !o.AccessLogDisabled && o.AccessLogOutput != "" {
		f, err := openLogFile(o.AccessLogOutput)
		if err != nil {
			files.Close()
			return nil, err
		}

		files = append(files, f)
		accessLogOutput = f
	}

	logging.Init(logging.Options{
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogOutput:      logOutput,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		AccessLogOutput:           accessLogOutput,
		AccessLogDisabled:         o.AccessLogDisabled,
		AccessLogJSONEnabled:      o.AccessLogJSONEnabled,
	})

	return files, nil
}

func createRegistry(o Options) (filters.Registry, error) {
	g := flowid.NewULIDGenerator()
	if o.FlowIdGenerator != "" {
		var ok bool
		if g, ok = flowid.GeneratorByName(o.FlowIdGenerator); !ok {
			return nil, fmt.Errorf("unknown flow id generator: %s", o.FlowIdGenerator)
		}
	}

	registry := make(filters.Registry)
	registry.Register(flowid.NewWithGenerator(g))
	registry.Register(logfilter.NewAuditLog(o.MaxAuditBody))
	registry.Register(diag.NewLogHeader())
	registry.Register(builtin.NewSetRequestHeader())
	registry.Register(builtin.NewAppendRequestHeader())
	registry.Register(builtin.NewSetResponseHeader())
	registry.Register(builtin.NewAppendResponseHeader())
	registry.Register(auth.NewJwtClaimHeaderWithOptions(auth.JwtClaimHeaderOptions{
		MaxTokenSize: o.MaxTokenSize,
	}))

	for _, s := range o.CustomFilters {
		registry.Register(s)
	}

	return registry, nil
}

// createFilters creates the filters of the proxy, in the order of
// execution.
func createFilters(o Options, registry filters.Registry) ([]*proxy.RouteFilter, error) {
	type filterDef struct {
		name string
		args []any
	}

	var defs []filterDef
	if !o.DisableFlowId {
		var args []any
		if o.FlowIdReuse {
			args = append(args, flowid.ReuseParameterValue)
		}

		defs = append(defs, filterDef{filters.FlowIdName, args})
	}

	if o.LogHeaders {
		defs = append(defs, filterDef{filters.LogHeaderName, nil})
	}

	if o.EnableAuditLog {
		defs = append(defs, filterDef{logfilter.AuditLogName, nil})
	}

	for _, h := range []struct {
		name   string
		header http.Header
	}{
		{filters.AppendRequestHeaderName, o.RequestHeaders},
		{filters.AppendResponseHeaderName, o.ResponseHeaders},
	} {
		for _, key := range slices.Sorted(maps.Keys(h.header)) {
			for _, value := range h.header[key] {
				defs = append(defs, filterDef{h.name, []any{key, value}})
			}
		}
	}

	defs = append(defs, filterDef{filters.JwtClaimHeaderName, []any{o.FilterConfig}})

	var fs []*proxy.RouteFilter
	for _, d := range defs {
		f, err := registry.CreateFilter(d.name, d.args...)
		if err != nil {
			return nil, err
		}

		fs = append(fs, &proxy.RouteFilter{Filter: f, Name: d.name})
	}

	return fs, nil
}

func newTransport(o Options) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   o.TimeoutBackend,
		KeepAlive: o.KeepAliveBackend,
	}).DialContext
	t.ResponseHeaderTimeout = o.ResponseHeaderTimeoutBackend
	if o.MaxIdleConnsBackend > 0 {
		t.MaxIdleConns = o.MaxIdleConnsBackend
	}

	if o.Insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return t
}

func newMetrics(o Options) *metrics.Prometheus {
	prefix := o.MetricsPrefix
	if prefix == "" {
		prefix = DefaultMetricsPrefix
	}

	return metrics.NewPrometheus(metrics.Options{
		Prefix:               prefix,
		EnableRuntimeMetrics: o.EnableRuntimeMetrics,
		HistogramBuckets:     o.HistogramMetricBuckets,
		PrometheusRegistry:   o.PrometheusRegistry,
	})
}

func newSupportServer(address string, m metrics.Metrics, healthy *atomic.Bool) *http.Server {
	mux := http.NewServeMux()
	m.RegisterHandler("/metrics", mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "OK\n")
	})

	return &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: time.Minute,
	}
}

func listenAndServe(s *http.Server, name string) error {
	log.Infof("%s listener on %v", name, s.Addr)
	if err := s.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s listener: %w", name, err)
	}

	return nil
}

// Run starts the proxy with the provided options. It blocks until the
// process receives SIGTERM or SIGINT, and the servers are shut down, or
// until one of the listeners fails.
func Run(o Options) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(sigs)
	return RunWithShutdown(o, sigs)
}

// RunWithShutdown is like Run, but the shutdown is triggered by any
// value received from the sig channel.
func RunWithShutdown(o Options, sig <-chan os.Signal) error {
	logFiles, err := initLog(o)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logFiles.Close()

	if o.OpenTelemetry != nil {
		shutdownOtel, err := otel.Init(context.Background(), o.OpenTelemetry)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}

		defer func() {
			if err := shutdownOtel(context.Background()); err != nil {
				log.Errorf("failed to shut down OpenTelemetry: %v", err)
			}
		}()
	}

	backend, err := url.Parse(o.Backend)
	if err != nil {
		return fmt.Errorf("%w: %v", proxy.ErrInvalidBackend, err)
	}

	registry, err := createRegistry(o)
	if err != nil {
		return err
	}

	fs, err := createFilters(o, registry)
	if err != nil {
		return err
	}

	m := newMetrics(o)
	defer m.Close()

	p, err := proxy.New(proxy.Options{
		Backend:           backend,
		Filters:           fs,
		Metrics:           m,
		InitialSpan:       o.OpenTelemetryInitialSpan,
		LogFilterEvents:   o.LogFilterEvents,
		PreserveHost:      o.ProxyPreserveHost,
		AccessLogDisabled: o.AccessLogDisabled,
		Transport:         newTransport(o),
		FlushInterval:     o.BackendFlushInterval,
	})
	if err != nil {
		return err
	}

	address := o.Address
	if address == "" {
		address = DefaultAddress
	}

	servers := []*http.Server{{
		Addr:              address,
		Handler:           p,
		ReadTimeout:       o.ReadTimeoutServer,
		ReadHeaderTimeout: o.ReadHeaderTimeoutServer,
		WriteTimeout:      o.WriteTimeoutServer,
		IdleTimeout:       o.IdleTimeoutServer,
		MaxHeaderBytes:    o.MaxHeaderBytes,
	}}

	var healthy atomic.Bool
	healthy.Store(true)
	if o.SupportListener != "" {
		servers = append(servers, newSupportServer(o.SupportListener, m, &healthy))
	}

	g, ctx := errgroup.WithContext(context.Background())
	names := []string{"proxy", "support"}
	for i, s := range servers {
		g.Go(func() error { return listenAndServe(s, names[i]) })
	}

	g.Go(func() error {
		select {
		case <-sig:
			healthy.Store(false)
			log.Infof("shutting down the server in %s...", o.WaitForHealthcheckInterval)
			time.Sleep(o.WaitForHealthcheckInterval)
		case <-ctx.Done():
		}

		for _, s := range servers {
			if err := s.Shutdown(context.Background()); err != nil {
				log.Errorf("unable to shut down the server: %v", err)
			}
		}

		log.Info("server shut down")
		return nil
	})

	return g.Wait()
}
