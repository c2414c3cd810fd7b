package config

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/claimheader"
	"github.com/zalando/claimheader/filters/auth"
	"github.com/zalando/claimheader/filters/flowid"
	"github.com/zalando/claimheader/jwt"
	"github.com/zalando/claimheader/otel"
	"github.com/zalando/claimheader/proxy"
)

const filterConfigEnv = "CLAIMHEADER_FILTER_CONFIG"

var (
	errMissingBackend      = errors.New("missing backend")
	errMissingFilterConfig = errors.New("missing filter configuration, use -filter-config, -filter-config-file or " + filterConfigEnv)
	errDuplicateConfig     = errors.New("only one of -filter-config and -filter-config-file can be set")
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address                    string        `yaml:"address"`
	SupportListener            string        `yaml:"support-listener"`
	Backend                    string        `yaml:"backend"`
	ProxyPreserveHost          bool          `yaml:"proxy-preserve-host"`
	Insecure                   bool          `yaml:"insecure"`
	WaitForHealthcheckInterval time.Duration `yaml:"wait-for-healthcheck-interval"`

	// jwtClaimHeader:
	FilterConfig     string `yaml:"filter-config"`
	FilterConfigFile string `yaml:"filter-config-file"`
	MaxTokenSize     int    `yaml:"max-token-size"`
	EnableAuditLog   bool   `yaml:"enable-audit-log"`
	MaxAuditBody     int    `yaml:"max-audit-body"`

	// header diagnostics:
	LogHeaders      bool       `yaml:"log-headers"`
	RequestHeaders  headerFlag `yaml:"request-headers"`
	ResponseHeaders headerFlag `yaml:"response-headers"`

	// flow id:
	DisableFlowId   bool   `yaml:"disable-flow-id"`
	FlowIdReuse     bool   `yaml:"flow-id-reuse"`
	FlowIdGenerator string `yaml:"flow-id-generator"`

	// connections:
	ReadTimeoutServer            time.Duration `yaml:"read-timeout-server"`
	ReadHeaderTimeoutServer      time.Duration `yaml:"read-header-timeout-server"`
	WriteTimeoutServer           time.Duration `yaml:"write-timeout-server"`
	IdleTimeoutServer            time.Duration `yaml:"idle-timeout-server"`
	MaxHeaderBytes               int           `yaml:"max-header-bytes"`
	TimeoutBackend               time.Duration `yaml:"timeout-backend"`
	KeepaliveBackend             time.Duration `yaml:"keepalive-backend"`
	ResponseHeaderTimeoutBackend time.Duration `yaml:"response-header-timeout-backend"`
	MaxIdleConnsBackend          int           `yaml:"max-idle-connection-backend"`
	BackendFlushInterval         time.Duration `yaml:"backend-flush-interval"`

	// logging:
	ApplicationLog            string    `yaml:"application-log"`
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool      `yaml:"application-log-json-enabled"`
	AccessLog                 string    `yaml:"access-log"`
	AccessLogDisabled         bool      `yaml:"access-log-disabled"`
	AccessLogJSONEnabled      bool      `yaml:"access-log-json-enabled"`

	// metrics, tracing:
	MetricsPrefix                string        `yaml:"metrics-prefix"`
	RuntimeMetrics               bool          `yaml:"runtime-metrics"`
	HistogramMetricBuckets       []float64     `yaml:"-"`
	HistogramMetricBucketsString string        `yaml:"histogram-metric-buckets"`
	OpenTelemetry                *otel.Options `yaml:"open-telemetry"`
	OpenTelemetryInitialSpan     string        `yaml:"otel-initial-span"`
	LogFilterLifecycleEvents     bool          `yaml:"log-filter-lifecycle-events"`

	// the filter configuration from the flag, the file or the
	// environment
	resolvedFilterConfig string
}

func NewConfig() *Config {
	cfg := new(Config)

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", claimheader.DefaultAddress, "network address that the proxy should listen on")
	flag.StringVar(&cfg.SupportListener, "support-listener", claimheader.DefaultSupportListener, "network address used for exposing the /metrics and /health endpoints. An empty value disables support endpoint.")
	flag.StringVar(&cfg.Backend, "backend", "", "address of the backend, where the accepted requests are forwarded, e.g. http://localhost:8080")
	flag.BoolVar(&cfg.ProxyPreserveHost, "proxy-preserve-host", false, "flag indicating to preserve the incoming request 'Host' header in the outgoing requests")
	flag.BoolVar(&cfg.Insecure, "insecure", false, "flag indicating to ignore the verification of the TLS certificate of the backend")
	flag.DurationVar(&cfg.WaitForHealthcheckInterval, "wait-for-healthcheck-interval", (10+5)*3*time.Second, "period waiting to become unhealthy in the loadbalancer pool in front of this instance, before shutdown triggered by SIGINT or SIGTERM")

	// jwtClaimHeader:
	flag.StringVar(&cfg.FilterConfig, "filter-config", "", `jwtClaimHeader configuration, a JSON object like {"claim": "sub", "header": "X-User-Id"}. When not set, the `+filterConfigEnv+" environment variable is used")
	flag.StringVar(&cfg.FilterConfigFile, "filter-config-file", "", "path of the file with the jwtClaimHeader configuration")
	flag.IntVar(&cfg.MaxTokenSize, "max-token-size", jwt.DefaultMaxTokenSize, "maximum length of the accepted bearer tokens")
	flag.BoolVar(&cfg.EnableAuditLog, "enable-audit-log", false, "enables the audit log of the accepted and rejected requests")
	flag.IntVar(&cfg.MaxAuditBody, "max-audit-body", 1024, "sets the max body to read to log in the audit log body")

	// header diagnostics:
	flag.BoolVar(&cfg.LogHeaders, "log-headers", false, "logs the request and response headers at TRACE level of the application log")
	flag.Var(&cfg.RequestHeaders, "request-header", "header appended to the requests forwarded to the backend, in the format 'Name: value', can be repeated")
	flag.Var(&cfg.ResponseHeaders, "response-header", "header appended to the responses, in the format 'Name: value', can be repeated")

	// flow id:
	flag.BoolVar(&cfg.DisableFlowId, "disable-flow-id", false, "disables setting the X-Flow-Id header on the requests")
	flag.BoolVar(&cfg.FlowIdReuse, "flow-id-reuse", false, "keeps the valid X-Flow-Id header of the incoming requests")
	flag.StringVar(&cfg.FlowIdGenerator, "flow-id-generator", flowid.ULIDGenerator, "generator of the flow ids, possible values: ulid, uuid")

	// connections:
	flag.DurationVar(&cfg.ReadTimeoutServer, "read-timeout-server", 5*time.Minute, "set ReadTimeout for http server connections")
	flag.DurationVar(&cfg.ReadHeaderTimeoutServer, "read-header-timeout-server", 60*time.Second, "set ReadHeaderTimeout for http server connections")
	flag.DurationVar(&cfg.WriteTimeoutServer, "write-timeout-server", 60*time.Second, "set WriteTimeout for http server connections")
	flag.DurationVar(&cfg.IdleTimeoutServer, "idle-timeout-server", 60*time.Second, "set IdleTimeout for http server connections")
	flag.IntVar(&cfg.MaxHeaderBytes, "max-header-bytes", http.DefaultMaxHeaderBytes, "set MaxHeaderBytes for http server connections")
	flag.DurationVar(&cfg.TimeoutBackend, "timeout-backend", 60*time.Second, "sets the TCP client connection timeout for backend connections")
	flag.DurationVar(&cfg.KeepaliveBackend, "keepalive-backend", 30*time.Second, "sets the keepalive for backend connections")
	flag.DurationVar(&cfg.ResponseHeaderTimeoutBackend, "response-header-timeout-backend", 60*time.Second, "sets the HTTP response header timeout for backend connections")
	flag.IntVar(&cfg.MaxIdleConnsBackend, "max-idle-connection-backend", 0, "sets the maximum idle connections for all backend connections")
	flag.DurationVar(&cfg.BackendFlushInterval, "backend-flush-interval", 20*time.Millisecond, "flush interval of the backend response body, negative value flushes immediately")

	// logging:
	flag.StringVar(&cfg.ApplicationLog, "application-log", "", "output file for the application log. When not set, /dev/stderr is used")
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG, TRACE")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", "[APP]", "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.StringVar(&cfg.AccessLog, "access-log", "", "output file for the access log, When not set, /dev/stderr is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")

	// metrics, tracing:
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", claimheader.DefaultMetricsPrefix, "allows setting a custom prefix for the metrics")
	flag.BoolVar(&cfg.RuntimeMetrics, "runtime-metrics", true, "enables reporting of the Go runtime and process statistics")
	flag.StringVar(&cfg.HistogramMetricBucketsString, "histogram-metric-buckets", "", "use custom buckets for prometheus histograms, must be a comma-separated list of numbers")
	flag.Var(newYamlFlag(&cfg.OpenTelemetry), "open-telemetry", "enables OpenTelemetry, configured with the OTEL_* environment variables, and this yaml value, e.g. {service-name: my-proxy}")
	flag.StringVar(&cfg.OpenTelemetryInitialSpan, "otel-initial-span", proxy.DefaultInitialSpan, "set the name of the initial, server tracing span")
	flag.BoolVar(&cfg.LogFilterLifecycleEvents, "log-filter-lifecycle-events", true, "enables the span events of the request and response filters marking their start and end times")

	cfg.Flags = flag
	return cfg
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	c.parseEnv()

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.HistogramMetricBuckets, _ = c.parseHistogramBuckets(c.HistogramMetricBucketsString, prometheus.DefBuckets)
	c.resolvedFilterConfig, _ = c.loadFilterConfig()
	return nil
}

func (c *Config) parseEnv() {
	// Set the filter configuration from the environment variable, if
	// not set earlier (flags or configuration file)
	if c.FilterConfig == "" && c.FilterConfigFile == "" {
		c.FilterConfig = os.Getenv(filterConfigEnv)
	}
}

func (c *Config) loadFilterConfig() (string, error) {
	switch {
	case c.FilterConfig != "" && c.FilterConfigFile != "":
		return "", errDuplicateConfig
	case c.FilterConfig != "":
		return c.FilterConfig, nil
	case c.FilterConfigFile != "":
		b, err := os.ReadFile(c.FilterConfigFile)
		if err != nil {
			return "", fmt.Errorf("invalid filter config file: %w", err)
		}

		return string(b), nil
	default:
		return "", errMissingFilterConfig
	}
}

func validateBackend(backend string) error {
	if backend == "" {
		return errMissingBackend
	}

	u, err := url.Parse(backend)
	if err != nil {
		return fmt.Errorf("invalid backend: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid backend: %s, must be an absolute http or https URL", backend)
	}

	return nil
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	_, err = c.parseHistogramBuckets(c.HistogramMetricBucketsString, prometheus.DefBuckets)
	if err != nil {
		return err
	}

	if err := validateBackend(c.Backend); err != nil {
		return err
	}

	if _, ok := flowid.GeneratorByName(c.FlowIdGenerator); !ok {
		return fmt.Errorf("invalid flow id generator: %s", c.FlowIdGenerator)
	}

	if c.MaxTokenSize < 0 {
		return fmt.Errorf("invalid max token size: %d", c.MaxTokenSize)
	}

	fc, err := c.loadFilterConfig()
	if err != nil {
		return err
	}

	_, err = auth.ParseConfig([]byte(fc))
	return err
}

func (c *Config) ToOptions() claimheader.Options {
	return claimheader.Options{
		// generic:
		Address:                    c.Address,
		SupportListener:            c.SupportListener,
		Backend:                    c.Backend,
		ProxyPreserveHost:          c.ProxyPreserveHost,
		Insecure:                   c.Insecure,
		WaitForHealthcheckInterval: c.WaitForHealthcheckInterval,

		// jwtClaimHeader:
		FilterConfig:   c.resolvedFilterConfig,
		MaxTokenSize:   c.MaxTokenSize,
		EnableAuditLog: c.EnableAuditLog,
		MaxAuditBody:   c.MaxAuditBody,

		// header diagnostics:
		LogHeaders:      c.LogHeaders,
		RequestHeaders:  http.Header(c.RequestHeaders),
		ResponseHeaders: http.Header(c.ResponseHeaders),

		// flow id:
		DisableFlowId:   c.DisableFlowId,
		FlowIdReuse:     c.FlowIdReuse,
		FlowIdGenerator: c.FlowIdGenerator,

		// connections:
		ReadTimeoutServer:            c.ReadTimeoutServer,
		ReadHeaderTimeoutServer:      c.ReadHeaderTimeoutServer,
		WriteTimeoutServer:           c.WriteTimeoutServer,
		IdleTimeoutServer:            c.IdleTimeoutServer,
		MaxHeaderBytes:               c.MaxHeaderBytes,
		TimeoutBackend:               c.TimeoutBackend,
		KeepAliveBackend:             c.KeepaliveBackend,
		ResponseHeaderTimeoutBackend: c.ResponseHeaderTimeoutBackend,
		MaxIdleConnsBackend:          c.MaxIdleConnsBackend,
		BackendFlushInterval:         c.BackendFlushInterval,

		// logging:
		ApplicationLogOutput:      c.ApplicationLog,
		ApplicationLogLevel:       c.ApplicationLogLevel,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		AccessLogOutput:           c.AccessLog,
		AccessLogDisabled:         c.AccessLogDisabled,
		AccessLogJSONEnabled:      c.AccessLogJSONEnabled,

		// metrics, tracing:
		MetricsPrefix:            c.MetricsPrefix,
		EnableRuntimeMetrics:     c.RuntimeMetrics,
		HistogramMetricBuckets:   c.HistogramMetricBuckets,
		OpenTelemetry:            c.OpenTelemetry,
		OpenTelemetryInitialSpan: c.OpenTelemetryInitialSpan,
		LogFilterEvents:          c.LogFilterLifecycleEvents,
	}
}

func (c *Config) parseHistogramBuckets(bucketString string, defaultBuckets []float64) ([]float64, error) {
	if bucketString == "" {
		return defaultBuckets, nil
	}

	var result []float64
	thresholds := strings.Split(bucketString, ",")
	for _, v := range thresholds {
		bucket, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse histogram-metric-buckets: %w", err)
		}
		result = append(result, bucket)
	}
	sort.Float64s(result)
	return result, nil
}
