// Package proxytest creates proxies for tests, started on a local
// httptest server.
package proxytest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/zalando/claimheader/filters"
	"github.com/zalando/claimheader/logging/loggingtest"
	"github.com/zalando/claimheader/proxy"
)

type TestProxy struct {
	URL string
	Log *loggingtest.TestLogger

	proxy  *proxy.Proxy
	server *httptest.Server
}

type TestClient struct {
	*http.Client
}

// FilterDef is a filter of the proxy, created from the registry.
type FilterDef struct {
	Name string
	Args []any
}

type Config struct {
	Backend        string
	FilterRegistry filters.Registry
	Filters        []FilterDef
	ProxyOptions   proxy.Options
}

// New creates a started test proxy forwarding to the backend, with the
// filters created from the registry.
func New(backend string, fr filters.Registry, defs ...FilterDef) *TestProxy {
	return Config{Backend: backend, FilterRegistry: fr, Filters: defs}.Create()
}

func (c Config) Create() *TestProxy {
	p, err := c.TryCreate()
	if err != nil {
		panic(err)
	}

	return p
}

// TryCreate is like Create, but returns the error instead of panicking.
func (c Config) TryCreate() (*TestProxy, error) {
	o := c.ProxyOptions
	if c.Backend != "" {
		u, err := url.Parse(c.Backend)
		if err != nil {
			return nil, err
		}

		o.Backend = u
	}

	for _, d := range c.Filters {
		f, err := c.FilterRegistry.CreateFilter(d.Name, d.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to create test filter: %w", err)
		}

		o.Filters = append(o.Filters, &proxy.RouteFilter{Filter: f, Name: d.Name})
	}

	tl := loggingtest.New()
	if o.Log == nil {
		o.Log = tl
	}

	pr, err := proxy.New(o)
	if err != nil {
		tl.Close()
		return nil, err
	}

	server := httptest.NewServer(pr)
	return &TestProxy{
		URL:    server.URL,
		Log:    tl,
		proxy:  pr,
		server: server,
	}, nil
}

func (p *TestProxy) Client() *TestClient {
	return &TestClient{p.server.Client()}
}

func (p *TestProxy) Close() error {
	p.Log.Close()
	p.server.Close()
	return nil
}

// GetBody issues a GET to the specified URL, reads and closes response body and
// returns response, response body bytes and error if any.
func (c *TestClient) GetBody(url string) (rsp *http.Response, body []byte, err error) {
	return c.GetBodyWithHeader(url, nil)
}

// GetBodyWithHeader is like GetBody, with additional request headers.
func (c *TestClient) GetBodyWithHeader(url string, h http.Header) (rsp *http.Response, body []byte, err error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return
	}

	for k, v := range h {
		req.Header[k] = v
	}

	rsp, err = c.Do(req)
	if err != nil {
		return
	}
	defer rsp.Body.Close()

	body, err = io.ReadAll(rsp.Body)
	return
}
