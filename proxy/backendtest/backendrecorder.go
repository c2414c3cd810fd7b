// Package backendtest provides a backend for tests that records the
// requests it receives, and echoes the request body.
package backendtest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	log "github.com/sirupsen/logrus"
)

type RecordedRequest struct {
	URL    *url.URL
	Host   string
	Header http.Header
	Body   string
}

type BackendRecorder struct {
	server   *httptest.Server
	mutex    sync.RWMutex
	requests []RecordedRequest
}

func (rec *BackendRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("backendrecorder: error while reading request body")
	}

	rec.mutex.Lock()
	rec.requests = append(rec.requests, RecordedRequest{
		URL:    r.URL,
		Host:   r.Host,
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	rec.mutex.Unlock()

	// return request body in the response
	w.Header().Set("X-Backend", "recorder")
	if _, err := w.Write(body); err != nil {
		log.Error("backendrecorder: error while writing the response body")
	}
}

func (rec *BackendRecorder) GetRequests() []RecordedRequest {
	rec.mutex.RLock()
	defer rec.mutex.RUnlock()
	return append([]RecordedRequest(nil), rec.requests...)
}

func (rec *BackendRecorder) GetURL() string {
	return rec.server.URL
}

func (rec *BackendRecorder) Close() {
	rec.server.Close()
}

func NewBackendRecorder() *BackendRecorder {
	rec := &BackendRecorder{}
	rec.server = httptest.NewServer(rec)
	return rec
}
