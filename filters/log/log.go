/*
Package log provides the auditLog filter. The audit log shows who did a
request, when the jwtClaimHeader filter accepted the token, or why the
request was rejected.

Every request results in one JSON record on the audit output:

	{"auth-user":"1234567890","flow-id":"01H...","level":"info","method":"POST","msg":"audit","path":"/api","status":200,"time":"..."}

Rejected requests carry the reason and the detail sent to the client:

	{"auth-reject-detail":"claim not found","auth-reject-reason":"missing-claim","auth-rejected":true,...}
*/
package log

import (
	"bytes"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/zalando/claimheader/filters"
	"github.com/zalando/claimheader/filters/flowid"
)

const (
	// AuditLogName is the filter name seen by the user
	AuditLogName = "auditLog"

	// AuthUserKey is used by the auth package to set the claim of the
	// accepted token into the state bag.
	AuthUserKey = "auth-user"

	// AuthRejectReasonKey is used by the auth package to set the
	// reason of a rejection into the state bag.
	AuthRejectReasonKey = "auth-reject-reason"

	// AuthRejectDetailKey is used by the auth package to set the
	// detail of a rejection, the body of the response, into the state
	// bag.
	AuthRejectDetailKey = "auth-reject-detail"

	authRejectedField = "auth-rejected"
	requestBodyField  = "request-body"
)

type auditLog struct {
	logger      *logrus.Logger
	maxBodySize int
}

// bodyCapture keeps the first bytes of a request body, while the body
// is read by the proxy. A negative limit keeps the whole body.
type bodyCapture struct {
	io.ReadCloser
	buf   bytes.Buffer
	limit int
}

func (bc *bodyCapture) Read(p []byte) (int, error) {
	n, err := bc.ReadCloser.Read(p)
	bc.keep(p[:n])
	return n, err
}

func (bc *bodyCapture) keep(p []byte) {
	if bc.limit >= 0 {
		p = p[:min(len(p), bc.limit-bc.buf.Len())]
	}

	bc.buf.Write(p)
}

func (bc *bodyCapture) full() bool {
	return bc.limit >= 0 && bc.buf.Len() >= bc.limit
}

// drain reads the part of the body that the proxy didn't read, e.g.
// when the request was rejected, up to the limit.
func (bc *bodyCapture) drain() {
	if bc.full() {
		return
	}

	var r io.Reader = bc
	if bc.limit >= 0 {
		r = io.LimitReader(bc, int64(bc.limit-bc.buf.Len()))
	}

	if _, err := io.Copy(io.Discard, r); err != nil {
		logrus.Debugf("Failed to read the request body for the audit log: %v", err)
	}
}

// NewAuditLog creates an auditLog filter specification. It expects a
// maxAuditBody attribute to limit the size of the logged request body.
// Zero disables logging the body, a negative value logs it completely.
// The records are written to os.Stderr.
//
//	spec := NewAuditLog(1024)
func NewAuditLog(maxAuditBody int) filters.Spec {
	return newAuditLog(os.Stderr, maxAuditBody)
}

func newAuditLog(w io.Writer, maxAuditBody int) *auditLog {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})

	return &auditLog{logger: l, maxBodySize: maxAuditBody}
}

func (al *auditLog) Name() string { return AuditLogName }

// CreateFilter has no arguments. The filter is created when the proxy
// enables the audit log.
func (al *auditLog) CreateFilter(args []any) (filters.Filter, error) {
	if len(args) != 0 {
		return nil, filters.ErrInvalidFilterParameters
	}

	return al, nil
}

func (al *auditLog) Request(ctx filters.FilterContext) {
	r := ctx.Request()
	if al.maxBodySize != 0 && r.Body != nil && r.Body != http.NoBody {
		r.Body = &bodyCapture{ReadCloser: r.Body, limit: al.maxBodySize}
	}
}

func (al *auditLog) Response(ctx filters.FilterContext) {
	req := ctx.Request()
	fields := logrus.Fields{
		"method": req.Method,
		"path":   req.URL.Path,
		"status": ctx.Response().StatusCode,
	}

	if id := req.Header.Get(flowid.HeaderName); id != "" {
		fields["flow-id"] = id
	}

	sb := ctx.StateBag()
	if user, ok := sb[AuthUserKey].(string); ok {
		fields[AuthUserKey] = user
	}

	if reason, ok := sb[AuthRejectReasonKey].(string); ok {
		fields[authRejectedField] = true
		fields[AuthRejectReasonKey] = reason
		if detail, ok := sb[AuthRejectDetailKey].(string); ok {
			fields[AuthRejectDetailKey] = detail
		}
	}

	if bc, ok := req.Body.(*bodyCapture); ok {
		bc.drain()
		if bc.buf.Len() > 0 {
			fields[requestBodyField] = bc.buf.String()
		}
	}

	al.logger.WithFields(fields).Info("audit")
}
