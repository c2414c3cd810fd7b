package auth

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/claimheader/filters"
	logfilter "github.com/zalando/claimheader/filters/log"
)

type rejectReason string

const (
	missingToken     rejectReason = "missing-token"
	invalidTokenType rejectReason = "invalid-token-type"
	invalidToken     rejectReason = "invalid-token"
	missingClaim     rejectReason = "missing-claim"
	invalidClaim     rejectReason = "invalid-claim"
)

const (
	authHeaderName   = "Authorization"
	authHeaderPrefix = "Bearer "

	// InvalidHeaderName is set on the 400 responses of the
	// jwtClaimHeader filter, with the value InvalidHeaderValue.
	InvalidHeaderName  = "X-Jwt-Claim-Header"
	InvalidHeaderValue = "invalid"

	forbiddenBody = "Access forbidden.\n"
)

var (
	ErrMissingAuthHeader   = errors.New("missing auth header")
	ErrBadAuthHeaderPrefix = errors.New("invalid auth header")
	ErrInvalidJwtHeader    = errors.New("invalid jwt auth header")
	ErrClaimNotFound       = errors.New("claim not found")
	ErrInvalidClaimValue   = errors.New("invalid claim value")
)

// getAuthHeader returns the value of the first Authorization header, and
// whether the header was present at all.
func getAuthHeader(r *http.Request) (string, bool) {
	v := r.Header.Values(authHeaderName)
	if len(v) == 0 {
		return "", false
	}

	return v[0], true
}

func textResponse(code int, body string) *http.Response {
	rsp := &http.Response{
		StatusCode:    code,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}

	rsp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	rsp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return rsp
}

func forbidden(ctx filters.FilterContext, reason rejectReason) {
	log.Debugf("Forbidden: reason: %s", reason)
	ctx.StateBag()[logfilter.AuthRejectReasonKey] = string(reason)
	ctx.StateBag()[logfilter.AuthRejectDetailKey] = ErrMissingAuthHeader.Error()
	ctx.Serve(textResponse(http.StatusForbidden, forbiddenBody))
}

func badRequest(ctx filters.FilterContext, reason rejectReason, err error) {
	log.Debugf("Bad request: reason: %s, error: %v", reason, err)
	ctx.StateBag()[logfilter.AuthRejectReasonKey] = string(reason)
	ctx.StateBag()[logfilter.AuthRejectDetailKey] = err.Error()
	rsp := textResponse(http.StatusBadRequest, err.Error())
	rsp.Header.Set(InvalidHeaderName, InvalidHeaderValue)
	ctx.Serve(rsp)
}

func authorized(ctx filters.FilterContext, uname string) {
	ctx.StateBag()[logfilter.AuthUserKey] = uname
}
