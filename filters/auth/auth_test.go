package auth

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/claimheader/filters/filtertest"
	logfilter "github.com/zalando/claimheader/filters/log"
)

func TestGetAuthHeader(t *testing.T) {
	for _, tc := range []struct {
		msg     string
		values  []string
		value   string
		present bool
	}{{
		msg: "no header",
	}, {
		msg:     "empty header",
		values:  []string{""},
		present: true,
	}, {
		msg:     "single header",
		values:  []string{"Bearer foo"},
		value:   "Bearer foo",
		present: true,
	}, {
		msg:     "first of multiple headers",
		values:  []string{"Bearer foo", "Bearer bar"},
		value:   "Bearer foo",
		present: true,
	}} {
		t.Run(tc.msg, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			for _, v := range tc.values {
				r.Header.Add(authHeaderName, v)
			}

			value, present := getAuthHeader(r)
			assert.Equal(t, tc.value, value)
			assert.Equal(t, tc.present, present)
		})
	}
}

func TestForbidden(t *testing.T) {
	ctx := &filtertest.Context{}
	forbidden(ctx, missingToken)

	require.True(t, ctx.Served())
	rsp := ctx.Response()
	assert.Equal(t, http.StatusForbidden, rsp.StatusCode)
	assert.Empty(t, rsp.Header.Get(InvalidHeaderName))
	assert.Equal(t, "text/plain; charset=utf-8", rsp.Header.Get("Content-Type"))

	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Access forbidden.\n", string(body))
	assert.Equal(t, int64(len(body)), rsp.ContentLength)
	assert.Equal(t, "missing-token", ctx.StateBag()[logfilter.AuthRejectReasonKey])
	assert.Equal(t, "missing auth header", ctx.StateBag()[logfilter.AuthRejectDetailKey])
}

func TestBadRequest(t *testing.T) {
	ctx := &filtertest.Context{}
	badRequest(ctx, invalidToken, errors.New("invalid jwt auth header: token contains an invalid number of segments"))

	require.True(t, ctx.Served())
	rsp := ctx.Response()
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	assert.Equal(t, InvalidHeaderValue, rsp.Header.Get(InvalidHeaderName))
	assert.Equal(t, "69", rsp.Header.Get("Content-Length"))

	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Equal(t, "invalid jwt auth header: token contains an invalid number of segments", string(body))
	assert.Equal(t, "invalid-token", ctx.StateBag()[logfilter.AuthRejectReasonKey])
	assert.Equal(t, string(body), ctx.StateBag()[logfilter.AuthRejectDetailKey])
}

func TestAuthorized(t *testing.T) {
	ctx := &filtertest.Context{}
	authorized(ctx, "jdoe")

	assert.False(t, ctx.Served())
	assert.Equal(t, "jdoe", ctx.StateBag()[logfilter.AuthUserKey])
}
