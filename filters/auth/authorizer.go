package auth

import (
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/zalando/claimheader/jwt"
)

// OutcomeKind tells what happens with a request after authorization.
type OutcomeKind int

const (
	// Forward the request with the claim header added.
	Forward OutcomeKind = iota

	// RejectUnauthorized the request with 403, the Authorization
	// header was missing.
	RejectUnauthorized

	// RejectBadRequest the request with 400, the Authorization header
	// or the token was unusable, or the claim was missing or can't be
	// sent as a header value.
	RejectBadRequest
)

func (k OutcomeKind) String() string {
	switch k {
	case Forward:
		return "forward"
	case RejectUnauthorized:
		return "reject-unauthorized"
	default:
		return "reject-bad-request"
	}
}

// Outcome of authorizing a single request.
type Outcome struct {
	Kind OutcomeKind

	// Header and Value are set when forwarding.
	Header string
	Value  string

	// Err is set for the rejections. Its text is the body of the 400
	// responses.
	Err error

	reason rejectReason
}

// Authorizer decides about a single request. It is created for every
// request from the immutable configuration, and discarded afterwards.
type Authorizer struct {
	claim  string
	header string
	parser *jwt.Parser
}

// NewAuthorizer creates an authorizer with the default token size limit.
func NewAuthorizer(c Config) *Authorizer {
	return newAuthorizer(c, &jwt.Parser{})
}

func newAuthorizer(c Config, p *jwt.Parser) *Authorizer {
	return &Authorizer{claim: c.Claim, header: c.Header, parser: p}
}

// Authorize decides about the request, based on the value of its
// Authorization header. The present argument tells whether the header was
// sent at all. The token signature is not verified.
func (a *Authorizer) Authorize(value string, present bool) Outcome {
	if !present {
		return Outcome{Kind: RejectUnauthorized, Err: ErrMissingAuthHeader, reason: missingToken}
	}

	if !strings.HasPrefix(value, authHeaderPrefix) {
		return Outcome{Kind: RejectBadRequest, Err: ErrBadAuthHeaderPrefix, reason: invalidTokenType}
	}

	token, err := a.parser.Parse(value[len(authHeaderPrefix):])
	if err != nil {
		return Outcome{
			Kind:   RejectBadRequest,
			Err:    fmt.Errorf("%w: %w", ErrInvalidJwtHeader, err),
			reason: invalidToken,
		}
	}

	v, ok := token.Claims.Get(a.claim)
	if !ok {
		return Outcome{Kind: RejectBadRequest, Err: ErrClaimNotFound, reason: missingClaim}
	}

	// control characters would make the backend request fail
	value = v.String()
	if !httpguts.ValidHeaderFieldValue(value) {
		return Outcome{Kind: RejectBadRequest, Err: ErrInvalidClaimValue, reason: invalidClaim}
	}

	return Outcome{Kind: Forward, Header: a.header, Value: value}
}
