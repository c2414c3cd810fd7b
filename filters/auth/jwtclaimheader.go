package auth

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/claimheader/filters"
	"github.com/zalando/claimheader/jwt"
)

// JwtClaimHeaderOptions are shared by all the filters created by the
// spec.
type JwtClaimHeaderOptions struct {
	// MaxTokenSize limits the length of the accepted tokens. When zero,
	// jwt.DefaultMaxTokenSize is used.
	MaxTokenSize int
}

type (
	jwtClaimHeaderSpec struct {
		options JwtClaimHeaderOptions
	}

	jwtClaimHeaderFilter struct {
		config Config
		parser *jwt.Parser
	}
)

// NewJwtClaimHeader creates the jwtClaimHeader filter specification.
func NewJwtClaimHeader() filters.Spec {
	return NewJwtClaimHeaderWithOptions(JwtClaimHeaderOptions{})
}

// NewJwtClaimHeaderWithOptions creates the jwtClaimHeader filter
// specification with custom options.
//
// The filter copies a claim of the bearer token into a request header. It
// accepts either one argument, the JSON configuration:
//
//	jwtClaimHeader(`{"claim": "sub", "header": "X-User-Id"}`)
//
// or the claim and the header name, optionally followed by the maximum
// token size:
//
//	jwtClaimHeader("sub", "X-User-Id")
//	jwtClaimHeader("sub", "X-User-Id", 4096)
//
// Requests without an Authorization header are rejected with 403. Requests
// with an Authorization header that is not a decodable bearer token, or
// with a token that doesn't contain the claim, are rejected with 400.
//
// The token signature is NOT verified.
func NewJwtClaimHeaderWithOptions(o JwtClaimHeaderOptions) filters.Spec {
	return &jwtClaimHeaderSpec{options: o}
}

func (*jwtClaimHeaderSpec) Name() string { return filters.JwtClaimHeaderName }

func (s *jwtClaimHeaderSpec) CreateFilter(args []any) (filters.Filter, error) {
	var (
		c   Config
		err error
	)

	maxTokenSize := s.options.MaxTokenSize
	switch len(args) {
	case 1:
		raw, err := filters.StringArg(args[0])
		if err != nil {
			return nil, filters.ErrInvalidFilterParameters
		}

		c, err = ParseConfig([]byte(raw))
		if err != nil {
			return nil, err
		}
	case 2, 3:
		if c.Claim, err = filters.StringArg(args[0]); err != nil {
			return nil, filters.ErrInvalidFilterParameters
		}

		if c.Header, err = filters.StringArg(args[1]); err != nil {
			return nil, filters.ErrInvalidFilterParameters
		}

		if len(args) == 3 {
			maxTokenSize, err = filters.IntArg(args[2])
			if err != nil || maxTokenSize <= 0 {
				return nil, fmt.Errorf("%w: invalid max token size: %v", filters.ErrInvalidFilterParameters, args[2])
			}
		}

		if err := c.Validate(); err != nil {
			return nil, err
		}
	default:
		return nil, filters.ErrInvalidFilterParameters
	}

	return &jwtClaimHeaderFilter{
		config: c,
		parser: &jwt.Parser{MaxTokenSize: maxTokenSize},
	}, nil
}

func (f *jwtClaimHeaderFilter) String() string {
	return fmt.Sprintf("%s(%q, %q)", filters.JwtClaimHeaderName, f.config.Claim, f.config.Header)
}

func (f *jwtClaimHeaderFilter) Request(ctx filters.FilterContext) {
	r := ctx.Request()
	value, present := getAuthHeader(r)

	// one authorizer per exchange, the configuration is copied
	a := newAuthorizer(f.config, f.parser)
	o := a.Authorize(value, present)

	switch o.Kind {
	case Forward:
		log.Debugf("Forwarding with %s: %s", o.Header, o.Value)
		r.Header.Add(o.Header, o.Value)
		authorized(ctx, o.Value)
		ctx.Metrics().IncCounter("forward")
	case RejectUnauthorized:
		ctx.Metrics().IncCounter(string(o.reason))
		forbidden(ctx, o.reason)
	default:
		ctx.Metrics().IncCounter(string(o.reason))
		badRequest(ctx, o.reason, o.Err)
	}
}

func (*jwtClaimHeaderFilter) Response(filters.FilterContext) {}
