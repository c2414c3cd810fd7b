/*
Package jwt decodes the claim set of compact JSON Web Tokens.

The decoding is NOT a verification. Parse only checks that the token has
three segments and that the payload segment carries a base64url encoded
JSON object. The header and the signature segments are never decoded, the
signature is never checked, and the expiry and other registered claims are
not evaluated. Code that relies on the claims returned by this package
must trust the component that issued or validated the token before it
reached this point.
*/
package jwt

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// DefaultMaxTokenSize is the maximum length of a token accepted by Parse.
const DefaultMaxTokenSize = 16 << 10

var (
	// ErrMalformedToken is returned when the token doesn't have exactly
	// three dot separated segments.
	ErrMalformedToken = errors.New("malformed token")

	// ErrEncoding is returned when the payload is not valid unpadded
	// base64url, or when the decoded payload is not valid UTF-8.
	ErrEncoding = errors.New("invalid payload encoding")

	// ErrPayloadParse is returned when the payload is not a JSON object.
	ErrPayloadParse = errors.New("invalid payload")

	// ErrTokenTooLarge is returned when the token exceeds the maximum size.
	ErrTokenTooLarge = errors.New("token too large")
)

// Token is a decoded, unverified token.
type Token struct {
	// Claims contains the top level fields of the payload.
	Claims ClaimSet

	// Payload is the decoded payload segment.
	Payload []byte
}

// Parser decodes tokens with a size limit. The zero value uses
// DefaultMaxTokenSize.
type Parser struct {
	MaxTokenSize int
}

var defaultParser = &Parser{}

// Parse decodes the claims of the token using the default parser.
func Parse(value string) (*Token, error) {
	return defaultParser.Parse(value)
}

// Parse decodes the claims of the token. It doesn't verify the signature.
func (p *Parser) Parse(value string) (*Token, error) {
	limit := p.MaxTokenSize
	if limit <= 0 {
		limit = DefaultMaxTokenSize
	}

	if len(value) > limit {
		return nil, fmt.Errorf("%w: %d bytes, allowed %d", ErrTokenTooLarge, len(value), limit)
	}

	parts := strings.SplitN(value, ".", 4)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments", ErrMalformedToken)
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, err
	}

	claims, err := parseClaims(payload)
	if err != nil {
		return nil, err
	}

	return &Token{Claims: claims, Payload: payload}, nil
}

func decodeSegment(s string) ([]byte, error) {
	// the decoder skips line breaks even in strict mode
	if strings.ContainsAny(s, "\r\n") {
		return nil, fmt.Errorf("%w: line break in payload", ErrEncoding)
	}

	d, err := base64.RawURLEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	if !utf8.Valid(d) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrEncoding)
	}

	return d, nil
}

func parseClaims(payload []byte) (ClaimSet, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrPayloadParse)
	}

	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level value is not an object", ErrPayloadParse)
	}

	// gjson iterates the keys in document order, so the last duplicate wins
	claims := make(ClaimSet)
	root.ForEach(func(key, value gjson.Result) bool {
		claims[key.String()] = Value{raw: value}
		return true
	})

	return claims, nil
}
