package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/http/httpguts"
)

// ErrInvalidConfig is returned when the jwtClaimHeader configuration
// can't be used.
var ErrInvalidConfig = errors.New("invalid jwtClaimHeader configuration")

// Config of the jwtClaimHeader filter. Claim is the name of the top
// level claim to copy, Header is the name of the request header that
// receives its value.
type Config struct {
	Claim  string `json:"claim"`
	Header string `json:"header"`
}

// ParseConfig parses the raw configuration. It must be a JSON object with
// exactly the two text fields claim and header.
func ParseConfig(b []byte) (Config, error) {
	var c Config

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if _, err := dec.Token(); err != io.EOF {
		return Config{}, fmt.Errorf("%w: unexpected data after the configuration object", ErrInvalidConfig)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Validate checks that the claim is set and that the header is a valid
// HTTP header field name.
func (c Config) Validate() error {
	if c.Claim == "" {
		return fmt.Errorf("%w: missing claim", ErrInvalidConfig)
	}

	if c.Header == "" {
		return fmt.Errorf("%w: missing header", ErrInvalidConfig)
	}

	if !httpguts.ValidHeaderFieldName(c.Header) {
		return fmt.Errorf("%w: header name %q is invalid", ErrInvalidConfig, c.Header)
	}

	return nil
}
