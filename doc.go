/*
Package claimheader provides an HTTP reverse proxy that copies a claim
of the JWT bearer token of the incoming requests into a request header,
before forwarding the requests to a single backend.

The token is only decoded, its signature is not verified. The proxy is
meant to run behind a component that already validated the token, e.g.
an API gateway, and it relieves the backend from parsing the token
itself.

# Request handling

The requests are processed by the following filters, in order:

  - flowId: sets the X-Flow-Id header, unless disabled
  - logHeader: logs the request and response headers at trace level,
    when enabled
  - auditLog: prints an audit log entry for every request, when enabled
  - appendRequestHeader, appendResponseHeader: add the configured fixed
    headers, e.g. -request-header 'blubb: downstream'
  - jwtClaimHeader: copies the claim into the header

The jwtClaimHeader filter responds with 403 Forbidden when the
Authorization header is missing, and with 400 Bad Request when the
header is not a bearer token, the token cannot be decoded, the claim
is not found, or its value can't be sent in a header. Otherwise the claim value is added to the configured
header, and the request is forwarded.

# Configuration

The filter configuration is a JSON object with the claim and the header
name:

	{"claim": "sub", "header": "X-User-Id"}

For the command line flags, see the config package, or run:

	claimheader -help

# Observability

The support listener exposes the Prometheus metrics under /metrics, and
the health of the process under /health. The tracing is configured with
the standard OpenTelemetry environment variables, see the otel package.
*/
package claimheader
