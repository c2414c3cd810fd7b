/*
Package proxy implements the HTTP reverse proxy that applies the
configured filters to every incoming request, and forwards the requests
that were not served by a filter to a single backend.

# Proxy Mechanism

1. request filters:

The request filters are executed in the configured order. They can
modify the incoming request, e.g. add headers, and they can decide to
serve the request themselves, e.g. reject it. When a filter serves the
request, the remaining request filters are skipped, and the request is
not forwarded.

2. forwarding:

The request is sent to the backend address, with the path and query of
the incoming request appended to the path of the backend URL. The
X-Forwarded-For, X-Forwarded-Host and X-Forwarded-Proto headers are set.
When the backend cannot be reached, the proxy responds with 502 Bad
Gateway.

3. response filters:

The response filters of the executed filters are called in reverse
order, both for the backend responses and for the responses served by a
filter.

# Observability

Every request is handled in an OpenTelemetry server span, by default
named "ingress". The proxy measures the filters, the backend roundtrip
and the served requests with the configured metrics backend, and prints
an access log entry for every request.
*/
package proxy
