/*
Package auth provides the jwtClaimHeader filter, copying a claim of the
bearer token into a request header.

JwtClaimHeader - Copy a JWT claim into a header

The filter reads the first Authorization header of the request. The
value must be a bearer token, "Bearer <token>", where the token is a
JWT. The signature of the token is not verified: the filter assumes that
an earlier component, or the backend, takes care of it.

The configuration is a JSON object with the name of the top level claim
and the name of the header to set:

	jwtClaimHeader(`{"claim": "sub", "header": "X-User-Id"}`)

The claim and the header can be set as two arguments, too, optionally
followed by the maximum size of the accepted tokens:

	jwtClaimHeader("sub", "X-User-Id")
	jwtClaimHeader("https://example.org/tenant", "X-Tenant-Id", 4096)

The decisions of the filter:

	missing Authorization header      403  Access forbidden.
	not a bearer token                400  invalid auth header
	malformed or oversized token      400  invalid jwt auth header: <details>
	claim not in the token            400  claim not found
	claim with control characters     400  invalid claim value
	otherwise                         forwarded, with the claim added to the header

The 400 responses carry the X-Jwt-Claim-Header: invalid header, so the
clients can tell them apart from the responses of the backend. Text
claims are set as they are, other claim values are rendered in their
JSON form, numbers without trailing zeros.

The existing values of the configured header are kept, the claim is
added as the last value. A client can send the header itself, and then
its own value is the first one the backend sees:

	X-User-Id: admin           sent by the client
	X-User-Id: 1234567890      added from the token

Backends must read the last value of the header, e.g. with
Header.Values in Go, and not the first one, as returned by Header.Get.
Alternatively, the header can be removed from the incoming requests by
a component in front of the proxy.

Metrics

The filter counts its decisions with the following keys, prefixed with
the name of the filter:

	jwtClaimHeader.forward
	jwtClaimHeader.missing-token
	jwtClaimHeader.invalid-token-type
	jwtClaimHeader.invalid-token
	jwtClaimHeader.missing-claim
	jwtClaimHeader.invalid-claim

Audit log

The accepted claim is stored as the authenticated user in the state bag,
and the reason and the response body of the rejections as the reject
reason and detail, see the auditLog filter.
*/
package auth
