/*
Package flowid implements a filter used for identifying incoming requests
through their complete lifecycle for logging and monitoring.

Flow Ids let you correlate the proxy access log entries for a given
request against the backend logs for that same request. The flow id is
passed to the backend in the X-Flow-Id header.

# Usage

	flowId()

Without any parameters, the filter doesn't reuse existing X-Flow-Id
headers, and generates new ones with the generator of the filter spec,
ULID by default.

	flowId("reuse")

With the string "reuse" the filter accepts an existing X-Flow-Id header,
if it's a valid flow id for the generator in use. Otherwise a new flow id
is generated.

	flowId("reuse", "uuid")

The second parameter selects the generator, "ulid" or "uuid".
*/
package flowid
