/*
Package logging implements application log instrumentation and Apache
combined access log.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import logrus and use its
methods. Example:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
		log.Errorf("nothing to do")
	}

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, to set the log level, and
to set a common prefix for each log entry. Setting the prefix may be a
good idea when the access log is enabled and its output is the same as
the one of the application log, to make it easier to split the output
for diagnostics.

# Access Log

The access log prints HTTP access information in the Apache combined
access log format, extended with the request duration and the requested
host. The remote user field contains the claim value injected by the
jwtClaimHeader filter. To output entries, use the LogAccess function.
The proxy calls it for every request unless the access log is disabled.

When the JSON format is enabled, the entries are printed as JSON objects,
and the additional fields passed to LogAccess, e.g. the reject reason of
the jwtClaimHeader filter or the flow id, are included.
*/
package logging
