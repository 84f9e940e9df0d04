// Package resilience provides retry with exponential backoff and the
// transient-error classification used by feed fetches and batch upserts.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// transientFragments are matched against the lowercased error text. String
// matching is a last resort for errors that arrive flattened through driver
// and HTTP-client wrapping, where errors.Is cannot reach the cause.
var transientFragments = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
	"deadlock detected",  // concurrent batch upserts on postgres
	"database is locked", // sqlite under write contention
	"too many connections",
}

// IsTransient reports whether err looks like a temporary fault worth
// retrying: a network timeout, a dropped connection, or a database under
// momentary contention. It is the default classifier for Do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, f := range transientFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}
