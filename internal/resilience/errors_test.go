package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation error", errors.New("invalid input: missing field"), false},
		{"duplicate key", errors.New("duplicate key value violates unique constraint"), false},
		{"connection reset errno", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"connection refused errno", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"reset by peer text", errors.New("read: connection reset by peer"), true},
		{"broken pipe text", errors.New("write: broken pipe"), true},
		{"tls handshake", errors.New("net/http: TLS handshake timeout"), true},
		{"io timeout", errors.New("read tcp 10.0.0.2:443: i/o timeout"), true},
		{"idle connection", errors.New("http: server closed idle connection"), true},
		{"postgres deadlock", errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), true},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"connection pool exhausted", errors.New("FATAL: too many connections"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIsTransient_WrappedCause(t *testing.T) {
	t.Parallel()
	inner := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	wrapped := fmt.Errorf("fetch awin feed: %w", inner)
	assert.True(t, IsTransient(wrapped))
}
