//go:build linux || darwin || freebsd

package stratum

import (
	"errors"
	"net"
	"strings"

	"golang.org/x/sys/unix"
)

// isUseOfClosedNetwork reports whether err is the well-known
// "use of closed network connection" error net.Listener.Accept returns
// after Close, which Serve triggers intentionally on shutdown and must
// not log as a failure.
func isUseOfClosedNetwork(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}

// isIgnoredAcceptError reports whether err is one of the transient,
// expected socket errors a busy listener sees under normal churn
// (a client resetting or aborting before the handshake completes) and
// that should not interrupt the accept loop, mirroring the per-OS errno
// handling the teacher isolates into its own build-tagged file for
// TCP_INFO access.
func isIgnoredAcceptError(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case unix.ECONNRESET, unix.ECONNABORTED, unix.EPIPE, unix.ETIMEDOUT, unix.ECANCELED, unix.EMFILE, unix.ENFILE:
		return true
	default:
		return false
	}
}
