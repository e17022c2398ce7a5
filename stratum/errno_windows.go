//go:build windows

package stratum

import (
	"errors"
	"net"
	"strings"

	"golang.org/x/sys/windows"
)

func isUseOfClosedNetwork(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}

// isIgnoredAcceptError is the Windows counterpart of the unix errno
// table: WSAECONNRESET and friends are expected noise on a busy
// listener, not failures worth bubbling out of Serve.
func isIgnoredAcceptError(err error) bool {
	var errno windows.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case windows.WSAECONNRESET, windows.WSAECONNABORTED, windows.WSAETIMEDOUT, windows.WSAEMFILE:
		return true
	default:
		return false
	}
}
