package httpx

import (
	"context"
	"net"
)

// Listen announces on addr like net.Listen. On platforms that support it the
// socket gets SO_REUSEADDR, and tcp6 sockets are made IPv6-only so that a
// tcp4 and a tcp6 listener can share one port.
func Listen(ctx context.Context, network, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: listenControl(network)}
	return lc.Listen(ctx, network, addr)
}

// SupportsIPv6 reports whether the host can bind an IPv6 loopback socket.
func SupportsIPv6() bool {
	ln, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
