package transport

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenReusable binds addr the way the original's evconnlistener_new_bind
// did with LEV_OPT_REUSEABLE: SO_REUSEADDR set before bind, so a restarted
// listener can immediately reclaim a port still draining from the previous
// attempt's TIME_WAIT sockets.
func ListenReusable(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(ctx, "tcp", addr)
}
