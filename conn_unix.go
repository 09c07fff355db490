//go:build unix

package minibgp

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// readAvailable reads from the socket without waiting for it to become
// readable. The runtime keeps sockets in non-blocking mode, so the read
// returns EAGAIN when nothing is buffered by the kernel.
func (c *Connection) readAvailable(b []byte) (int, error) {
	if c.raw == nil {
		return c.readWithDeadline(b)
	}
	var (
		n       int
		readErr error
	)
	err := c.raw.Read(func(fd uintptr) bool {
		n, readErr = unix.Read(int(fd), b)
		// never wait for readability
		return true
	})
	if err != nil {
		return 0, errors.WithStack(err)
	}
	switch {
	case errors.Is(readErr, unix.EAGAIN), errors.Is(readErr, unix.EWOULDBLOCK):
		return 0, errWouldBlock
	case errors.Is(readErr, unix.EINTR):
		return 0, nil
	case readErr != nil:
		return 0, errors.WithStack(readErr)
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}
