package minibgp

import (
	"net/netip"
	"syscall"
)

// md5SocketControl returns a net.Dialer/net.ListenConfig Control function
// setting an RFC 2385 signature for remote on the socket.
func md5SocketControl(remote netip.Addr, key string) func(network,
	address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var seterr error
		err := c.Control(func(fdPtr uintptr) {
			prefixLen := uint8(32)
			if !remote.Is4() {
				prefixLen = 128
			}
			seterr = SetTCPMD5Signature(int(fdPtr), remote, prefixLen, key)
		})
		if err != nil {
			return err
		}
		return seterr
	}
}
