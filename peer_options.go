package minibgp

import (
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/jwhited/minibgp/rib"
)

type peerOptions struct {
	port              int
	holdTime          HoldTime
	pollInterval      time.Duration
	dialerControlFn   func(network, address string, c syscall.RawConn) error
	listenerControlFn func(network, address string, c syscall.RawConn) error
	md5Key            string
	plugin            Plugin
	routeTable        rib.Table
}

func (p peerOptions) validate() error {
	if p.port < 1 || p.port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if p.pollInterval <= 0 {
		return errors.New("poll interval must be > 0")
	}
	if len(p.md5Key) > 0 && (p.dialerControlFn != nil || p.listenerControlFn != nil) {
		return errors.New("tcp md5 signature and socket control functions are mutually exclusive")
	}
	return nil
}

type PeerOption interface {
	apply(*peerOptions)
}

const (
	// DefaultPort is the default TCP port for a peer.
	DefaultPort = 179
	// DefaultPollInterval is the default time Peer.Run waits between steps
	// when there is no event to handle.
	DefaultPollInterval = time.Millisecond * 10
)

func defaultPeerOptions() peerOptions {
	return peerOptions{
		port:         DefaultPort,
		holdTime:     DefaultHoldTime,
		pollInterval: DefaultPollInterval,
	}
}

type funcPeerOption struct {
	fn func(*peerOptions)
}

func (f *funcPeerOption) apply(p *peerOptions) {
	f.fn(p)
}

func newFuncPeerOption(f func(*peerOptions)) *funcPeerOption {
	return &funcPeerOption{
		fn: f,
	}
}

// WithPort returns a PeerOption that sets the TCP port for a peer. In active
// mode it is the remote port dialed, in passive mode the local port listened
// on.
func WithPort(p int) PeerOption {
	return newFuncPeerOption(func(o *peerOptions) {
		o.port = p
	})
}

// WithHoldTime returns a PeerOption that sets the hold time proposed in
// outbound OPEN messages.
func WithHoldTime(t HoldTime) PeerOption {
	return newFuncPeerOption(func(o *peerOptions) {
		o.holdTime = t
	})
}

// WithPollInterval returns a PeerOption that sets how long Peer.Run waits
// between steps when there is no event to handle.
func WithPollInterval(d time.Duration) PeerOption {
	return newFuncPeerOption(func(o *peerOptions) {
		o.pollInterval = d
	})
}

// WithDialerControl returns a PeerOption that sets the outbound net.Dialer
// Control field. This is commonly used to set socket options, e.g. ip TTL,
// tcp_nodelay, etc...
func WithDialerControl(fn func(network, address string,
	c syscall.RawConn) error) PeerOption {
	return newFuncPeerOption(func(o *peerOptions) {
		o.dialerControlFn = fn
	})
}

// WithListenerControl returns a PeerOption that sets the net.ListenConfig
// Control field used in passive mode.
func WithListenerControl(fn func(network, address string,
	c syscall.RawConn) error) PeerOption {
	return newFuncPeerOption(func(o *peerOptions) {
		o.listenerControlFn = fn
	})
}

// WithTCPMD5Signature returns a PeerOption that protects the session with an
// RFC 2385 TCP MD5 signature. It is only supported on Linux.
func WithTCPMD5Signature(key string) PeerOption {
	return newFuncPeerOption(func(o *peerOptions) {
		o.md5Key = key
	})
}

// WithPlugin returns a PeerOption that sets the Plugin notified of session
// events.
func WithPlugin(p Plugin) PeerOption {
	return newFuncPeerOption(func(o *peerOptions) {
		o.plugin = p
	})
}

// WithRouteTable returns a PeerOption that sets the route table the
// configured networks are looked up in once the session is established.
func WithRouteTable(t rib.Table) PeerOption {
	return newFuncPeerOption(func(o *peerOptions) {
		o.routeTable = t
	})
}
