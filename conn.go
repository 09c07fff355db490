package minibgp

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	readBufferSize = 4096
	// maxDrainBytes bounds the buffered bytes above which GetMessage stops
	// reading from the socket.
	maxDrainBytes = 4 * maxMessageLength
	// pollReadTimeout bounds a read on connections that cannot be read
	// without blocking through their file descriptor.
	pollReadTimeout = time.Millisecond
)

var errWouldBlock = errors.New("read would block")

// Connection frames the byte stream of a TCP connection into BGP messages.
// It is not safe for concurrent use.
type Connection struct {
	conn    net.Conn
	raw     syscall.RawConn
	buffer  bytes.Buffer
	readBuf []byte
	readErr error
}

// NewConnection returns a Connection framing messages read from conn.
func NewConnection(conn net.Conn) *Connection {
	c := &Connection{
		conn:    conn,
		readBuf: make([]byte, readBufferSize),
	}
	if sc, ok := conn.(syscall.Conn); ok {
		if raw, err := sc.SyscallConn(); err == nil {
			c.raw = raw
		}
	}
	return c
}

// Connect establishes the transport for config. In active mode it dials the
// remote address, in passive mode it listens on the local address and accepts
// the first connection from the remote address. ctx cancels a pending dial or
// accept.
func Connect(ctx context.Context, config Config, opts ...PeerOption) (*Connection, error) {
	o := defaultPeerOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	if err := o.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid peer options")
	}
	return connect(ctx, config, o)
}

func connect(ctx context.Context, config Config, opts peerOptions) (*Connection, error) {
	var (
		conn net.Conn
		err  error
	)
	switch config.Mode {
	case ModeActive:
		conn, err = dial(ctx, config, opts)
	case ModePassive:
		conn, err = accept(ctx, config, opts)
	default:
		return nil, errors.Errorf("unknown mode: %d", config.Mode)
	}
	if err != nil {
		return nil, err
	}
	return NewConnection(conn), nil
}

func (p peerOptions) dialerControl(remote netip.Addr) func(network,
	address string, c syscall.RawConn) error {
	if len(p.md5Key) > 0 {
		return md5SocketControl(remote, p.md5Key)
	}
	return p.dialerControlFn
}

func (p peerOptions) listenerControl(remote netip.Addr) func(network,
	address string, c syscall.RawConn) error {
	if len(p.md5Key) > 0 {
		return md5SocketControl(remote, p.md5Key)
	}
	return p.listenerControlFn
}

func dial(ctx context.Context, config Config, opts peerOptions) (net.Conn, error) {
	raddr := net.JoinHostPort(config.RemoteIP.String(), strconv.Itoa(opts.port))
	dialer := &net.Dialer{
		LocalAddr: net.TCPAddrFromAddrPort(netip.AddrPortFrom(config.LocalIP, 0)),
		Control:   opts.dialerControl(config.RemoteIP),
	}
	conn, err := dialer.DialContext(ctx, "tcp4", raddr)
	if err != nil {
		return nil, newConnectionError("dial", raddr, errors.WithStack(err))
	}
	return conn, nil
}

func accept(ctx context.Context, config Config, opts peerOptions) (net.Conn, error) {
	log := logger.Get(ctx)

	laddr := net.JoinHostPort(config.LocalIP.String(), strconv.Itoa(opts.port))
	lc := &net.ListenConfig{
		Control: opts.listenerControl(config.RemoteIP),
	}
	lis, err := lc.Listen(ctx, "tcp4", laddr)
	if err != nil {
		return nil, newConnectionError("listen", laddr, errors.WithStack(err))
	}
	defer lis.Close()

	// Accept does not observe ctx, closing the listener unblocks it.
	doneCh := make(chan struct{})
	defer close(doneCh)
	go func() {
		select {
		case <-ctx.Done():
			lis.Close()
		case <-doneCh:
		}
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return nil, newConnectionError("accept", laddr, errors.WithStack(err))
		}
		remote := addrOf(conn.RemoteAddr())
		if remote != config.RemoteIP {
			log.Info("Rejecting connection from unexpected address",
				zap.Stringer("remote", remote), zap.Stringer("expected", config.RemoteIP))
			conn.Close()
			continue
		}
		return conn, nil
	}
}

func addrOf(a net.Addr) netip.Addr {
	if t, ok := a.(*net.TCPAddr); ok {
		return t.AddrPort().Addr().Unmap()
	}
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.Addr{}
	}
	return ap.Addr().Unmap()
}

// Send writes the encoded message to the connection.
func (c *Connection) Send(m Message) error {
	if _, err := c.conn.Write(m.Encode()); err != nil {
		return newConnectionError("write", c.conn.RemoteAddr().String(),
			errors.WithStack(err))
	}
	return nil
}

// GetMessage returns the next complete message received on the connection
// without blocking. It returns a nil Message if no complete message has been
// received yet. Messages that fail to decode are discarded.
//
// A *ConversionError is returned if the length field of the buffered header
// is invalid, as the message boundary cannot be determined. A
// *ConnectionError is returned once the connection has failed and all
// buffered messages have been returned.
func (c *Connection) GetMessage(ctx context.Context) (Message, error) {
	if c.readErr == nil {
		if err := c.drain(); err != nil {
			c.readErr = newConnectionError("read", c.conn.RemoteAddr().String(), err)
		}
	}
	b, err := c.nextFrame()
	if err != nil {
		return nil, err
	}
	if b == nil {
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, nil
	}
	m, err := DecodeMessage(b)
	if err != nil {
		logger.Get(ctx).Debug("Discarding malformed message",
			zap.Binary("message", b), zap.Error(err))
		return nil, nil
	}
	return m, nil
}

// drain reads what is immediately available on the connection into the
// buffer until the buffer holds maxDrainBytes. The rest is left in the socket
// for a later call.
func (c *Connection) drain() error {
	for c.buffer.Len() < maxDrainBytes {
		n, err := c.readAvailable(c.readBuf)
		if n > 0 {
			c.buffer.Write(c.readBuf[:n])
		}
		if errors.Is(err, errWouldBlock) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) readWithDeadline(b []byte) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(pollReadTimeout)); err != nil {
		return 0, errors.WithStack(err)
	}
	n, err := c.conn.Read(b)
	if n > 0 {
		return n, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, errWouldBlock
	}
	if err == nil {
		return 0, errWouldBlock
	}
	if errors.Is(err, io.EOF) {
		return 0, io.EOF
	}
	return 0, errors.WithStack(err)
}

// nextFrame removes and returns the first complete message from the buffer.
// It returns nil if the buffer does not hold a complete message.
func (c *Connection) nextFrame() ([]byte, error) {
	buffered := c.buffer.Bytes()
	if len(buffered) < headerLength {
		return nil, nil
	}
	length := int(binary.BigEndian.Uint16(buffered[lengthFieldOffset:]))
	if length < headerLength || length > maxMessageLength {
		return nil, newConversionError(errors.Errorf(
			"bad message length: %d", length))
	}
	if len(buffered) < length {
		return nil, nil
	}
	frame := make([]byte, length)
	copy(frame, c.buffer.Next(length))
	return frame, nil
}

// Close closes the underlying connection.
func (c *Connection) Close() error {
	return errors.WithStack(c.conn.Close())
}
