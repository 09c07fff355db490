package minibgp

import (
	"context"
	"net/netip"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// State is the state of a Peer's FSM.
type State uint8

const (
	StateIdle State = iota
	StateConnect
	StateOpenSent
	StateOpenConfirm
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnect:
		return "connect"
	case StateOpenSent:
		return "openSent"
	case StateOpenConfirm:
		return "openConfirm"
	case StateEstablished:
		return "established"
	default:
		return "unknown"
	}
}

type transitionKey struct {
	state State
	event EventKind
}

// action handles an event and returns the state to transition to. A non-nil
// error resets the session.
type action func(p *Peer, ctx context.Context, e Event) (State, error)

// transitions holds every (state, event) pair the FSM reacts to. Events
// without an entry for the current state are discarded.
var transitions = map[transitionKey]action{
	{StateIdle, EventManualStart}:               (*Peer).manualStart,
	{StateConnect, EventTCPConnectionConfirmed}: (*Peer).tcpConnectionConfirmed,
	{StateOpenSent, EventBGPOpen}:               (*Peer).bgpOpen,
	{StateOpenConfirm, EventKeepAliveMsg}:       (*Peer).keepAliveMsg,
	{StateEstablished, EventEstablished}:        (*Peer).established,
}

// https://tools.ietf.org/html/rfc4271#section-8.2.2
func (p *Peer) manualStart(ctx context.Context, _ Event) (State, error) {
	/*
		In response to a ManualStart event (Event 1) or an AutomaticStart
		event (Event 3), the local system:

			- initializes all BGP resources for the peer connection,
			- [...]
			- initiates a TCP connection to the other BGP peer,
			- listens for a connection that may be initiated by the remote
			BGP peer, and
			- changes its state to Connect.

		The ConnectRetryTimer is not implemented, a failure to establish the
		transport leaves the FSM in the Idle state.
	*/
	conn, err := connect(ctx, p.config, p.options)
	if err != nil {
		return StateIdle, err
	}
	p.conn = conn
	p.events.Enqueue(tcpConnectionConfirmedEvent{})
	return StateConnect, nil
}

// https://tools.ietf.org/html/rfc4271#page-55
func (p *Peer) tcpConnectionConfirmed(_ context.Context, _ Event) (State, error) {
	/*
		If the DelayOpen attribute is set to FALSE, the local system:

			- stops the ConnectRetryTimer (if running) and sets the
			  ConnectRetryTimer to zero,
			- completes BGP initialization
			- sends an OPEN message to its peer,
			- sets the HoldTimer to a large value, and
			- changes its state to OpenSent.
	*/
	o := NewOpenMessage(p.config.LocalAS, p.options.holdTime, p.config.LocalIP)
	if err := p.conn.Send(o); err != nil {
		return StateIdle, errors.Wrap(err, "error sending open")
	}
	return StateOpenSent, nil
}

// https://tools.ietf.org/html/rfc4271#page-65
func (p *Peer) bgpOpen(_ context.Context, e Event) (State, error) {
	/*
		If there are no errors in the OPEN message (Event 19), the local
		system:

			- resets the DelayOpenTimer to zero,
			- sets the BGP ConnectRetryTimer to zero,
			- sends a KEEPALIVE message, and
			- sets a KeepaliveTimer (via the text below)
			- sets the HoldTimer according to the negotiated value (see
			  Section 4.2),
			- changes its state to OpenConfirm.
	*/
	open := e.(bgpOpenEvent).open
	if p.options.plugin != nil {
		if err := p.options.plugin.OnOpenMessage(p.config, open); err != nil {
			return StateIdle, errors.Wrap(err, "open message rejected")
		}
	}
	if err := p.conn.Send(&KeepAliveMessage{}); err != nil {
		return StateIdle, errors.Wrap(err, "error sending keepAlive")
	}
	return StateOpenConfirm, nil
}

// https://tools.ietf.org/html/rfc4271#page-70
func (p *Peer) keepAliveMsg(_ context.Context, _ Event) (State, error) {
	/*
		If the local system receives a KEEPALIVE message (KeepAliveMsg
		(Event 26)), the local system:

			- restarts the HoldTimer and
			- changes its state to Established.
	*/
	p.events.Enqueue(establishedEvent{})
	return StateEstablished, nil
}

func (p *Peer) established(ctx context.Context, _ Event) (State, error) {
	var routes []netip.Prefix
	if p.options.routeTable != nil {
		for _, n := range p.config.Networks {
			found, err := p.options.routeTable.Lookup(ctx, n)
			if err != nil {
				peerLogger(ctx, p.config).Warn("Route lookup failed",
					zap.Stringer("network", n), zap.Error(err))
				continue
			}
			routes = append(routes, found...)
		}
	}
	if p.options.plugin != nil {
		p.options.plugin.OnEstablished(p.config, routes)
	}
	return StateEstablished, nil
}
