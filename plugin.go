package minibgp

import (
	"net/netip"
)

// Plugin is notified of session events by a Peer. Callbacks run on the
// goroutine driving the Peer and must not block.
type Plugin interface {
	// OnOpenMessage is fired when an Open message is received from the peer
	// during the OpenSent state. Returning a non-nil error drops the
	// connection and the FSM transitions to the Idle state.
	OnOpenMessage(peer Config, open OpenMessage) error

	// OnEstablished is fired once after the FSM transitions to the
	// Established state. routes holds the entries of the route table matching
	// the configured networks.
	OnEstablished(peer Config, routes []netip.Prefix)

	// OnClose is fired when the FSM transitions out of the Established
	// state.
	OnClose(peer Config)
}
