package minibgp

import (
	"context"
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Peer is the event driven state machine of a single BGP session. A Peer is
// driven by repeated calls to Next and must only be used from one goroutine.
type Peer struct {
	config  Config
	options peerOptions

	state  State
	events EventQueue
	conn   *Connection
}

// NewPeer returns a Peer for config in the Idle state.
func NewPeer(config Config, opts ...PeerOption) (*Peer, error) {
	o := defaultPeerOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	if err := o.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid peer options")
	}
	if err := config.validate(); err != nil {
		return nil, errors.Wrap(err, "peer config invalid")
	}
	config.Networks = append([]netip.Prefix(nil), config.Networks...)
	return &Peer{
		config:  config,
		options: o,
		state:   StateIdle,
	}, nil
}

// Config returns the configuration of the peer.
func (p *Peer) Config() Config {
	return p.config
}

// State returns the current state of the FSM.
func (p *Peer) State() State {
	return p.state
}

// Start enqueues a ManualStart event. It performs no I/O.
func (p *Peer) Start() {
	p.events.Enqueue(manualStartEvent{})
}

// Next advances the peer by one step. It handles at most one queued event and
// then polls the connection once for a received message, which is enqueued to
// be handled by a later step.
//
// Next blocks while establishing the transport in response to ManualStart and
// while writing to the connection, reading never blocks. If an error is
// returned the connection has been closed, the queue cleared and the FSM is
// in the Idle state.
func (p *Peer) Next(ctx context.Context) error {
	log := peerLogger(ctx, p.config)

	if e, ok := p.events.Dequeue(); ok {
		if err := p.handleEvent(ctx, log, e); err != nil {
			return err
		}
	}

	if p.conn == nil {
		return nil
	}
	m, err := p.conn.GetMessage(ctx)
	if err != nil {
		log.Error("Session failed", zap.Stringer("state", p.state), zap.Error(err))
		p.reset()
		return err
	}
	if m == nil {
		return nil
	}
	if e, ok := eventFromMessage(m); ok {
		p.events.Enqueue(e)
	}
	return nil
}

func (p *Peer) handleEvent(ctx context.Context, log *zap.Logger, e Event) error {
	act, ok := transitions[transitionKey{state: p.state, event: e.Kind()}]
	if !ok {
		log.Debug("Discarding event", zap.Stringer("state", p.state),
			zap.Stringer("event", e.Kind()))
		return nil
	}
	to, err := act(p, ctx, e)
	if err != nil {
		log.Error("FSM error", zap.Stringer("state", p.state),
			zap.Stringer("event", e.Kind()), zap.Error(err))
		p.reset()
		return err
	}
	if to != p.state {
		log.Info("FSM transition", zap.Stringer("from", p.state),
			zap.Stringer("to", to), zap.Stringer("event", e.Kind()))
	}
	p.state = to
	return nil
}

// reset releases the session's resources and returns the FSM to Idle.
func (p *Peer) reset() error {
	if p.state == StateEstablished && p.options.plugin != nil {
		p.options.plugin.OnClose(p.config)
	}
	var err error
	if p.conn != nil {
		err = p.conn.Close()
		p.conn = nil
	}
	p.events.clear()
	p.state = StateIdle
	return err
}

// Close closes the connection of the peer, if any, and returns the FSM to
// the Idle state.
func (p *Peer) Close() error {
	return p.reset()
}

// Run starts the peer and drives it until ctx is done or a step fails. Run
// sleeps for the poll interval between steps when no event is queued. The
// connection is closed before Run returns.
func (p *Peer) Run(ctx context.Context) error {
	defer p.Close() // nolint: errcheck

	p.Start()
	for {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		if err := p.Next(ctx); err != nil {
			return err
		}
		if p.events.Len() > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-time.After(p.options.pollInterval):
		}
	}
}
