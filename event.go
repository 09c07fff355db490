package minibgp

// EventKind identifies an Event.
//
// https://www.rfc-editor.org/rfc/rfc4271.html#section-8.1
type EventKind uint8

const (
	// EventManualStart is Event 1, ManualStart.
	EventManualStart EventKind = iota + 1
	// EventTCPConnectionConfirmed is Event 17, TcpConnectionConfirmed.
	EventTCPConnectionConfirmed
	// EventBGPOpen is Event 19, BGPOpen.
	EventBGPOpen
	// EventKeepAliveMsg is Event 26, KeepAliveMsg.
	EventKeepAliveMsg
	// EventEstablished is not an RFC event. It is enqueued locally once the
	// session enters the Established state.
	EventEstablished
)

func (e EventKind) String() string {
	switch e {
	case EventManualStart:
		return "manualStart"
	case EventTCPConnectionConfirmed:
		return "tcpConnectionConfirmed"
	case EventBGPOpen:
		return "bgpOpen"
	case EventKeepAliveMsg:
		return "keepAliveMsg"
	case EventEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// Event is an input to a Peer's state machine.
type Event interface {
	Kind() EventKind
}

type manualStartEvent struct{}

func (manualStartEvent) Kind() EventKind { return EventManualStart }

type tcpConnectionConfirmedEvent struct{}

func (tcpConnectionConfirmedEvent) Kind() EventKind { return EventTCPConnectionConfirmed }

type bgpOpenEvent struct {
	open OpenMessage
}

func (bgpOpenEvent) Kind() EventKind { return EventBGPOpen }

type keepAliveMsgEvent struct {
	keepAlive KeepAliveMessage
}

func (keepAliveMsgEvent) Kind() EventKind { return EventKeepAliveMsg }

type establishedEvent struct{}

func (establishedEvent) Kind() EventKind { return EventEstablished }

// eventFromMessage returns the Event corresponding to a received message.
func eventFromMessage(m Message) (Event, bool) {
	switch m := m.(type) {
	case *OpenMessage:
		return bgpOpenEvent{open: *m}, true
	case *KeepAliveMessage:
		return keepAliveMsgEvent{keepAlive: *m}, true
	default:
		return nil, false
	}
}

// EventQueue is a FIFO queue of Events.
type EventQueue struct {
	events []Event
}

// Enqueue appends e to the tail of the queue.
func (q *EventQueue) Enqueue(e Event) {
	q.events = append(q.events, e)
}

// Dequeue removes and returns the head of the queue. It returns false if the
// queue is empty.
func (q *EventQueue) Dequeue() (Event, bool) {
	if len(q.events) == 0 {
		return nil, false
	}
	e := q.events[0]
	q.events[0] = nil
	q.events = q.events[1:]
	return e, true
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	return len(q.events)
}

func (q *EventQueue) clear() {
	q.events = nil
}
