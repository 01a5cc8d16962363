package cartbridge

import "sync"

// Transport is one direction-agnostic frame channel. Delivery mirrors
// cross-document messaging: a send while the counterpart has no listener
// attached is silently dropped and cannot be detected by the sender.
type Transport interface {
	Send(env Envelope)
	Receive() <-chan Envelope
	Close()
}

type channelTransport struct {
	mu     sync.Mutex
	peer   *channelTransport
	inbox  chan Envelope
	closed bool
}

// NewPair returns two connected transports, one per side of the frame
// boundary. Inboxes are buffered; overflow behaves like a dropped message.
func NewPair() (Transport, Transport) {
	a := &channelTransport{inbox: make(chan Envelope, 64)}
	b := &channelTransport{inbox: make(chan Envelope, 64)}
	a.peer = b
	b.peer = a
	return a, b
}

func (t *channelTransport) Send(env Envelope) {
	peer := t.peer
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return
	}
	select {
	case peer.inbox <- env:
	default:
		// Counterpart is not draining; postMessage semantics are lossy.
	}
}

func (t *channelTransport) Receive() <-chan Envelope {
	return t.inbox
}

func (t *channelTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.inbox)
}
