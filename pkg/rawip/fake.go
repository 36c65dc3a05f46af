package rawip

import (
	"context"
	"sync"
)

// fakeDatagram is one payload in flight between two fakeTransports, tagged
// with the source address it was written from.
type fakeDatagram struct {
	src     [4]byte
	payload []byte
}

// fakeTransport is an in-memory Transport used by tcpstack's own tests, so
// they can drive the state machine end to end without opening a real raw
// socket (which would need CAP_NET_RAW).
type fakeTransport struct {
	self [4]byte
	in   chan fakeDatagram
	peer *fakeTransport

	mu     sync.Mutex
	closed bool
}

// NewFakePair returns two Transports addressed as addrA and addrB, each
// delivering to the other's ReadFrom.
func NewFakePair(addrA, addrB [4]byte) (Transport, Transport) {
	a := &fakeTransport{self: addrA, in: make(chan fakeDatagram, 64)}
	b := &fakeTransport{self: addrB, in: make(chan fakeDatagram, 64)}
	a.peer, b.peer = b, a
	return a, b
}

func (f *fakeTransport) ReadFrom(ctx context.Context) (src, dst [4]byte, payload []byte, err error) {
	select {
	case <-ctx.Done():
		return src, dst, nil, ctx.Err()
	case dg, ok := <-f.in:
		if !ok {
			return src, dst, nil, context.Canceled
		}
		return dg.src, f.self, dg.payload, nil
	}
}

func (f *fakeTransport) WriteTo(dst [4]byte, payload []byte) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case f.peer.in <- fakeDatagram{src: f.self, payload: cp}:
	default:
		// peer's inbound queue is full: drop, same as a lossy link.
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.in)
	}
	return nil
}
