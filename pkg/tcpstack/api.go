package tcpstack

import (
	"context"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/pkg/errors"

	"github.com/chemi123/toytcp/pkg/segment"
)

// buildHeader fills in the parts of a segment.Header common to every send:
// ports and flags/seq/ack are caller-supplied, window always reflects the
// socket's current advertised receive window.
func (sk *socket) buildHeader(flags uint8, seq, ack uint32) segment.Header {
	window := sk.recv.window
	if window > 0xffff {
		window = 0xffff // the 16-bit header field cannot carry more
	}
	return segment.Header{
		SrcPort: sk.id.LocalPort,
		DstPort: sk.id.RemotePort,
		Seq:     seq,
		Ack:     ack,
		Flags:   flags,
		Window:  uint16(window),
	}
}

// sendTracked encodes and transmits a segment that must survive loss: it is
// appended to the retransmission queue before being handed to the
// transport, so a concurrent timer tick can never observe it as sent but
// untracked.
func (s *Stack) sendTracked(ctx context.Context, sk *socket, flags uint8, seq, ack uint32, payload []byte) error {
	hdr := sk.buildHeader(flags, seq, ack)
	raw := segment.Encode(hdr, payload, s.localAddr, sk.id.RemoteAddr)
	sk.enqueueRetransmit(seq, raw, flags&segment.FlagFIN != 0, time.Now())
	if err := s.transport.WriteTo(sk.id.RemoteAddr, raw); err != nil {
		dlog.Errorf(ctx, "sock %s: send failed: %v", sk.id, err)
		return err
	}
	return nil
}

// sendBare encodes and transmits a segment with no retransmission tracking
// (a bare ACK).
func (s *Stack) sendBare(ctx context.Context, sk *socket, flags uint8, seq, ack uint32) error {
	hdr := sk.buildHeader(flags, seq, ack)
	raw := segment.Encode(hdr, nil, s.localAddr, sk.id.RemoteAddr)
	if err := s.transport.WriteTo(sk.id.RemoteAddr, raw); err != nil {
		dlog.Errorf(ctx, "sock %s: send failed: %v", sk.id, err)
		return err
	}
	return nil
}

// Listen registers a passive-open socket. No packet is sent.
func (s *Stack) Listen(ctx context.Context, localPort uint16) (SockID, error) {
	id := listenerID(s.localAddr, localPort)
	s.reg.Lock()
	defer s.reg.Unlock()
	if _, exists := s.reg.lookup(id); exists {
		return SockID{}, errors.Errorf("tcpstack: port %d already listening", localPort)
	}
	sk := newSocket(id, stateListen, s.cfg.RecvBufferSize)
	s.reg.insert(sk)
	return id, nil
}

// Connect performs an active open to (remoteAddr, remotePort) and blocks
// until the handshake completes or ctx is cancelled.
func (s *Stack) Connect(ctx context.Context, remoteAddr [4]byte, remotePort uint16) (SockID, error) {
	s.reg.Lock()
	localPort, err := selectUnusedPort(s.reg, s.portRnd, s.cfg.EphemeralPortLo, s.cfg.EphemeralPortHi)
	if err != nil {
		s.reg.Unlock()
		return SockID{}, err
	}
	id := SockID{LocalAddr: s.localAddr, LocalPort: localPort, RemoteAddr: remoteAddr, RemotePort: remotePort}
	sk := newSocket(id, stateSynSent, s.cfg.RecvBufferSize)
	initialSeq := randomISN(s.portRnd)
	sk.send.initialSeq = initialSeq
	sk.send.unackedSeq = initialSeq
	sk.send.next = initialSeq + 1
	s.reg.insert(sk)
	sendErr := s.sendTracked(ctx, sk, segment.FlagSYN, initialSeq, 0, nil)
	if sendErr != nil {
		s.reg.remove(id)
	}
	s.reg.Unlock()
	if sendErr != nil {
		return SockID{}, errors.Wrapf(sendErr, "tcpstack: connect %s: send SYN", id)
	}

	if err := s.events.wait(ctx, id, eventConnectionCompleted); err != nil {
		s.reg.Lock()
		s.reg.remove(id)
		s.reg.Unlock()
		return SockID{}, err
	}
	return id, nil
}

// randomISN draws an initial sequence number in [1, 2^31).
func randomISN(rnd *portRand) uint32 {
	return uint32(1 + rnd.draw((1<<31)-1))
}

// Accept blocks until a handshake completes against the given listening
// socket, then returns the newly established child's SockID.
func (s *Stack) Accept(ctx context.Context, listenID SockID) (SockID, error) {
	for {
		s.reg.Lock()
		listener, ok := s.reg.lookup(listenID)
		if !ok {
			s.reg.Unlock()
			return SockID{}, wrapLookupMiss(listenID)
		}
		if len(listener.acceptQueue) > 0 {
			child := listener.acceptQueue[0]
			listener.acceptQueue = listener.acceptQueue[1:]
			s.reg.Unlock()
			return child, nil
		}
		s.reg.Unlock()

		if err := s.events.wait(ctx, listenID, eventConnectionCompleted); err != nil {
			return SockID{}, err
		}
	}
}

// Send transmits buf in MSS-sized (or smaller, window-limited) segments,
// returning once every byte has been placed on the wire.
func (s *Stack) Send(ctx context.Context, id SockID, buf []byte) error {
	remaining := buf
	for len(remaining) > 0 {
		s.reg.Lock()
		sk, ok := s.reg.lookup(id)
		if !ok {
			s.reg.Unlock()
			return wrapLookupMiss(id)
		}
		switch sk.status {
		case stateFinWait1, stateFinWait2, stateLastAck, stateTimeWait:
			s.reg.Unlock()
			return errors.Wrapf(ErrConnectionClosed, "tcpstack: send %s", id)
		}
		sendable := minInt(s.cfg.MSS, minInt(int(sk.send.window), len(remaining)))
		if sendable <= 0 {
			s.reg.Unlock()
			if err := s.events.wait(ctx, id, eventAcked); err != nil {
				return err
			}
			continue
		}
		chunk := remaining[:sendable]
		seq := sk.send.next
		sendErr := s.sendTracked(ctx, sk, segment.FlagACK, seq, sk.recv.next, chunk)
		if sendErr != nil {
			s.reg.Unlock()
			return errors.Wrapf(sendErr, "tcpstack: send %s", id)
		}
		sk.send.next += uint32(sendable)
		sk.send.window -= uint32(sendable)
		s.reg.Unlock()

		remaining = remaining[sendable:]
	}
	return nil
}

// Recv copies up to len(out) bytes into out, blocking if none are yet
// available. Returns (0, nil) once the peer has sent FIN and no more data
// will ever arrive.
func (s *Stack) Recv(ctx context.Context, id SockID, out []byte) (int, error) {
	for {
		s.reg.Lock()
		sk, ok := s.reg.lookup(id)
		if !ok {
			s.reg.Unlock()
			return 0, wrapLookupMiss(id)
		}
		available := len(sk.recvBuf) - int(sk.recv.window)
		if available > 0 {
			n := minInt(len(out), available)
			copy(out, sk.recvBuf[:n])
			copy(sk.recvBuf, sk.recvBuf[n:])
			sk.recv.window += uint32(n)
			// Announce the freed space: without this, a sender that filled
			// the window before any drain happened has no future segment
			// that could ever carry an updated window back to it.
			_ = s.sendBare(ctx, sk, segment.FlagACK, sk.send.next, sk.recv.next)
			s.reg.Unlock()
			return n, nil
		}
		switch sk.status {
		case stateCloseWait, stateLastAck, stateTimeWait:
			s.reg.Unlock()
			return 0, nil
		}
		s.reg.Unlock()

		if err := s.events.wait(ctx, id, eventDataArrived); err != nil {
			return 0, err
		}
	}
}

// Close initiates (or completes) the close of a connection. For an
// ESTABLISHED or CLOSE-WAIT socket it sends FIN, blocks for the peer's
// acknowledgement of the full teardown, then removes the registry entry. For
// LISTEN it removes the entry immediately with no segment sent.
func (s *Stack) Close(ctx context.Context, id SockID) error {
	s.reg.Lock()
	sk, ok := s.reg.lookup(id)
	if !ok {
		s.reg.Unlock()
		return wrapLookupMiss(id)
	}

	switch sk.status {
	case stateListen:
		s.reg.remove(id)
		s.reg.Unlock()
		return nil
	case stateEstablished:
		seq := sk.send.next
		sendErr := s.sendTracked(ctx, sk, segment.FlagFIN|segment.FlagACK, seq, sk.recv.next, nil)
		if sendErr != nil {
			s.reg.Unlock()
			return errors.Wrapf(sendErr, "tcpstack: close %s: send FIN", id)
		}
		sk.send.next++
		sk.setState(ctx, stateFinWait1)
	case stateCloseWait:
		seq := sk.send.next
		sendErr := s.sendTracked(ctx, sk, segment.FlagFIN|segment.FlagACK, seq, sk.recv.next, nil)
		if sendErr != nil {
			s.reg.Unlock()
			return errors.Wrapf(sendErr, "tcpstack: close %s: send FIN", id)
		}
		sk.send.next++
		sk.setState(ctx, stateLastAck)
	default:
		s.reg.Unlock()
		return nil
	}
	// A Send blocked waiting on window for this socket has no other way to
	// learn that it can no longer send at all now that our FIN is queued.
	s.events.publish(id, eventAcked)
	s.reg.Unlock()

	if err := s.events.wait(ctx, id, eventConnectionClosed); err != nil {
		s.reg.Lock()
		s.reg.remove(id)
		s.reg.Unlock()
		return err
	}
	s.reg.Lock()
	s.reg.remove(id)
	s.reg.Unlock()
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
