package tcpstack

import (
	"context"

	"github.com/chemi123/toytcp/pkg/segment"
)

// handleListen is the LISTEN-state handler: it never mutates the listening
// socket itself, only spawns a child in SYN-RECEIVED.
func (s *Stack) handleListen(ctx context.Context, listener *socket, pktID SockID, hdr segment.Header, _ []byte) {
	if hdr.Flags&segment.FlagACK != 0 {
		return
	}
	if hdr.Flags&segment.FlagSYN == 0 {
		return
	}

	childID := SockID{
		LocalAddr:  pktID.LocalAddr,
		LocalPort:  pktID.LocalPort,
		RemoteAddr: pktID.RemoteAddr,
		RemotePort: pktID.RemotePort,
	}
	child := newSocket(childID, stateSynReceived, s.cfg.RecvBufferSize)
	child.recv.initialSeq = hdr.Seq
	child.recv.next = hdr.Seq + 1
	child.send.window = uint32(hdr.Window)
	listenID := listener.id
	child.listener = &listenID

	initialSeq := randomISN(s.portRnd)
	child.send.initialSeq = initialSeq
	child.send.unackedSeq = initialSeq
	child.send.next = initialSeq + 1

	s.reg.insert(child)
	_ = s.sendTracked(ctx, child, segment.FlagSYN|segment.FlagACK, initialSeq, child.recv.next, nil)
}

// handleSynReceived completes the server side of the handshake once the
// client's final ACK arrives.
func (s *Stack) handleSynReceived(ctx context.Context, sk *socket, hdr segment.Header) {
	if hdr.Flags&segment.FlagACK == 0 {
		return
	}
	if !seqInRange(sk.send.unackedSeq, hdr.Ack, sk.send.next) {
		return
	}
	// The handshake-completing ACK carries no payload, so its seq is exactly
	// the next byte expected from the peer.
	sk.recv.next = hdr.Seq
	sk.send.unackedSeq = hdr.Ack
	s.pruneAcked(ctx, sk)
	sk.setState(ctx, stateEstablished)

	if sk.listener != nil {
		if parent, ok := s.reg.lookup(*sk.listener); ok {
			parent.acceptQueue = append(parent.acceptQueue, sk.id)
			s.events.publish(parent.id, eventConnectionCompleted)
		}
	}
}

// handleSynSent handles the client side of the handshake, including the
// minimal simultaneous-open crossover (a SYN|ACK whose ack does not yet cover
// our SYN -> SYN-RECEIVED). A segment missing either SYN or ACK is dropped.
func (s *Stack) handleSynSent(ctx context.Context, sk *socket, hdr segment.Header, _ []byte) {
	if hdr.Flags&segment.FlagSYN == 0 || hdr.Flags&segment.FlagACK == 0 {
		return
	}
	if !seqInRangeInclusive(sk.send.unackedSeq, hdr.Ack, sk.send.next) {
		return
	}

	sk.recv.next = hdr.Seq + 1
	sk.recv.initialSeq = hdr.Seq
	sk.send.unackedSeq = hdr.Ack
	sk.send.window = uint32(hdr.Window)
	s.pruneAcked(ctx, sk)

	if seqBefore(sk.send.initialSeq, sk.send.unackedSeq) {
		sk.setState(ctx, stateEstablished)
		_ = s.sendBare(ctx, sk, segment.FlagACK, sk.send.next, sk.recv.next)
		s.events.publish(sk.id, eventConnectionCompleted)
	} else {
		sk.setState(ctx, stateSynReceived)
		_ = s.sendBare(ctx, sk, segment.FlagACK, sk.send.next, sk.recv.next)
	}
}

// handleEstablished is the steady-state data-transfer handler.
func (s *Stack) handleEstablished(ctx context.Context, sk *socket, hdr segment.Header, payload []byte) {
	if hdr.Flags&segment.FlagACK == 0 {
		return
	}
	if seqBefore(sk.send.next, hdr.Ack) {
		return // ACK beyond anything we've sent: drop silently
	}
	s.acceptAck(ctx, sk, hdr.Ack)
	sk.send.window = uint32(hdr.Window)
	// A window update carries no new ack, so acceptAck alone won't wake a
	// sender blocked on the old (possibly zero) window; publish unconditionally.
	s.events.publish(sk.id, eventAcked)

	if len(payload) > 0 {
		s.processPayload(ctx, sk, hdr.Seq, payload)
	}

	if hdr.Flags&segment.FlagFIN != 0 {
		sk.recv.next = hdr.Seq + 1
		_ = s.sendBare(ctx, sk, segment.FlagACK, sk.send.next, sk.recv.next)
		sk.setState(ctx, stateCloseWait)
		s.events.publish(sk.id, eventDataArrived)
	}
}

// handleFinWait covers FIN-WAIT-1 and FIN-WAIT-2. CLOSING is intentionally
// not modelled.
func (s *Stack) handleFinWait(ctx context.Context, sk *socket, hdr segment.Header, payload []byte) {
	if hdr.Flags&segment.FlagACK != 0 {
		s.acceptAck(ctx, sk, hdr.Ack)
	}
	if len(payload) > 0 {
		s.processPayload(ctx, sk, hdr.Seq, payload)
	}

	if sk.status == stateFinWait1 && sk.send.next == sk.send.unackedSeq {
		sk.setState(ctx, stateFinWait2)
	}

	if hdr.Flags&segment.FlagFIN != 0 {
		sk.recv.next++
		_ = s.sendBare(ctx, sk, segment.FlagACK, sk.send.next, sk.recv.next)
		sk.setState(ctx, stateTimeWait)
		s.armTimeWait(ctx, sk)
		s.events.publish(sk.id, eventConnectionClosed)
	}
}

// handleCloseWaitLastAck just tracks the peer's ACK of our FIN; the actual
// pruning and ConnectionClosed publication for LAST-ACK happens in the timer
// scan (retransmit.go), so a final ACK arriving between ticks is still
// observed even if it races the timer.
func (s *Stack) handleCloseWaitLastAck(ctx context.Context, sk *socket, hdr segment.Header) {
	if hdr.Flags&segment.FlagACK == 0 {
		return
	}
	sk.send.unackedSeq = hdr.Ack
}

// handleTimeWait accepts stray retransmits of the peer's view of our final
// ACK without changing state; only the TIME-WAIT timer or an explicit Close
// removes the entry.
func (s *Stack) handleTimeWait(ctx context.Context, sk *socket, hdr segment.Header) {
	if hdr.Flags&segment.FlagACK == 0 {
		return
	}
	s.acceptAck(ctx, sk, hdr.Ack)
}
