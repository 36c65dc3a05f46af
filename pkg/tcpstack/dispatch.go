package tcpstack

import (
	"context"
	"errors"

	"github.com/datawire/dlib/dlog"

	"github.com/chemi123/toytcp/pkg/segment"
)

// receiveLoop is the single background goroutine that reads inbound
// segments off the transport, looks up the socket they belong to, and
// dispatches to that socket's per-state handler.
func (s *Stack) receiveLoop(ctx context.Context) {
	defer s.wg.Done()
	defer recoverPanic(ctx, "receiveLoop")
	for {
		src, dst, raw, err := s.transport.ReadFrom(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			dlog.Errorf(ctx, "receiveLoop: read failed: %v", err)
			continue
		}
		s.handleInbound(ctx, src, dst, raw)
	}
}

func (s *Stack) handleInbound(ctx context.Context, src, dst [4]byte, raw []byte) {
	hdr, payload, err := segment.Decode(raw)
	if err != nil {
		dlog.Debugf(ctx, "receiveLoop: decode failed: %v", err)
		return
	}
	if !segment.VerifyChecksum(src, dst, raw) {
		dlog.Debugf(ctx, "receiveLoop: bad checksum from %v", src)
		return
	}

	id := SockID{LocalAddr: dst, LocalPort: hdr.DstPort, RemoteAddr: src, RemotePort: hdr.SrcPort}

	s.reg.Lock()
	defer s.reg.Unlock()

	sk, ok := s.reg.lookupWithListenerFallback(id)
	if !ok {
		dlog.Debugf(ctx, "receiveLoop: no socket for %s", id)
		return
	}

	switch sk.status {
	case stateListen:
		s.handleListen(ctx, sk, id, hdr, payload)
	case stateSynSent:
		s.handleSynSent(ctx, sk, hdr, payload)
	case stateSynReceived:
		s.handleSynReceived(ctx, sk, hdr)
	case stateEstablished:
		s.handleEstablished(ctx, sk, hdr, payload)
	case stateFinWait1, stateFinWait2:
		s.handleFinWait(ctx, sk, hdr, payload)
	case stateCloseWait, stateLastAck:
		s.handleCloseWaitLastAck(ctx, sk, hdr)
	case stateTimeWait:
		s.handleTimeWait(ctx, sk, hdr)
	}
}

// acceptAck applies the shared ACK-acceptance policy (unackedSeq < ack <=
// next) to sk, pruning the retransmission queue and publishing eventAcked
// for each entry it retires. Returns whether the ACK was in range.
func (s *Stack) acceptAck(ctx context.Context, sk *socket, ack uint32) bool {
	if !seqInRange(sk.send.unackedSeq, ack, sk.send.next) {
		return false
	}
	sk.send.unackedSeq = ack
	s.pruneAcked(ctx, sk)
	return true
}

// pruneAcked pops every retransmission-queue entry whose sequence is now
// below unackedSeq, crediting window and publishing eventAcked for each.
func (s *Stack) pruneAcked(ctx context.Context, sk *socket) {
	for sk.retransHead != nil && seqBefore(sk.retransHead.seq, sk.send.unackedSeq) {
		e := sk.popRetransmitHead()
		payloadLen := len(e.raw) - segment.HeaderLen
		if payloadLen > 0 {
			sk.send.window += uint32(payloadLen)
		}
		s.events.publish(sk.id, eventAcked)
		if e.carriesFin && sk.status == stateLastAck {
			s.events.publish(sk.id, eventConnectionClosed)
		}
	}
}
