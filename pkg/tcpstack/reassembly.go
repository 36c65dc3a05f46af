package tcpstack

import (
	"context"

	"github.com/chemi123/toytcp/pkg/segment"
)

// processPayload folds an inbound segment's payload into sk's receive
// buffer, advancing the in-order frontier (recv.next) only when the segment
// closes a gap at the front.
func (s *Stack) processPayload(ctx context.Context, sk *socket, seq uint32, payload []byte) {
	if len(payload) == 0 {
		return
	}
	if seqBefore(seq, sk.recv.next) {
		// already delivered; drop without sending a duplicate ACK
		s.events.publish(sk.id, eventDataArrived)
		return
	}

	bufLen := uint32(len(sk.recvBuf))
	offset := (bufLen - sk.recv.window) + seqSub(seq, sk.recv.next)
	if offset >= bufLen {
		// receive buffer full; drop without ACK.
		return
	}

	copySize := minUint32(uint32(len(payload)), bufLen-offset)
	copy(sk.recvBuf[offset:offset+copySize], payload[:copySize])

	sk.recv.tail = seqMax(sk.recv.tail, seq+copySize)

	if seq == sk.recv.next {
		advanced := sk.recv.tail - sk.recv.next
		sk.recv.next = sk.recv.tail
		sk.recv.window -= advanced
	}

	if copySize > 0 {
		_ = s.sendBare(ctx, sk, segment.FlagACK, sk.send.next, sk.recv.next)
	}
	s.events.publish(sk.id, eventDataArrived)
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
