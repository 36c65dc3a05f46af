package tcpstack

import (
	"context"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/chemi123/toytcp/pkg/segment"
)

// timerLoop is the single background goroutine that scans every socket's
// retransmission queue on a fixed interval, pruning acknowledged entries and
// retransmitting (up to a bounded retry count) whatever has timed out.
func (s *Stack) timerLoop(ctx context.Context) {
	defer s.wg.Done()
	defer recoverPanic(ctx, "timerLoop")
	ticker := time.NewTicker(s.cfg.TimerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanRetransmissions(ctx)
		}
	}
}

func (s *Stack) scanRetransmissions(ctx context.Context) {
	s.reg.Lock()
	sockets := s.reg.all()
	s.reg.Unlock()

	now := time.Now()
	for _, sk := range sockets {
		s.reg.Lock()
		s.scanOne(ctx, sk, now)
		s.reg.Unlock()
	}
}

// scanOne processes one socket's retransmission queue from the head: acked
// entries are dropped and credited, the first not-yet-timed-out entry stops
// the scan for this socket, and an entry past the retry cap is dropped for
// good.
func (s *Stack) scanOne(ctx context.Context, sk *socket, now time.Time) {
	for {
		e := sk.popRetransmitHead()
		if e == nil {
			return
		}

		if seqBefore(e.seq, sk.send.unackedSeq) {
			payloadLen := len(e.raw) - segment.HeaderLen
			if payloadLen > 0 {
				sk.send.window += uint32(payloadLen)
			}
			s.events.publish(sk.id, eventAcked)
			if e.carriesFin && sk.status == stateLastAck {
				s.events.publish(sk.id, eventConnectionClosed)
			}
			continue
		}

		if now.Sub(e.firstSent) < s.cfg.RetransmitTimeout {
			sk.requeueFront(e)
			return
		}

		if e.attempts < s.cfg.MaxRetransmits {
			if err := s.transport.WriteTo(sk.id.RemoteAddr, e.raw); err != nil {
				dlog.Errorf(ctx, "sock %s: retransmit failed: %v", sk.id, err)
			}
			e.firstSent = now
			e.attempts++
			sk.requeueBack(e)
			return
		}

		// Retry budget exhausted: drop the entry for good.
		if e.carriesFin {
			switch sk.status {
			case stateLastAck, stateFinWait1, stateFinWait2:
				s.events.publish(sk.id, eventConnectionClosed)
			}
		}
		return
	}
}

// armTimeWait schedules removal of sk from the registry after the
// configured 2*MSL duration, so TIME-WAIT connections don't accumulate in
// the registry forever.
func (s *Stack) armTimeWait(ctx context.Context, sk *socket) {
	id := sk.id
	sk.timeWaitTimer = time.AfterFunc(s.cfg.TimeWaitDuration, func() {
		s.reg.Lock()
		defer s.reg.Unlock()
		if cur, ok := s.reg.lookup(id); ok && cur.status == stateTimeWait {
			s.reg.remove(id)
		}
	})
}
