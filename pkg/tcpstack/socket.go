package tcpstack

import "time"

// sendParams tracks the local side's sequence-space bookkeeping for the
// outgoing byte stream.
type sendParams struct {
	initialSeq uint32
	unackedSeq uint32
	next       uint32
	window     uint32 // peer's advertised receive window
}

// recvParams tracks the local side's bookkeeping for the incoming byte
// stream, including the high-water mark reached by out-of-order reassembly.
type recvParams struct {
	initialSeq uint32
	next       uint32 // lowest sequence not yet delivered in-order
	tail       uint32 // highest contiguous+gap-filled sequence reached
	window     uint32 // local free space in recvBuf
}

// retransmitEntry is one outstanding (unacknowledged) outgoing segment. The
// queue is a singly linked FIFO so the timer can splice entries without
// shifting a slice.
type retransmitEntry struct {
	seq        uint32 // first sequence number this segment occupies
	raw        []byte // encoded segment, ready to retransmit verbatim
	carriesFin bool
	firstSent  time.Time
	attempts   int
	next       *retransmitEntry
}

// socket is one connection's full record: identity, state, flow-control
// bookkeeping, buffers, and queues. Every field is only ever touched while
// the owning registry's lock is held.
type socket struct {
	id     SockID
	status state

	send sendParams
	recv recvParams

	recvBuf []byte // fixed capacity; logically shifted left on each Recv

	retransHead *retransmitEntry
	retransTail *retransmitEntry

	acceptQueue []SockID // FIFO of established children, LISTEN sockets only

	listener *SockID // back-reference to the parent LISTEN socket, if any

	timeWaitTimer *time.Timer
}

func newSocket(id SockID, st state, recvBufSize int) *socket {
	return &socket{
		id:      id,
		status:  st,
		recvBuf: make([]byte, recvBufSize),
		recv:    recvParams{window: uint32(recvBufSize)},
	}
}

// enqueueRetransmit appends a freshly sent segment to the tail of the
// retransmission queue.
func (sk *socket) enqueueRetransmit(seq uint32, raw []byte, carriesFin bool, now time.Time) {
	e := &retransmitEntry{seq: seq, raw: raw, carriesFin: carriesFin, firstSent: now, attempts: 1}
	if sk.retransTail == nil {
		sk.retransHead, sk.retransTail = e, e
		return
	}
	sk.retransTail.next = e
	sk.retransTail = e
}

// popRetransmitHead removes and returns the head entry, or nil if empty.
func (sk *socket) popRetransmitHead() *retransmitEntry {
	e := sk.retransHead
	if e == nil {
		return nil
	}
	sk.retransHead = e.next
	if sk.retransHead == nil {
		sk.retransTail = nil
	}
	e.next = nil
	return e
}

// requeueFront pushes an entry back onto the head of the queue (used by the
// timer when a segment isn't ready to be pruned or resent yet).
func (sk *socket) requeueFront(e *retransmitEntry) {
	e.next = sk.retransHead
	sk.retransHead = e
	if sk.retransTail == nil {
		sk.retransTail = e
	}
}

// requeueBack moves a just-retransmitted entry to the tail.
func (sk *socket) requeueBack(e *retransmitEntry) {
	e.next = nil
	if sk.retransTail == nil {
		sk.retransHead, sk.retransTail = e, e
		return
	}
	sk.retransTail.next = e
	sk.retransTail = e
}
