package tcpstack

// Sequence numbers live in a 32-bit wraparound space; plain < / <= comparisons
// break once a connection's sequence counter crosses 2^32. All comparisons
// funnel through these helpers instead.

// seqBefore reports whether a comes strictly before b in sequence space.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// seqBeforeEq reports whether a comes before or equal to b.
func seqBeforeEq(a, b uint32) bool {
	return a == b || seqBefore(a, b)
}

// seqInRange reports whether lo < v <= hi, wraparound-safe. Used for ACK
// acceptance: unackedSeq < ack <= next.
func seqInRange(lo, v, hi uint32) bool {
	return seqBefore(lo, v) && seqBeforeEq(v, hi)
}

// seqInRangeInclusive reports whether lo <= v <= hi, wraparound-safe. Used
// by the SYN-SENT handler, where an ack equal to unackedSeq (our SYN not yet
// acknowledged) is let through to reach the simultaneous-open branch.
func seqInRangeInclusive(lo, v, hi uint32) bool {
	return seqBeforeEq(lo, v) && seqBeforeEq(v, hi)
}

// seqMax returns whichever of a, b is later in sequence space.
func seqMax(a, b uint32) uint32 {
	if seqBefore(a, b) {
		return b
	}
	return a
}

// seqSub returns a - b as a plain (possibly "negative" when viewed as int32,
// but here always used where a is known to be >= b) wraparound difference.
func seqSub(a, b uint32) uint32 {
	return a - b
}
