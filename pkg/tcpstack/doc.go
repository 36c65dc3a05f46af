// Package tcpstack implements a user-space TCP connection core: a
// four-tuple-keyed registry of connections, a blocking connect/listen/
// accept/send/recv/close API, and the two background goroutines (receive,
// timer) that drive the state machine, flow control, retransmission, and
// out-of-order reassembly behind it.
//
// Congestion control, TCP options beyond a fixed MSS, urgent data, selective
// acknowledgement, and IPv6 are not implemented.
package tcpstack
