package tcpstack

import (
	"context"

	"github.com/datawire/dlib/dlog"
)

type state int32

const (
	stateListen state = iota
	stateSynSent
	stateSynReceived
	stateEstablished
	stateFinWait1
	stateFinWait2
	stateCloseWait
	stateLastAck
	stateTimeWait
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateListen:
		return "LISTEN"
	case stateSynSent:
		return "SYN-SENT"
	case stateSynReceived:
		return "SYN-RECEIVED"
	case stateEstablished:
		return "ESTABLISHED"
	case stateFinWait1:
		return "FIN-WAIT-1"
	case stateFinWait2:
		return "FIN-WAIT-2"
	case stateCloseWait:
		return "CLOSE-WAIT"
	case stateLastAck:
		return "LAST-ACK"
	case stateTimeWait:
		return "TIME-WAIT"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions enumerates the permitted state graph. CLOSING is
// deliberately absent: simultaneous close is not modelled.
var legalTransitions = map[state][]state{
	stateListen:      {stateSynReceived, stateClosed},
	stateSynSent:     {stateSynReceived, stateEstablished, stateClosed},
	stateSynReceived: {stateEstablished, stateClosed},
	stateEstablished: {stateFinWait1, stateCloseWait, stateClosed},
	stateFinWait1:    {stateFinWait2, stateTimeWait, stateClosed},
	stateFinWait2:    {stateTimeWait, stateClosed},
	stateCloseWait:   {stateLastAck, stateClosed},
	stateLastAck:     {stateClosed},
	stateTimeWait:    {stateClosed},
}

func (sk *socket) setState(ctx context.Context, to state) {
	for _, ok := range legalTransitions[sk.status] {
		if ok == to {
			sk.status = to
			return
		}
	}
	illegalStateTransition(ctx, sk.id, sk.status, to)
}

func illegalStateTransition(ctx context.Context, id SockID, from, to state) {
	dlog.Errorf(ctx, "sock %s: illegal state transition %s -> %s", id, from, to)
}
