package tcpstack

import "github.com/pkg/errors"

// ErrLookupMiss is returned when an operation names a SockID that is not
// present in the registry.
var ErrLookupMiss = errors.New("socket not found")

// ErrNoAvailablePort is returned when selectUnusedPort exhausts its attempts.
var ErrNoAvailablePort = errors.New("no available port found")

// ErrConnectionClosed is returned by Send once the local side's own FIN is
// already queued (FIN-WAIT-1/2, LAST-ACK, TIME-WAIT): there is no state left
// in which more application data could ever legally go out.
var ErrConnectionClosed = errors.New("connection closed")

func wrapLookupMiss(id SockID) error {
	return errors.Wrapf(ErrLookupMiss, "sock %s", id)
}
