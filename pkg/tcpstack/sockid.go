package tcpstack

import "fmt"

// SockID identifies a connection by its four-tuple. Listening sockets use
// UndeterminedIP/UndeterminedPort for the remote half.
type SockID struct {
	LocalAddr  [4]byte
	RemoteAddr [4]byte
	LocalPort  uint16
	RemotePort uint16
}

// UndeterminedIP and UndeterminedPort are the sentinel remote-endpoint values
// carried by a listening socket's SockID.
var UndeterminedIP = [4]byte{0, 0, 0, 0}

const UndeterminedPort uint16 = 0

func (id SockID) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d->%d.%d.%d.%d:%d",
		id.LocalAddr[0], id.LocalAddr[1], id.LocalAddr[2], id.LocalAddr[3], id.LocalPort,
		id.RemoteAddr[0], id.RemoteAddr[1], id.RemoteAddr[2], id.RemoteAddr[3], id.RemotePort)
}

// listenerID returns the SockID a packet addressed to (localAddr, localPort)
// would match against a listening socket.
func listenerID(localAddr [4]byte, localPort uint16) SockID {
	return SockID{
		LocalAddr:  localAddr,
		LocalPort:  localPort,
		RemoteAddr: UndeterminedIP,
		RemotePort: UndeterminedPort,
	}
}
