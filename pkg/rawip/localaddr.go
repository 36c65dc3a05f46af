package rawip

import (
	"net"

	"github.com/pkg/errors"
)

// PrimaryIPv4 reports the local IPv4 address the kernel would pick to reach
// the wider internet, using the standard "UDP dial, no packet ever leaves"
// trick: no UDP packet is actually sent, but the kernel still has to pick a
// source address and route for it, which is all this needs.
func PrimaryIPv4() ([4]byte, error) {
	var out [4]byte
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return out, errors.Wrap(err, "rawip: discover local address")
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return out, errors.New("rawip: unexpected local address type")
	}
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return out, errors.New("rawip: local address is not IPv4")
	}
	copy(out[:], ip4)
	return out, nil
}
