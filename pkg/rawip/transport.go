// Package rawip provides the IPv4 transport this module's TCP core sends and
// receives segments over: a raw IPPROTO_TCP socket, plus the handful of
// socket-level knobs (receive/send buffer sizing) that only golang.org/x/sys
// exposes.
package rawip

import (
	"context"
	"net"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// Transport is the narrow interface the TCP core depends on. It is
// satisfied by socketTransport (real raw sockets) and by the in-memory pair
// in fake.go (tests).
type Transport interface {
	ReadFrom(ctx context.Context) (src, dst [4]byte, payload []byte, err error)
	WriteTo(dst [4]byte, payload []byte) error
	Close() error
}

const tcpProtocol = 6

// socketTransport is a raw IPPROTO_TCP socket, framed and parsed via
// golang.org/x/net/ipv4's RawConn so this package never hand-rolls IPv4
// header packing itself.
type socketTransport struct {
	raw *ipv4.RawConn
	pc  net.PacketConn
}

// NewSocketTransport opens a raw IPv4 socket bound to localAddr and tunes its
// kernel buffers. Requires CAP_NET_RAW (or root) at the OS level.
func NewSocketTransport(localAddr [4]byte, recvBufBytes, sendBufBytes int) (Transport, error) {
	pc, err := net.ListenPacket("ip4:tcp", net.IP(localAddr[:]).String())
	if err != nil {
		return nil, errors.Wrap(err, "rawip: listen")
	}
	raw, err := ipv4.NewRawConn(pc)
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "rawip: new raw conn")
	}
	t := &socketTransport{raw: raw, pc: pc}
	if err := t.setBuffers(recvBufBytes, sendBufBytes); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// setBuffers tunes SO_RCVBUF/SO_SNDBUF directly via golang.org/x/sys/unix;
// ipv4.RawConn has no portable API for this, so it's the one place this
// package drops to the raw syscall layer.
func (t *socketTransport) setBuffers(recvBufBytes, sendBufBytes int) error {
	sconn, ok := t.pc.(syscall.Conn)
	if !ok {
		return nil
	}
	sc, err := sconn.SyscallConn()
	if err != nil {
		// Not all net.PacketConn implementations expose SyscallConn the
		// same way across platforms; buffer tuning is best-effort.
		return nil
	}
	var ctrlErr error
	_ = sc.Control(func(fd uintptr) {
		if recvBufBytes > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufBytes); e != nil {
				ctrlErr = e
			}
		}
		if sendBufBytes > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufBytes); e != nil {
				ctrlErr = e
			}
		}
	})
	return ctrlErr
}

func (t *socketTransport) ReadFrom(ctx context.Context) (src, dst [4]byte, payload []byte, err error) {
	buf := make([]byte, 65535)
	type result struct {
		hdr     *ipv4.Header
		payload []byte
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		hdr, p, _, e := t.raw.ReadFrom(buf)
		ch <- result{hdr, p, e}
	}()
	select {
	case <-ctx.Done():
		return src, dst, nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return src, dst, nil, errors.Wrap(r.err, "rawip: read")
		}
		copy(src[:], r.hdr.Src.To4())
		copy(dst[:], r.hdr.Dst.To4())
		out := make([]byte, len(r.payload))
		copy(out, r.payload)
		return src, dst, out, nil
	}
}

func (t *socketTransport) WriteTo(dst [4]byte, payload []byte) error {
	hdr := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(payload),
		TTL:      64,
		Protocol: tcpProtocol,
		Dst:      net.IP(dst[:]),
	}
	if err := t.raw.WriteTo(hdr, payload, nil); err != nil {
		return errors.Wrap(err, "rawip: write")
	}
	return nil
}

func (t *socketTransport) Close() error {
	return t.pc.Close()
}
