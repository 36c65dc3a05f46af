// Package segment implements encoding, decoding, and checksum validation for
// the fixed 20-byte TCP header this module's state machine speaks: source
// and destination port, sequence and acknowledgement numbers, flags, and
// advertised window. No TCP options are emitted or parsed — MSS is a fixed
// module-wide constant, not negotiated (see tcpstack's Config).
package segment

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagACK uint8 = 1 << 4
)

// HeaderLen is the on-wire size of a Header with no options.
const HeaderLen = 20

// Header is the subset of a TCP header this stack needs.
type Header struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   uint8
	Window  uint16
}

// ErrShortPacket is returned by Decode when raw is too small to hold a
// complete header.
var ErrShortPacket = errors.New("segment: packet shorter than header")

// Encode serializes hdr and payload into one wire-ready byte slice, with the
// checksum field computed over the IPv4 pseudo-header plus the segment.
func Encode(hdr Header, payload []byte, srcIP, dstIP [4]byte) []byte {
	buf := make([]byte, HeaderLen+len(payload))
	putHeader(buf, hdr)
	copy(buf[HeaderLen:], payload)
	cksum := checksum(srcIP, dstIP, buf)
	binary.BigEndian.PutUint16(buf[16:18], cksum)
	return buf
}

func putHeader(buf []byte, hdr Header) {
	binary.BigEndian.PutUint16(buf[0:2], hdr.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], hdr.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], hdr.Seq)
	binary.BigEndian.PutUint32(buf[8:12], hdr.Ack)
	buf[12] = (HeaderLen / 4) << 4 // data offset: 5 32-bit words, no options
	buf[13] = hdr.Flags
	binary.BigEndian.PutUint16(buf[14:16], hdr.Window)
	binary.BigEndian.PutUint16(buf[16:18], 0) // checksum, filled by caller
	binary.BigEndian.PutUint16(buf[18:20], 0) // urgent pointer, unused
}

// Decode parses a wire segment into its header and payload. It does not
// validate the checksum; call VerifyChecksum separately once the caller
// knows the IPv4 source/destination the segment arrived on.
func Decode(raw []byte) (Header, []byte, error) {
	if len(raw) < HeaderLen {
		return Header{}, nil, ErrShortPacket
	}
	dataOffsetWords := int(raw[12] >> 4)
	hdrLen := dataOffsetWords * 4
	if hdrLen < HeaderLen || len(raw) < hdrLen {
		return Header{}, nil, ErrShortPacket
	}
	hdr := Header{
		SrcPort: binary.BigEndian.Uint16(raw[0:2]),
		DstPort: binary.BigEndian.Uint16(raw[2:4]),
		Seq:     binary.BigEndian.Uint32(raw[4:8]),
		Ack:     binary.BigEndian.Uint32(raw[8:12]),
		Flags:   raw[13],
		Window:  binary.BigEndian.Uint16(raw[14:16]),
	}
	return hdr, raw[hdrLen:], nil
}

// VerifyChecksum recomputes the pseudo-header checksum over raw (as received
// off the wire, checksum field included) and reports whether it is valid.
func VerifyChecksum(srcIP, dstIP [4]byte, raw []byte) bool {
	return checksum(srcIP, dstIP, raw) == 0
}

// checksum computes the TCP checksum (RFC 793 §3.1) over the IPv4
// pseudo-header followed by the segment bytes. When raw already carries a
// nonzero checksum field, the ones-complement sum of everything (including
// that field) comes out to zero for a valid segment — the standard
// fold-and-complement self-check. When raw's checksum field is still zero
// (the Encode path), the result is the checksum value to store.
func checksum(srcIP, dstIP [4]byte, raw []byte) uint16 {
	var sum uint32

	sum += uint32(binary.BigEndian.Uint16(srcIP[0:2]))
	sum += uint32(binary.BigEndian.Uint16(srcIP[2:4]))
	sum += uint32(binary.BigEndian.Uint16(dstIP[0:2]))
	sum += uint32(binary.BigEndian.Uint16(dstIP[2:4]))
	sum += uint32(6) // protocol number for TCP
	sum += uint32(len(raw))

	for i := 0; i+1 < len(raw); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(raw[i : i+2]))
	}
	if len(raw)%2 == 1 {
		sum += uint32(raw[len(raw)-1]) << 8
	}

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
