package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{10, 0, 0, 2}
	hdr := Header{
		SrcPort: 40001,
		DstPort: 80,
		Seq:     1000,
		Ack:     2000,
		Flags:   FlagACK | FlagSYN,
		Window:  4096,
	}
	payload := []byte("hello")

	raw := Encode(hdr, payload, src, dst)
	require.True(t, VerifyChecksum(src, dst, raw))

	gotHdr, gotPayload, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, hdr.SrcPort, gotHdr.SrcPort)
	require.Equal(t, hdr.DstPort, gotHdr.DstPort)
	require.Equal(t, hdr.Seq, gotHdr.Seq)
	require.Equal(t, hdr.Ack, gotHdr.Ack)
	require.Equal(t, hdr.Flags, gotHdr.Flags)
	require.Equal(t, hdr.Window, gotHdr.Window)
	require.Equal(t, payload, gotPayload)
}

func TestVerifyChecksumDetectsCorruption(t *testing.T) {
	src := [4]byte{127, 0, 0, 1}
	dst := [4]byte{127, 0, 0, 1}
	raw := Encode(Header{SrcPort: 1, DstPort: 2, Flags: FlagACK}, []byte("payload"), src, dst)
	raw[len(raw)-1] ^= 0xff
	require.False(t, VerifyChecksum(src, dst, raw))
}

func TestDecodeShortPacket(t *testing.T) {
	_, _, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortPacket)
}
