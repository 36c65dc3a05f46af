package tcpstack

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	mrand "math/rand"
)

// newPortRand builds a math/rand source seeded from crypto/rand, so port
// allocation is unpredictable across process restarts without paying
// crypto/rand's cost on every draw.
func newPortRand() *mrand.Rand {
	var seed int64
	if n, err := rand.Int(rand.Reader, big.NewInt(1<<62)); err == nil {
		seed = n.Int64()
	} else {
		var buf [8]byte
		_, _ = rand.Read(buf[:])
		seed = int64(binary.LittleEndian.Uint64(buf[:]))
	}
	return mrand.New(mrand.NewSource(seed))
}

// selectUnusedPort draws a random ephemeral port in [lo, hi) not already
// bound to a local socket in the registry. Caller must hold the registry
// lock.
func selectUnusedPort(r *registry, rnd *portRand, lo, hi int) (uint16, error) {
	span := hi - lo
	for attempt := 0; attempt < span; attempt++ {
		port := uint16(lo + rnd.draw(span))
		if !r.hasLocalPort(port) {
			return port, nil
		}
	}
	return 0, ErrNoAvailablePort
}
