package media

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"
	"time"
)

// ssrcCounter hands out process-locally distinct SSRC values. It is seeded
// randomly once so concurrent processes on the same host do not collide.
var ssrcCounter atomic.Uint32

func init() {
	ssrcCounter.Store(GenerateSSRC())
}

// GenerateSSRC generates a cryptographically random 32-bit SSRC.
// Per RFC 3550, the SSRC should be chosen randomly to minimize
// collisions in multi-party sessions.
func GenerateSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unreachable on supported
		// platforms; fall back to the clock.
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}

// NextSSRC returns an SSRC distinct from every other one handed out by this
// process. Used for short-lived streams (DTMF bursts) where a fresh source
// identity is wanted per burst.
func NextSSRC() uint32 {
	return ssrcCounter.Add(1)
}

// TimeSeededSequence returns a starting RTP sequence number derived from the
// current time.
func TimeSeededSequence() uint16 {
	return uint16(time.Now().UnixNano() / int64(time.Millisecond))
}

// WallClockTimestamp returns an RTP timestamp seeded from wall-clock seconds.
func WallClockTimestamp() uint32 {
	return uint32(time.Now().Unix())
}
