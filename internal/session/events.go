package session

import (
	"github.com/pion/rtp"

	"github.com/sebas/dialtone/internal/media"
)

// Events are the callbacks a session raises toward the application. All
// fields are optional. Media callbacks fire from the session's transport
// read goroutine in arrival order; signaling callbacks fire from the
// signaling dispatch goroutine. OnDisposed fires exactly once per session,
// whichever path tore it down.
type Events struct {
	// OnPacket fires for every decrypted inbound RTP packet.
	OnPacket func(pkt *rtp.Packet)

	// OnAudio fires for inbound audio with its decoded PCM.
	OnAudio func(pkt *rtp.Packet, pcm []byte)

	// OnDTMFPacket fires for every inbound telephone-event packet.
	OnDTMFPacket func(pkt *rtp.Packet, evt media.DTMFEvent)

	// OnDigit fires once per logical DTMF character.
	OnDigit func(digit rune)

	// OnAnswered fires when the call reaches the Answered state.
	OnAnswered func()

	// OnBusy fires once when a final non-2xx answer ends the call.
	OnBusy func()

	// OnDisposed is the terminal notification.
	OnDisposed func()
}
