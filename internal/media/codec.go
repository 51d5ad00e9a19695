package media

import (
	"fmt"
	"time"

	"github.com/zaf/g711"
)

// Codec represents an immutable audio codec specification.
// Use the pre-defined codec values (CodecPCMU, CodecTelephoneEvent) for RTP
// streaming.
type Codec struct {
	Name        string        // Codec name (e.g., "PCMU")
	PayloadType uint8         // RTP payload type (0 for PCMU, 101 for telephone-event)
	SampleRate  uint32        // Sample rate in Hz
	SampleDur   time.Duration // Duration per frame (typically 20ms)
}

// Pre-defined codecs for the formats this softphone handles.
var (
	// CodecPCMU is G.711 µ-law, the contracted streaming format.
	CodecPCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond}

	// CodecTelephoneEvent is RFC 4733 DTMF events.
	CodecTelephoneEvent = Codec{"telephone-event", DTMFPayloadType, 8000, 20 * time.Millisecond}
)

// SamplesPerFrame returns the number of samples in one frame.
// For 8kHz with 20ms frames, this returns 160.
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.SampleDur) / int(time.Second)
}

// BytesPerFrame returns the payload bytes per frame. G.711 encodes one byte
// per sample.
func (c Codec) BytesPerFrame() int {
	return c.SamplesPerFrame()
}

// TimestampIncrement returns the RTP timestamp increment per frame.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}

// Decoder turns an encoded RTP audio payload into linear PCM bytes.
// The µ-law decoder below covers G.711; other codecs (Opus) are plugged in
// by the application behind the same interface.
type Decoder interface {
	// Decode returns 16-bit little-endian PCM for the given payload.
	Decode(payload []byte) ([]byte, error)

	// PayloadType reports the RTP payload type this decoder handles.
	PayloadType() uint8
}

// ULawDecoder decodes G.711 µ-law audio (payload type 0).
type ULawDecoder struct{}

// Decode expands µ-law samples to 16-bit LPCM.
func (ULawDecoder) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}
	return g711.DecodeUlaw(payload), nil
}

// PayloadType returns the static payload type for PCMU.
func (ULawDecoder) PayloadType() uint8 {
	return CodecPCMU.PayloadType
}
