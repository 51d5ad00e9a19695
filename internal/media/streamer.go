package media

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/sebas/dialtone/internal/metrics"
)

// Streamer paces a pre-encoded audio buffer into a SecureTransport as RTP
// packets, one frame per codec interval (20ms for PCMU), until the buffer
// is exhausted. UDP is fire-and-forget; there is no flow control.
type Streamer struct {
	transport *SecureTransport
	codec     Codec
	buf       []byte

	ssrc uint32
	seq  uint16
	ts   uint32

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewStreamer prepares a streamer for the given buffer. The buffer must
// already be in the codec's wire format (µ-law bytes for CodecPCMU); a
// mismatched buffer plays wrong but does no harm.
func NewStreamer(t *SecureTransport, codec Codec, buf []byte) *Streamer {
	return &Streamer{
		transport: t,
		codec:     codec,
		buf:       buf,
		ssrc:      GenerateSSRC(),
		seq:       TimeSeededSequence(),
		ts:        WallClockTimestamp(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins emitting frames in a background goroutine. It returns
// immediately; watch Done to observe completion.
func (s *Streamer) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop cancels the stream before its next scheduled frame. Safe to call
// multiple times and after completion.
func (s *Streamer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Done is closed once the streamer has emitted its last frame or was
// stopped.
func (s *Streamer) Done() <-chan struct{} {
	return s.done
}

func (s *Streamer) run() {
	defer close(s.done)

	frameBytes := s.codec.BytesPerFrame()
	ticker := time.NewTicker(s.codec.SampleDur)
	defer ticker.Stop()

	frames := 0
	for off := 0; off < len(s.buf); off += frameBytes {
		end := off + frameBytes
		if end > len(s.buf) {
			end = len(s.buf)
		}

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         off == 0, // start of talkspurt
				PayloadType:    s.codec.PayloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.ts,
				SSRC:           s.ssrc,
			},
			Payload: s.buf[off:end],
		}

		if err := s.transport.EncryptAndSend(pkt); err != nil {
			slog.Debug("[Streamer] Stopping on send error", "error", err)
			return
		}
		metrics.StreamerFrames.Inc()
		frames++
		s.seq++
		s.ts += s.codec.TimestampIncrement()

		if end == len(s.buf) {
			break
		}

		select {
		case <-s.stop:
			slog.Debug("[Streamer] Canceled", "frames", frames)
			return
		case <-s.transport.Done():
			return
		case <-ticker.C:
		}
	}
	slog.Debug("[Streamer] Buffer exhausted", "frames", frames)
}
