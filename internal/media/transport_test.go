package media

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyingMaterial(t *testing.T) {
	b64, err := GenerateKeyingMaterial()
	require.NoError(t, err)

	key, salt, err := decodeKeyingMaterial(b64)
	require.NoError(t, err)
	assert.Len(t, key, MasterKeyLen)
	assert.Len(t, salt, MasterSaltLen)

	other, err := GenerateKeyingMaterial()
	require.NoError(t, err)
	assert.NotEqual(t, b64, other)
}

func TestDecodeKeyingMaterialRejectsBadInput(t *testing.T) {
	_, _, err := decodeKeyingMaterial("not base64!!!")
	assert.Error(t, err)

	// Valid base64, wrong length.
	_, _, err = decodeKeyingMaterial("c2hvcnQ=")
	assert.Error(t, err)
}

func TestEncryptAndSendBeforeRemoteKey(t *testing.T) {
	local, err := GenerateKeyingMaterial()
	require.NoError(t, err)

	tr, err := NewSecureTransport(local, "127.0.0.1", 9, nil, TransportEvents{})
	require.NoError(t, err)
	defer tr.Close()

	assert.False(t, tr.Ready())
	err = tr.EncryptAndSend(&rtp.Packet{Header: rtp.Header{Version: 2}})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestCloseIsIdempotent(t *testing.T) {
	local, err := GenerateKeyingMaterial()
	require.NoError(t, err)

	tr, err := NewSecureTransport(local, "127.0.0.1", 9, nil, TransportEvents{})
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	select {
	case <-tr.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
}

// transportPair wires two transports over loopback so packets sent by a
// arrive at b.
func transportPair(t *testing.T, events TransportEvents) (a, b *SecureTransport) {
	t.Helper()

	keyA, err := GenerateKeyingMaterial()
	require.NoError(t, err)
	keyB, err := GenerateKeyingMaterial()
	require.NoError(t, err)

	b, err = NewSecureTransport(keyB, "127.0.0.1", 9, ULawDecoder{}, events)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	a, err = NewSecureTransport(keyA, "127.0.0.1", b.LocalPort(), nil, TransportEvents{})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NoError(t, a.SetRemoteKey(keyB))
	require.NoError(t, b.SetRemoteKey(keyA))
	b.Start()
	return a, b
}

func TestTransportDeliversAudio(t *testing.T) {
	packets := make(chan *rtp.Packet, 8)
	audio := make(chan []byte, 8)
	a, _ := transportPair(t, TransportEvents{
		OnPacket: func(pkt *rtp.Packet) { packets <- pkt },
		OnAudio:  func(_ *rtp.Packet, pcm []byte) { audio <- pcm },
	})

	payload := make([]byte, 160)
	err := a.EncryptAndSend(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    CodecPCMU.PayloadType,
			SequenceNumber: 7000,
			Timestamp:      123456,
			SSRC:           0xDEADBEEF,
		},
		Payload: payload,
	})
	require.NoError(t, err)

	select {
	case pkt := <-packets:
		assert.Equal(t, uint16(7000), pkt.SequenceNumber)
		assert.Equal(t, uint32(0xDEADBEEF), pkt.SSRC)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}

	select {
	case pcm := <-audio:
		// 16-bit LPCM: two bytes per µ-law sample.
		assert.Len(t, pcm, 320)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded audio")
	}
}

func TestDecryptFailureDropsOnlyThatDatagram(t *testing.T) {
	packets := make(chan *rtp.Packet, 8)
	a, _ := transportPair(t, TransportEvents{
		OnPacket: func(pkt *rtp.Packet) { packets <- pkt },
	})

	send := func(seq uint16) {
		err := a.EncryptAndSend(&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    CodecPCMU.PayloadType,
				SequenceNumber: seq,
				SSRC:           0x1234,
			},
			Payload: make([]byte, 160),
		})
		require.NoError(t, err)
	}

	recv := func() uint16 {
		select {
		case pkt := <-packets:
			return pkt.SequenceNumber
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for packet")
			return 0
		}
	}

	send(100)
	assert.Equal(t, uint16(100), recv())

	// An unencrypted datagram fails authentication on the receiver. Only
	// that datagram is dropped; the stream keeps flowing.
	garbage := make([]byte, 64)
	garbage[0] = 0x80
	require.NoError(t, a.Send(garbage))

	send(101)
	assert.Equal(t, uint16(101), recv())
}

func TestDTMFBurstEmitsDigitOnce(t *testing.T) {
	dtmfPackets := make(chan DTMFEvent, 16)
	digits := make(chan rune, 4)
	a, _ := transportPair(t, TransportEvents{
		OnDTMFPacket: func(_ *rtp.Packet, evt DTMFEvent) { dtmfPackets <- evt },
		OnDigit:      func(d rune) { digits <- d },
	})

	payloads, err := DigitToPayloads('5')
	require.NoError(t, err)

	seq := uint16(200)
	ts := uint32(800000)
	for i, payload := range payloads {
		err := a.EncryptAndSend(&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    DTMFPayloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           0x5555,
			},
			Payload: payload,
		})
		require.NoError(t, err)
		seq++
	}

	select {
	case d := <-digits:
		assert.Equal(t, '5', d)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for digit")
	}

	// Every telephone-event packet surfaces, but the redundant end packets
	// collapse into one logical digit.
	deadline := time.After(2 * time.Second)
	for i := 0; i < len(payloads); i++ {
		select {
		case <-dtmfPackets:
		case <-deadline:
			t.Fatalf("only %d of %d dtmf packets arrived", i, len(payloads))
		}
	}
	select {
	case d := <-digits:
		t.Fatalf("unexpected duplicate digit %q", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPunchIsIgnoredByReceiver(t *testing.T) {
	packets := make(chan *rtp.Packet, 8)
	a, _ := transportPair(t, TransportEvents{
		OnPacket: func(pkt *rtp.Packet) { packets <- pkt },
	})

	require.NoError(t, a.Punch())
	select {
	case <-packets:
		t.Fatal("hole-punch datagram must not surface as a packet")
	case <-time.After(100 * time.Millisecond):
	}
}
