package media

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/srtp/v2"

	"github.com/sebas/dialtone/internal/metrics"
)

// SRTP master keying material sizes for AES_CM_128_HMAC_SHA1_80.
const (
	MasterKeyLen  = 16
	MasterSaltLen = 14
	// KeyingMaterialLen is the combined key+salt length carried in SDP.
	KeyingMaterialLen = MasterKeyLen + MasterSaltLen
)

// ErrNotReady is returned when a media operation is attempted before the
// remote SRTP key has been learned via signaling.
var ErrNotReady = errors.New("media: srtp context not established")

// TransportEvents are the callbacks a SecureTransport raises for inbound
// media. All callbacks fire from the transport's single read goroutine, so
// implementations see packets in arrival order without extra locking.
type TransportEvents struct {
	// OnPacket fires for every successfully decrypted RTP packet.
	OnPacket func(pkt *rtp.Packet)

	// OnAudio fires for decoded audio packets with the decoded PCM.
	OnAudio func(pkt *rtp.Packet, pcm []byte)

	// OnDTMFPacket fires for every telephone-event packet.
	OnDTMFPacket func(pkt *rtp.Packet, evt DTMFEvent)

	// OnDigit fires once per logical DTMF character, on its first
	// end-of-event payload.
	OnDigit func(digit rune)
}

// SecureTransport owns one UDP socket for a call and the SRTP contexts
// protecting it. Outbound packets are encrypted with the local master key,
// inbound datagrams decrypted with the remote one; decrypted packets are
// classified as audio or telephone-event and surfaced through
// TransportEvents.
//
// The remote peer learns our endpoint from the source address of the first
// datagram we send (see Punch), not from signaling.
type SecureTransport struct {
	conn   *net.UDPConn
	remote *net.UDPAddr

	localKey  []byte
	localSalt []byte

	decoder Decoder
	events  TransportEvents

	mu         sync.Mutex
	encryptCtx *srtp.Context
	decryptCtx *srtp.Context
	closed     bool

	// Read-loop state, touched only by the read goroutine.
	tracker      SequenceTracker
	lastEndEvent uint8
	lastEndDur   uint16
	haveEnd      bool

	done chan struct{}
}

// NewSecureTransport binds an ephemeral local UDP port for media to the
// given remote endpoint. localKeyingMaterial is the process-wide 30-byte
// master key+salt this side offered in its SDP, base64-encoded.
func NewSecureTransport(localKeyingMaterial string, remoteIP string, remotePort int, decoder Decoder, events TransportEvents) (*SecureTransport, error) {
	key, salt, err := decodeKeyingMaterial(localKeyingMaterial)
	if err != nil {
		return nil, fmt.Errorf("local srtp key: %w", err)
	}

	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return nil, fmt.Errorf("invalid remote media address %q", remoteIP)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("bind media socket: %w", err)
	}

	return &SecureTransport{
		conn:      conn,
		remote:    &net.UDPAddr{IP: ip, Port: remotePort},
		localKey:  key,
		localSalt: salt,
		decoder:   decoder,
		events:    events,
		done:      make(chan struct{}),
	}, nil
}

// decodeKeyingMaterial splits base64 SRTP keying material into the 16-byte
// master key and 14-byte master salt.
func decodeKeyingMaterial(b64 string) (key, salt []byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, nil, fmt.Errorf("decode keying material: %w", err)
	}
	if len(raw) != KeyingMaterialLen {
		return nil, nil, fmt.Errorf("keying material is %d bytes, want %d", len(raw), KeyingMaterialLen)
	}
	return raw[:MasterKeyLen], raw[MasterKeyLen:], nil
}

// GenerateKeyingMaterial returns fresh base64 SRTP keying material suitable
// for an SDP crypto attribute.
func GenerateKeyingMaterial() (string, error) {
	raw := make([]byte, KeyingMaterialLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate keying material: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// SetRemoteKey installs the peer's base64 keying material and builds the
// encryption and decryption contexts. Must be called before the first
// EncryptAndSend and before inbound datagrams can be decrypted. Calling it
// again replaces both contexts.
func (t *SecureTransport) SetRemoteKey(b64 string) error {
	remoteKey, remoteSalt, err := decodeKeyingMaterial(b64)
	if err != nil {
		return fmt.Errorf("remote srtp key: %w", err)
	}

	encryptCtx, err := srtp.CreateContext(t.localKey, t.localSalt, srtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		return fmt.Errorf("create encrypt context: %w", err)
	}
	decryptCtx, err := srtp.CreateContext(remoteKey, remoteSalt, srtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		return fmt.Errorf("create decrypt context: %w", err)
	}

	t.mu.Lock()
	t.encryptCtx = encryptCtx
	t.decryptCtx = decryptCtx
	t.mu.Unlock()
	return nil
}

// Ready reports whether the SRTP contexts are established.
func (t *SecureTransport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encryptCtx != nil
}

// LocalPort returns the ephemeral port the media socket is bound to.
func (t *SecureTransport) LocalPort() int {
	return t.conn.LocalAddr().(*net.UDPAddr).Port
}

// RemoteAddr returns the fixed remote media endpoint.
func (t *SecureTransport) RemoteAddr() *net.UDPAddr {
	return t.remote
}

// Send transmits a raw datagram to the remote endpoint without encryption.
func (t *SecureTransport) Send(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return net.ErrClosed
	}
	_, err := t.conn.WriteToUDP(b, t.remote)
	return err
}

// Punch sends the initial unencrypted datagram that opens the return path
// through NATs before the remote side knows our ephemeral port.
func (t *SecureTransport) Punch() error {
	return t.Send([]byte{0})
}

// EncryptAndSend marshals, SRTP-protects, and transmits an RTP packet.
// Returns ErrNotReady if SetRemoteKey has not been called yet.
func (t *SecureTransport) EncryptAndSend(pkt *rtp.Packet) error {
	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return net.ErrClosed
	}
	if t.encryptCtx == nil {
		return ErrNotReady
	}

	enc, err := t.encryptCtx.EncryptRTP(nil, raw, nil)
	if err != nil {
		return fmt.Errorf("encrypt rtp: %w", err)
	}
	if _, err := t.conn.WriteToUDP(enc, t.remote); err != nil {
		return err
	}
	metrics.PacketsSent.Inc()
	return nil
}

// Start launches the inbound read loop. Call after SetRemoteKey, or accept
// that datagrams arriving before the key is known are dropped.
func (t *SecureTransport) Start() {
	go t.readLoop()
}

// Stats returns cumulative inbound received and lost packet counts.
func (t *SecureTransport) Stats() (received, lost uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracker.Stats()
}

// Close shuts the socket and stops the read loop. Idempotent; the
// underlying close runs exactly once.
func (t *SecureTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()
	return t.conn.Close()
}

// Done is closed when the transport has been shut down.
func (t *SecureTransport) Done() <-chan struct{} {
	return t.done
}

func (t *SecureTransport) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-t.done:
				return
			default:
			}
			slog.Warn("[Media] Read error", "error", err)
			return
		}

		// Hole-punch datagrams and other runts are not RTP.
		if n < 12 {
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		t.handleDatagram(datagram)
	}
}

// handleDatagram decrypts and classifies one inbound datagram. A failure
// here is fatal only to this datagram; the session stays up.
func (t *SecureTransport) handleDatagram(datagram []byte) {
	t.mu.Lock()
	decryptCtx := t.decryptCtx
	t.mu.Unlock()

	if decryptCtx == nil {
		metrics.DecryptFailures.Inc()
		slog.Debug("[Media] Dropping datagram received before remote key", "bytes", len(datagram))
		return
	}

	dec, err := decryptCtx.DecryptRTP(nil, datagram, nil)
	if err != nil {
		metrics.DecryptFailures.Inc()
		slog.Warn("[Media] Decrypt failed, dropping datagram", "bytes", len(datagram), "error", err)
		return
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(dec); err != nil {
		metrics.DecryptFailures.Inc()
		slog.Warn("[Media] Invalid RTP after decrypt, dropping", "bytes", len(dec), "error", err)
		return
	}

	metrics.PacketsReceived.Inc()
	t.mu.Lock()
	_, lost := t.tracker.Update(pkt.SequenceNumber)
	t.mu.Unlock()
	if lost > 0 {
		metrics.PacketsLost.Add(float64(lost))
	}

	if t.events.OnPacket != nil {
		t.events.OnPacket(pkt)
	}

	if pkt.PayloadType == DTMFPayloadType {
		t.handleDTMF(pkt)
		return
	}
	t.handleAudio(pkt)
}

func (t *SecureTransport) handleDTMF(pkt *rtp.Packet) {
	evt, err := DecodeDTMFEvent(pkt.Payload)
	if err != nil {
		slog.Debug("[Media] Undecodable telephone-event payload", "error", err)
		return
	}
	if t.events.OnDTMFPacket != nil {
		t.events.OnDTMFPacket(pkt, evt)
	}

	if !evt.EndOfEvent {
		// A fresh (or continuing) event; the next end marker is new.
		t.haveEnd = false
		return
	}

	// RFC 4733 end packets are retransmitted; emit the character once
	// per distinct (event, duration) pair.
	if t.haveEnd && evt.Event == t.lastEndEvent && evt.Duration == t.lastEndDur {
		return
	}
	t.haveEnd = true
	t.lastEndEvent = evt.Event
	t.lastEndDur = evt.Duration

	digit, ok := EventToDigit(evt.Event)
	if !ok {
		return
	}
	metrics.DTMFDigits.WithLabelValues("in").Inc()
	if t.events.OnDigit != nil {
		t.events.OnDigit(digit)
	}
}

func (t *SecureTransport) handleAudio(pkt *rtp.Packet) {
	if t.events.OnAudio == nil {
		return
	}
	if t.decoder == nil || pkt.PayloadType != t.decoder.PayloadType() {
		// No decoder for this payload type; OnPacket already saw it.
		return
	}
	pcm, err := t.decoder.Decode(pkt.Payload)
	if err != nil {
		slog.Debug("[Media] Audio decode failed", "pt", pkt.PayloadType, "error", err)
		return
	}
	t.events.OnAudio(pkt, pcm)
}
