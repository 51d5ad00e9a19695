// Package session implements the call-session state machine: one Session
// per call, driving SIP signaling on one side and SRTP media on the other,
// with strict single-disposal semantics.
package session

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/pion/rtp"

	"github.com/sebas/dialtone/internal/media"
	"github.com/sebas/dialtone/internal/metrics"
	"github.com/sebas/dialtone/internal/signaling"
)

// Direction indicates whether we received or placed the call.
type Direction int

const (
	// DirectionInbound - we received the INVITE (UAS role).
	DirectionInbound Direction = iota
	// DirectionOutbound - we sent the INVITE (UAC role).
	DirectionOutbound
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	if d == DirectionOutbound {
		return "outbound"
	}
	return "inbound"
}

// Config carries the per-process pieces a session needs.
type Config struct {
	// LocalKey is this side's base64 SRTP keying material (16-byte
	// master key + 14-byte salt). Shared across sessions; the remote
	// key is per-call and arrives via signaling.
	LocalKey string

	// Contact is the URI placed in Contact headers of in-dialog
	// requests. Falls back to the session's local address when unset.
	Contact sip.Uri

	// Decoder decodes inbound audio payloads. Nil disables OnAudio.
	Decoder media.Decoder

	// Events are the application callbacks.
	Events Events

	// onTerminated lets the Manager unregister disposed sessions.
	onTerminated func(*Session)
}

// Session is one active call. All state mutation is serialized behind its
// mutex; once disposed, no socket I/O happens and no events are emitted
// except the single terminal OnDisposed.
type Session struct {
	callID    string
	direction Direction

	localAddr    sip.Uri // our identity
	remoteAddr   sip.Uri // peer identity
	remoteTarget sip.Uri // Request-URI for in-dialog requests
	localTag     string
	remoteTag    string
	localCSeq    atomic.Uint32

	remote RemoteMedia
	ch     signaling.Channel
	cfg    Config

	mu        sync.Mutex
	state     CallState
	disposed  bool
	started   bool
	transport *media.SecureTransport
	subs      []*signaling.Subscription
	streamers []*media.Streamer
}

// New creates a session from an inbound INVITE. The remote media endpoint
// is parsed from the request's session description; a missing c= or
// m=audio field fails construction before any socket is opened.
func New(ch signaling.Channel, invite *sip.Request, cfg Config) (*Session, error) {
	remote, err := ParseOffer(invite.Body())
	if err != nil {
		return nil, err
	}

	callID := invite.CallID()
	if callID == nil {
		return nil, fmt.Errorf("invite has no Call-ID")
	}

	s := &Session{
		callID:    callID.Value(),
		direction: DirectionInbound,
		localTag:  uuid.NewString()[:8],
		remote:    remote,
		ch:        ch,
		cfg:       cfg,
		state:     StateInitiating,
	}

	if to := invite.To(); to != nil {
		s.localAddr = to.Address
	}
	if from := invite.From(); from != nil {
		s.remoteAddr = from.Address
		if tag, ok := from.Params.Get("tag"); ok {
			s.remoteTag = tag
		}
	}
	if contact := invite.Contact(); contact != nil {
		s.remoteTarget = contact.Address
	} else {
		s.remoteTarget = s.remoteAddr
	}
	if cseq := invite.CSeq(); cseq != nil {
		s.localCSeq.Store(cseq.SeqNo)
	}

	metrics.SessionsTotal.WithLabelValues(s.direction.String()).Inc()
	return s, nil
}

// NewFromAnswer creates a session for a call we placed, once the answer
// arrived: invite is the request we sent, answer the 2xx carrying the
// peer's session description.
func NewFromAnswer(ch signaling.Channel, invite *sip.Request, answer *sip.Response, cfg Config) (*Session, error) {
	remote, err := ParseOffer(answer.Body())
	if err != nil {
		return nil, err
	}

	callID := invite.CallID()
	if callID == nil {
		return nil, fmt.Errorf("invite has no Call-ID")
	}

	s := &Session{
		callID:    callID.Value(),
		direction: DirectionOutbound,
		remote:    remote,
		ch:        ch,
		cfg:       cfg,
		state:     StateInitiating,
	}

	if from := invite.From(); from != nil {
		s.localAddr = from.Address
		if tag, ok := from.Params.Get("tag"); ok {
			s.localTag = tag
		}
	}
	if s.localTag == "" {
		s.localTag = uuid.NewString()[:8]
	}
	if to := answer.To(); to != nil {
		s.remoteAddr = to.Address
		if tag, ok := to.Params.Get("tag"); ok {
			s.remoteTag = tag
		}
	}
	if contact := answer.Contact(); contact != nil {
		s.remoteTarget = contact.Address
	} else {
		s.remoteTarget = s.remoteAddr
	}
	if cseq := invite.CSeq(); cseq != nil {
		s.localCSeq.Store(cseq.SeqNo)
	}

	metrics.SessionsTotal.WithLabelValues(s.direction.String()).Inc()
	return s, nil
}

// CallID returns the session's stable call identifier.
func (s *Session) CallID() string {
	return s.callID
}

// State returns the current call state.
func (s *Session) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteMedia returns the parsed remote media endpoint.
func (s *Session) RemoteMedia() RemoteMedia {
	return s.remote
}

// LocalMediaPort returns the bound media port. Valid after
// StartLocalServices.
func (s *Session) LocalMediaPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return 0
	}
	return s.transport.LocalPort()
}

// StartLocalServices opens the media socket, sends the hole-punch datagram
// that teaches the peer our ephemeral port, and registers the session's
// listener on the shared signaling channel. The listener only sees traffic
// for this Call-ID.
func (s *Session) StartLocalServices() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}

	transport, err := media.NewSecureTransport(s.cfg.LocalKey, s.remote.IP, s.remote.Port, s.cfg.Decoder, media.TransportEvents{
		OnPacket:     s.cfg.Events.OnPacket,
		OnAudio:      s.cfg.Events.OnAudio,
		OnDTMFPacket: s.cfg.Events.OnDTMFPacket,
		OnDigit:      s.cfg.Events.OnDigit,
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start media transport: %w", err)
	}
	s.transport = transport
	s.started = true
	s.mu.Unlock()

	if s.remote.CryptoKey != "" {
		if err := transport.SetRemoteKey(s.remote.CryptoKey); err != nil {
			slog.Warn("[Session] Offered crypto key rejected", "call_id", s.callID, "error", err)
		}
	}
	transport.Start()
	if err := transport.Punch(); err != nil {
		slog.Warn("[Session] Hole punch failed", "call_id", s.callID, "error", err)
	}

	sub := s.ch.Subscribe(signaling.ByCallID(s.callID), s.handleSignaling)
	s.addSub(sub)

	metrics.SessionsActive.Inc()
	slog.Info("[Session] Local services started",
		"call_id", s.callID,
		"remote", fmt.Sprintf("%s:%d", s.remote.IP, s.remote.Port),
		"local_port", transport.LocalPort())
	return nil
}

// SetRemoteKey installs the peer's SRTP keying material when it arrives
// separately from the offer.
func (s *Session) SetRemoteKey(b64 string) error {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return media.ErrNotReady
	}
	return transport.SetRemoteKey(b64)
}

// handleSignaling is the session's listener on the shared channel. It sees
// only messages matching this session's Call-ID and reacts to the teardown
// and progress signals; everything else is ignored.
func (s *Session) handleSignaling(m signaling.Message) {
	if m.IsResponse() {
		s.handleResponse(m)
		return
	}

	switch {
	case m.CSeqMethod() == sip.BYE:
		// In-dialog teardown. Confirm, then dispose: disposal happens
		// strictly after the signal is processed.
		if err := m.Reply(sip.StatusOK, "OK"); err != nil {
			slog.Debug("[Session] BYE reply failed", "call_id", s.callID, "error", err)
		}
		slog.Info("[Session] Remote BYE", "call_id", s.callID)
		s.Dispose()

	case m.Request.Method == sip.CANCEL:
		if err := m.Reply(sip.StatusOK, "OK"); err != nil {
			slog.Debug("[Session] CANCEL reply failed", "call_id", s.callID, "error", err)
		}
		s.transitionTo(StateCanceled)
		slog.Info("[Session] Canceled by peer", "call_id", s.callID)
		s.Dispose()
	}
}

// handleResponse reacts to responses carried on the shared channel: call
// progress for our INVITE, and the confirmation of our own BYE. The
// self-initiated and peer-initiated teardowns share one disposal path,
// keyed off the CSeq method.
func (s *Session) handleResponse(m signaling.Message) {
	status := int(m.Response.StatusCode)

	switch m.CSeqMethod() {
	case sip.INVITE:
		switch {
		case status >= 180 && status < 200:
			s.transitionTo(StateRinging)
		case status >= 200 && status < 300:
			if s.transitionTo(StateAnswered) && s.cfg.Events.OnAnswered != nil {
				s.cfg.Events.OnAnswered()
			}
		case status >= 300:
			// Final negative answer: the callee is busy or otherwise
			// unreachable. Terminal; no BYE follows.
			if s.transitionTo(StateBusy) && s.cfg.Events.OnBusy != nil {
				s.cfg.Events.OnBusy()
			}
			slog.Info("[Session] Call rejected", "call_id", s.callID, "status", status)
			s.Dispose()
		}
	case sip.BYE:
		if status >= 200 && status < 300 {
			slog.Info("[Session] Hangup confirmed", "call_id", s.callID)
			s.Dispose()
		}
	}
}

// transitionTo attempts a state transition, returning whether it took
// effect. Illegal transitions are quiet no-ops so late or duplicate
// signaling cannot corrupt the lifecycle.
func (s *Session) transitionTo(next CallState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransitionTo(next) {
		return false
	}
	slog.Debug("[Session] State", "call_id", s.callID, "from", s.state, "to", next)
	s.state = next
	return true
}

// Accept answers an inbound call: 200 OK carrying our SDP answer (media
// port plus our crypto key), and moves the session to Answered.
func (s *Session) Accept(tx sip.ServerTransaction, invite *sip.Request, localIP string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return media.ErrNotReady
	}

	body, err := BuildAnswerSDP(localIP, transport.LocalPort(), s.cfg.LocalKey)
	if err != nil {
		return err
	}

	resp := sip.NewResponseFromRequest(invite, sip.StatusOK, "OK", body)
	resp.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if to := resp.To(); to != nil {
		to.Params.Add("tag", s.localTag)
	}
	if err := tx.Respond(resp); err != nil {
		return fmt.Errorf("answer call: %w", err)
	}

	if s.transitionTo(StateAnswered) && s.cfg.Events.OnAnswered != nil {
		s.cfg.Events.OnAnswered()
	}
	return nil
}

// Ring sends 180 Ringing for an inbound call.
func (s *Session) Ring(tx sip.ServerTransaction, invite *sip.Request) error {
	resp := sip.NewResponseFromRequest(invite, sip.StatusRinging, "Ringing", nil)
	if to := resp.To(); to != nil {
		to.Params.Add("tag", s.localTag)
	}
	if err := tx.Respond(resp); err != nil {
		return fmt.Errorf("send ringing: %w", err)
	}
	s.transitionTo(StateRinging)
	return nil
}

// Transfer sends a REFER naming target as the transfer destination, then
// follows the NOTIFY progress reports, answering each with 200 and
// dropping its listener once one reports final success. A bare number is
// addressed at the remote peer's host.
func (s *Session) Transfer(target string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.mu.Unlock()

	referTo := target
	if !strings.Contains(referTo, ":") {
		referTo = fmt.Sprintf("sip:%s@%s", target, s.remoteTarget.Host)
	}

	req := s.buildInDialogRequest(sip.REFER)
	req.AppendHeader(sip.NewHeader("Refer-To", "<"+referTo+">"))
	req.AppendHeader(sip.NewHeader("Referred-By", s.localAddr.String()))

	// Subscribe before sending so a fast NOTIFY is not missed. The
	// filter is method-scoped: unrelated in-dialog traffic stays with
	// the main session listener.
	var sub *signaling.Subscription
	sub = s.ch.Subscribe(signaling.AllOf(
		signaling.ByCallID(s.callID),
		signaling.ByMethod(sip.NOTIFY),
	), func(m signaling.Message) {
		if err := m.Reply(sip.StatusOK, "OK"); err != nil {
			slog.Debug("[Session] NOTIFY reply failed", "call_id", s.callID, "error", err)
		}
		status := sipfragStatus(m.Request.Body())
		slog.Debug("[Session] Transfer progress", "call_id", s.callID, "status", status)
		if status >= 200 && status < 300 {
			slog.Info("[Session] Transfer complete", "call_id", s.callID, "target", target)
			sub.Close()
		}
	})
	s.addSub(sub)

	if err := s.ch.Send(req); err != nil {
		sub.Close()
		return fmt.Errorf("send REFER: %w", err)
	}
	slog.Info("[Session] Transfer requested", "call_id", s.callID, "target", target)
	return nil
}

// Hangup sends BYE for this call. It does not dispose the session; the
// teardown listener does, once the BYE is confirmed, so both self- and
// peer-initiated teardown dispose through the same path.
func (s *Session) Hangup() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.mu.Unlock()

	req := s.buildInDialogRequest(sip.BYE)
	if err := s.ch.Send(req); err != nil {
		return fmt.Errorf("send BYE: %w", err)
	}
	slog.Info("[Session] Hangup sent", "call_id", s.callID)
	return nil
}

// SendDTMF transmits one keypad character as an RFC 4733 burst. The digit
// is validated and the transport checked before any packet is built, so an
// invalid call performs no I/O.
func (s *Session) SendDTMF(digit rune) error {
	if _, ok := media.DigitToEvent(digit); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidDigit, digit)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	transport := s.transport
	s.mu.Unlock()
	if transport == nil || !transport.Ready() {
		return media.ErrNotReady
	}

	payloads, err := media.DigitToPayloads(digit)
	if err != nil {
		return err
	}

	// Fresh short-lived stream identity per burst; timestamp constant
	// across the event per RFC 4733.
	ssrc := media.NextSSRC()
	seq := media.TimeSeededSequence()
	ts := media.WallClockTimestamp()
	for i, payload := range payloads {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    media.DTMFPayloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           ssrc,
			},
			Payload: payload,
		}
		if err := transport.EncryptAndSend(pkt); err != nil {
			return fmt.Errorf("send dtmf: %w", err)
		}
		seq++
	}

	metrics.DTMFDigits.WithLabelValues("out").Inc()
	slog.Debug("[Session] DTMF sent", "call_id", s.callID, "digit", string(digit))
	return nil
}

// StreamAudio paces buf (µ-law bytes at 8kHz) into the call as RTP audio
// and returns a handle to observe or cancel the stream. Disposing the
// session stops it before its next frame.
func (s *Session) StreamAudio(buf []byte) (*media.Streamer, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrDisposed
	}
	transport := s.transport
	if transport == nil || !transport.Ready() {
		s.mu.Unlock()
		return nil, media.ErrNotReady
	}
	streamer := media.NewStreamer(transport, media.CodecPCMU, buf)
	s.streamers = append(s.streamers, streamer)
	s.mu.Unlock()

	streamer.Start()
	return streamer, nil
}

// Dispose is the idempotent terminal action: it stops streamers, drops all
// signaling listeners, closes the media socket exactly once, and emits the
// single OnDisposed notification. Safe to call from any state and from
// within the session's own listeners.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.state = StateDisposed
	subs := s.subs
	s.subs = nil
	streamers := s.streamers
	s.streamers = nil
	transport := s.transport
	started := s.started
	s.mu.Unlock()

	for _, streamer := range streamers {
		streamer.Stop()
	}
	for _, sub := range subs {
		sub.Close()
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			slog.Debug("[Session] Transport close", "call_id", s.callID, "error", err)
		}
	}
	if started {
		metrics.SessionsActive.Dec()
	}

	slog.Info("[Session] Disposed", "call_id", s.callID)
	if s.cfg.Events.OnDisposed != nil {
		s.cfg.Events.OnDisposed()
	}
	if s.cfg.onTerminated != nil {
		s.cfg.onTerminated(s)
	}
}

// Disposed reports whether the session has been torn down.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Session) addSub(sub *signaling.Subscription) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		// Lost the race with Dispose: drop it immediately.
		sub.Close()
		return
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// buildInDialogRequest constructs a request inside this dialog: same
// Call-ID for the session's whole lifetime, From/To carrying the dialog
// tags, CSeq monotonically increasing.
func (s *Session) buildInDialogRequest(method sip.RequestMethod) *sip.Request {
	req := sip.NewRequest(method, s.remoteTarget)

	from := &sip.FromHeader{
		Address: s.localAddr,
		Params:  sip.NewParams(),
	}
	from.Params.Add("tag", s.localTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{
		Address: s.remoteAddr,
		Params:  sip.NewParams(),
	}
	if s.remoteTag != "" {
		to.Params.Add("tag", s.remoteTag)
	}
	req.AppendHeader(to)

	callID := sip.CallIDHeader(s.callID)
	req.AppendHeader(&callID)

	req.AppendHeader(&sip.CSeqHeader{
		SeqNo:      s.localCSeq.Add(1),
		MethodName: method,
	})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	contact := s.cfg.Contact
	if contact.Host == "" {
		contact = s.localAddr
	}
	req.AppendHeader(&sip.ContactHeader{Address: contact})

	return req
}

// sipfragStatus parses the status code out of a message/sipfrag NOTIFY
// body like "SIP/2.0 200 OK". Returns 0 when unparseable.
func sipfragStatus(body []byte) int {
	line := strings.TrimSpace(string(body))
	if !strings.HasPrefix(line, "SIP/2.0 ") {
		return 0
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	status := 0
	for _, c := range fields[1] {
		if c < '0' || c > '9' {
			return 0
		}
		status = status*10 + int(c-'0')
	}
	return status
}
