package signaling

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// Server wires a sipgo user agent into the Bus: inbound requests and the
// responses to our own requests become Bus messages, outbound requests go
// through the sipgo client. INVITEs are not bus traffic; they create
// sessions and are routed to a dedicated handler.
type Server struct {
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client
	bus    *Bus

	onInvite func(req *sip.Request, tx sip.ServerTransaction)
}

// NewServer builds the sipgo stack and its bus.
func NewServer() (*Server, error) {
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	uas, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create server: %w", err)
	}
	uac, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	s := &Server{
		ua:     ua,
		srv:    uas,
		client: uac,
	}
	s.bus = NewBus(SenderFunc(s.send))

	uas.OnRequest(sip.INVITE, s.handleInvite)
	uas.OnRequest(sip.BYE, s.dispatchRequest)
	uas.OnRequest(sip.NOTIFY, s.dispatchRequest)
	uas.OnRequest(sip.CANCEL, s.dispatchRequest)
	uas.OnRequest(sip.ACK, s.handleAck)
	uas.OnRequest(sip.OPTIONS, s.handleOptions)

	return s, nil
}

// Bus returns the shared signaling channel.
func (s *Server) Bus() *Bus {
	return s.bus
}

// OnInvite registers the handler for new incoming calls.
func (s *Server) OnInvite(fn func(req *sip.Request, tx sip.ServerTransaction)) {
	s.onInvite = fn
}

// ListenAndServe blocks serving SIP over UDP on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	slog.Info("[Signaling] Listening", "addr", addr)
	return s.srv.ListenAndServe(ctx, "udp", addr)
}

// Close tears down the sipgo stack.
func (s *Server) Close() error {
	return s.ua.Close()
}

// send transmits an outbound request and pumps its responses back into the
// bus, so session listeners observe them on the shared channel.
func (s *Server) send(req *sip.Request) error {
	if req.Method == sip.ACK {
		return s.client.WriteRequest(req)
	}

	tx, err := s.client.TransactionRequest(context.Background(), req)
	if err != nil {
		return fmt.Errorf("send %s: %w", req.Method, err)
	}

	go func() {
		for {
			select {
			case resp := <-tx.Responses():
				if resp == nil {
					return
				}
				slog.Debug("[Signaling] Response", "method", req.Method, "status", resp.StatusCode)
				s.bus.Dispatch(NewResponseMessage(resp))
			case <-tx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *Server) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	if s.onInvite == nil {
		resp := sip.NewResponseFromRequest(req, sip.StatusServiceUnavailable, "Service Unavailable", nil)
		if err := tx.Respond(resp); err != nil {
			slog.Error("[Signaling] Respond failed", "error", err)
		}
		return
	}
	s.onInvite(req, tx)
}

// dispatchRequest feeds an in-dialog request to the bus. A request no
// session claims gets 481 per RFC 3261 Section 12.2.2.
func (s *Server) dispatchRequest(req *sip.Request, tx sip.ServerTransaction) {
	msg := NewRequestMessage(req, func(status sip.StatusCode, reason string) error {
		return tx.Respond(sip.NewResponseFromRequest(req, status, reason, nil))
	})
	if n := s.bus.Dispatch(msg); n == 0 {
		slog.Debug("[Signaling] No subscriber for request", "method", req.Method, "call_id", msg.CallID())
		resp := sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil)
		if err := tx.Respond(resp); err != nil {
			slog.Error("[Signaling] Respond failed", "error", err)
		}
	}
}

func (s *Server) handleAck(req *sip.Request, _ sip.ServerTransaction) {
	// ACK has no response; sessions that care subscribe for it.
	s.bus.Dispatch(Message{Request: req})
}

func (s *Server) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	resp.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, NOTIFY, OPTIONS"))
	if err := tx.Respond(resp); err != nil {
		slog.Error("[Signaling] Respond failed", "error", err)
	}
}
