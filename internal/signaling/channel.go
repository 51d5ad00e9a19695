// Package signaling is the boundary to the SIP signaling collaborator: a
// shared stream of inbound structured SIP messages, an outbound send
// operation, and explicit per-subscriber filtering. Sessions never see
// traffic for other calls; they subscribe with a Call-ID filter and get a
// subscription object they can deterministically close.
package signaling

import (
	"sync"

	"github.com/emiago/sipgo/sip"
)

// Message is one inbound SIP message, either a request or a response.
type Message struct {
	Request  *sip.Request
	Response *sip.Response

	// reply answers an inbound request through the originating server
	// transaction. Nil for responses.
	reply func(status sip.StatusCode, reason string) error
}

// NewRequestMessage wraps an inbound request with its reply path.
func NewRequestMessage(req *sip.Request, reply func(status sip.StatusCode, reason string) error) Message {
	return Message{Request: req, reply: reply}
}

// NewResponseMessage wraps an inbound response.
func NewResponseMessage(resp *sip.Response) Message {
	return Message{Response: resp}
}

// IsResponse reports whether the message is a response.
func (m Message) IsResponse() bool {
	return m.Response != nil
}

// CallID returns the message's Call-ID value, or "" if absent.
func (m Message) CallID() string {
	var h *sip.CallIDHeader
	switch {
	case m.Request != nil:
		h = m.Request.CallID()
	case m.Response != nil:
		h = m.Response.CallID()
	}
	if h == nil {
		return ""
	}
	return h.Value()
}

// CSeqMethod returns the method named in the message's CSeq header. For
// responses this identifies the request being answered.
func (m Message) CSeqMethod() sip.RequestMethod {
	var h *sip.CSeqHeader
	switch {
	case m.Request != nil:
		h = m.Request.CSeq()
	case m.Response != nil:
		h = m.Response.CSeq()
	}
	if h == nil {
		return ""
	}
	return h.MethodName
}

// Reply answers an inbound request. No-op error-free for responses without
// a reply path, so tests can dispatch bare messages.
func (m Message) Reply(status sip.StatusCode, reason string) error {
	if m.reply == nil {
		return nil
	}
	return m.reply(status, reason)
}

// Filter is a predicate deciding whether a subscriber sees a message.
type Filter func(Message) bool

// ByCallID matches messages belonging to one call.
func ByCallID(callID string) Filter {
	return func(m Message) bool {
		return m.CallID() == callID
	}
}

// ByMethod matches requests of one method. Responses never match.
func ByMethod(method sip.RequestMethod) Filter {
	return func(m Message) bool {
		return m.Request != nil && m.Request.Method == method
	}
}

// AllOf combines filters conjunctively.
func AllOf(filters ...Filter) Filter {
	return func(m Message) bool {
		for _, f := range filters {
			if !f(m) {
				return false
			}
		}
		return true
	}
}

// Channel is what a call session needs from the signaling collaborator.
type Channel interface {
	// Send transmits an outbound request (REFER, BYE, CANCEL, ...).
	Send(req *sip.Request) error

	// Subscribe registers fn for every inbound message matching f.
	// The returned subscription must be closed to stop delivery.
	Subscribe(f Filter, fn func(Message)) *Subscription
}

// Subscription is an explicit handle on a registered listener.
type Subscription struct {
	bus    *Bus
	id     uint64
	filter Filter
	fn     func(Message)

	once sync.Once
}

// Close deregisters the listener. Safe to call more than once and from
// within the listener itself.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

// Sender is the outbound half a Bus delegates to.
type Sender interface {
	Send(req *sip.Request) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(req *sip.Request) error

// Send implements Sender.
func (f SenderFunc) Send(req *sip.Request) error { return f(req) }

// Bus fans inbound messages out to filtered subscribers and forwards
// outbound requests to its Sender. Dispatch is synchronous: subscribers run
// on the dispatching goroutine, in registration order.
type Bus struct {
	sender Sender

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
	order  []uint64
}

// NewBus creates a bus that sends outbound requests through s.
func NewBus(s Sender) *Bus {
	return &Bus{
		sender: s,
		subs:   make(map[uint64]*Subscription),
	}
}

// Send implements Channel.
func (b *Bus) Send(req *sip.Request) error {
	return b.sender.Send(req)
}

// Subscribe implements Channel.
func (b *Bus) Subscribe(f Filter, fn func(Message)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{bus: b, id: b.nextID, filter: f, fn: fn}
	b.subs[sub.id] = sub
	b.order = append(b.order, sub.id)
	return sub
}

// Dispatch delivers one inbound message to every matching subscriber and
// returns how many subscribers received it.
func (b *Bus) Dispatch(m Message) int {
	b.mu.RLock()
	matched := make([]*Subscription, 0, len(b.order))
	for _, id := range b.order {
		sub, ok := b.subs[id]
		if !ok {
			continue
		}
		if sub.filter == nil || sub.filter(m) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range matched {
		// Re-check liveness so a subscriber closed mid-dispatch (for
		// example by an earlier subscriber disposing the session) is
		// not invoked afterwards.
		b.mu.RLock()
		_, live := b.subs[sub.id]
		b.mu.RUnlock()
		if live {
			sub.fn(m)
			delivered++
		}
	}
	return delivered
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
