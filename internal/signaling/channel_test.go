package signaling

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(method sip.RequestMethod, callID string) *sip.Request {
	req := sip.NewRequest(method, sip.Uri{User: "bob", Host: "example.com"})
	cid := sip.CallIDHeader(callID)
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: method})
	return req
}

func TestBusDispatchFiltersByCallID(t *testing.T) {
	bus := NewBus(SenderFunc(func(*sip.Request) error { return nil }))

	var gotA, gotB []string
	bus.Subscribe(ByCallID("call-a"), func(m Message) {
		gotA = append(gotA, m.CallID())
	})
	bus.Subscribe(ByCallID("call-b"), func(m Message) {
		gotB = append(gotB, m.CallID())
	})

	n := bus.Dispatch(Message{Request: newTestRequest(sip.BYE, "call-a")})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"call-a"}, gotA)
	assert.Empty(t, gotB)
}

func TestBusDispatchUnmatched(t *testing.T) {
	bus := NewBus(SenderFunc(func(*sip.Request) error { return nil }))
	bus.Subscribe(ByCallID("call-a"), func(Message) {
		t.Fatal("filter should not match")
	})

	n := bus.Dispatch(Message{Request: newTestRequest(sip.BYE, "other")})
	assert.Zero(t, n)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	bus := NewBus(SenderFunc(func(*sip.Request) error { return nil }))

	calls := 0
	sub := bus.Subscribe(nil, func(Message) { calls++ })
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Dispatch(Message{Request: newTestRequest(sip.NOTIFY, "x")})
	sub.Close()
	sub.Close() // idempotent
	bus.Dispatch(Message{Request: newTestRequest(sip.NOTIFY, "x")})

	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.SubscriberCount())
}

func TestSubscriptionCloseFromWithinListener(t *testing.T) {
	bus := NewBus(SenderFunc(func(*sip.Request) error { return nil }))

	calls := 0
	var sub *Subscription
	sub = bus.Subscribe(nil, func(Message) {
		calls++
		sub.Close()
	})

	bus.Dispatch(Message{Request: newTestRequest(sip.NOTIFY, "x")})
	bus.Dispatch(Message{Request: newTestRequest(sip.NOTIFY, "x")})
	assert.Equal(t, 1, calls)
}

func TestDispatchSkipsSubscriberClosedMidDispatch(t *testing.T) {
	bus := NewBus(SenderFunc(func(*sip.Request) error { return nil }))

	var second *Subscription
	firstCalls, secondCalls := 0, 0
	bus.Subscribe(nil, func(Message) {
		firstCalls++
		second.Close()
	})
	second = bus.Subscribe(nil, func(Message) { secondCalls++ })

	n := bus.Dispatch(Message{Request: newTestRequest(sip.BYE, "x")})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, firstCalls)
	assert.Zero(t, secondCalls)
}

func TestBusSendDelegates(t *testing.T) {
	var sent *sip.Request
	bus := NewBus(SenderFunc(func(req *sip.Request) error {
		sent = req
		return nil
	}))

	req := newTestRequest(sip.BYE, "call-a")
	require.NoError(t, bus.Send(req))
	assert.Same(t, req, sent)
}

func TestMessageAccessors(t *testing.T) {
	req := newTestRequest(sip.REFER, "call-1")
	m := NewRequestMessage(req, nil)
	assert.False(t, m.IsResponse())
	assert.Equal(t, "call-1", m.CallID())
	assert.Equal(t, sip.REFER, m.CSeqMethod())
	assert.NoError(t, m.Reply(sip.StatusOK, "OK"), "nil reply path is a no-op")

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	rm := NewResponseMessage(resp)
	assert.True(t, rm.IsResponse())
	assert.Equal(t, "call-1", rm.CallID())
	assert.Equal(t, sip.REFER, rm.CSeqMethod())
}

func TestFilterCombinators(t *testing.T) {
	bye := Message{Request: newTestRequest(sip.BYE, "c")}
	notify := Message{Request: newTestRequest(sip.NOTIFY, "c")}
	resp := NewResponseMessage(sip.NewResponseFromRequest(newTestRequest(sip.NOTIFY, "c"), 200, "OK", nil))

	f := AllOf(ByCallID("c"), ByMethod(sip.NOTIFY))
	assert.False(t, f(bye))
	assert.True(t, f(notify))
	assert.False(t, f(resp), "responses never match ByMethod")
}
