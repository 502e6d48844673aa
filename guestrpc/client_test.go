package guestrpc

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	return &Client{
		logger:        logrus.NewEntry(logrus.New()),
		waitWaiters:   make(map[string]chan WaitResponse),
		killWaiters:   make(map[string]chan Ack),
		resizeWaiters: make(map[string]chan Ack),
		attachSubs:    make(map[string]chan ExecOutput),
		closed:        make(chan struct{}),
	}
}

// TestRouteWaitDeliversToMatchingExecutionOnly pins down the correlation
// fix: with two executions concurrently waiting, a wait_response must reach
// the waiter whose ExecutionID it names, never the other one.
func TestRouteWaitDeliversToMatchingExecutionOnly(t *testing.T) {
	c := newTestClient()
	chA := make(chan WaitResponse, 1)
	chB := make(chan WaitResponse, 1)
	c.waitWaiters["exec-a"] = chA
	c.waitWaiters["exec-b"] = chB

	c.routeWait(WaitResponse{ExecutionID: "exec-b", ExitCode: 7})

	select {
	case resp := <-chB:
		assert.Equal(t, int32(7), resp.ExitCode)
	default:
		t.Fatal("exec-b waiter did not receive its response")
	}
	select {
	case <-chA:
		t.Fatal("exec-a waiter must not receive exec-b's response")
	default:
	}

	c.mu.Lock()
	_, stillPending := c.waitWaiters["exec-b"]
	_, otherStillPending := c.waitWaiters["exec-a"]
	c.mu.Unlock()
	assert.False(t, stillPending)
	assert.True(t, otherStillPending)
}

func TestRouteWaitUnknownExecutionIDIsDropped(t *testing.T) {
	c := newTestClient()
	ch := make(chan WaitResponse, 1)
	c.waitWaiters["exec-a"] = ch

	c.routeWait(WaitResponse{ExecutionID: "exec-ghost", ExitCode: 1})

	select {
	case <-ch:
		t.Fatal("unrelated waiter must not receive a response for an unknown execution id")
	default:
	}
}

func TestRouteAckDeliversToKillWaiterByExecutionID(t *testing.T) {
	c := newTestClient()
	killCh := make(chan Ack, 1)
	resizeCh := make(chan Ack, 1)
	c.killWaiters["exec-a"] = killCh
	c.resizeWaiters["exec-a"] = resizeCh

	c.routeAck(Ack{ExecutionID: "exec-a", Success: true})

	select {
	case ack := <-killCh:
		assert.True(t, ack.Success)
	default:
		t.Fatal("kill waiter did not receive ack")
	}
	select {
	case <-resizeCh:
		t.Fatal("resize waiter must not receive the kill ack")
	default:
	}
}

func TestRouteAckDeliversToResizeWaiterWhenNoKillWaiterPending(t *testing.T) {
	c := newTestClient()
	resizeCh := make(chan Ack, 1)
	c.resizeWaiters["exec-a"] = resizeCh

	c.routeAck(Ack{ExecutionID: "exec-a", Success: false, Error: "bad size"})

	select {
	case ack := <-resizeCh:
		assert.False(t, ack.Success)
		assert.Equal(t, "bad size", ack.Error)
	default:
		t.Fatal("resize waiter did not receive ack")
	}
}

func TestRouteOutputDeliversToMatchingSubscriberOnly(t *testing.T) {
	c := newTestClient()
	subA := make(chan ExecOutput, 1)
	subB := make(chan ExecOutput, 1)
	c.attachSubs["exec-a"] = subA
	c.attachSubs["exec-b"] = subB

	c.routeOutput(ExecOutput{ExecutionID: "exec-b", Stream: StreamStdout, Data: []byte("hi")})

	select {
	case out := <-subB:
		assert.Equal(t, []byte("hi"), out.Data)
	default:
		t.Fatal("exec-b subscriber did not receive output")
	}
	select {
	case <-subA:
		t.Fatal("exec-a subscriber must not receive exec-b's output")
	default:
	}
}

func TestDetachClosesSubscriberChannel(t *testing.T) {
	c := newTestClient()
	c.attachSubs["exec-a"] = make(chan ExecOutput, 1)

	c.Detach("exec-a")

	c.mu.Lock()
	_, ok := c.attachSubs["exec-a"]
	c.mu.Unlock()
	require.False(t, ok)
}
