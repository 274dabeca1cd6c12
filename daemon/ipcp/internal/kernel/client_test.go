package kernel

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/ctrl"
	"github.com/your-org/rina-stack/common/rerr"
)

// fakeKernel answers control-channel records on the far end of a pipe.
type fakeKernel struct {
	conn net.Conn
	mu   sync.Mutex
	got  []*ctrl.Message
}

func newFakeKernel(conn net.Conn) *fakeKernel {
	return &fakeKernel{conn: conn}
}

// serve reads records and passes them to respond; a nil return sends
// nothing back.
func (f *fakeKernel) serve(t *testing.T, respond func(*ctrl.Message) *ctrl.Message) {
	t.Helper()
	go func() {
		for {
			msg, err := ctrl.ReadRecord(f.conn)
			if err != nil {
				return
			}
			f.mu.Lock()
			f.got = append(f.got, msg)
			f.mu.Unlock()
			if resp := respond(msg); resp != nil {
				if err := ctrl.WriteRecord(f.conn, resp); err != nil {
					return
				}
			}
		}
	}()
}

func (f *fakeKernel) received() []*ctrl.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ctrl.Message(nil), f.got...)
}

func echoResult(req *ctrl.Message, result int32) *ctrl.Message {
	return &ctrl.Message{
		Header: ctrl.Header{
			SequenceNumber:    req.Header.SequenceNumber,
			SourceIPCPID:      req.Header.DestinationIPCPID,
			DestinationIPCPID: req.Header.SourceIPCPID,
			Type:              ctrl.MsgAssignToDIFResponse,
			Flags:             ctrl.FlagResponse,
		},
		Payload: ctrl.NewResult(ctrl.MsgAssignToDIFResponse, result, ""),
	}
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeKernel) {
	t.Helper()
	local, remote := net.Pipe()
	c := New(local, 1, zap.NewNop(), opts...)
	c.Start()
	t.Cleanup(func() { c.Close() })
	return c, newFakeKernel(remote)
}

func TestClient_RequestResponse(t *testing.T) {
	c, k := newTestClient(t)
	k.serve(t, func(req *ctrl.Message) *ctrl.Message { return echoResult(req, 0) })

	done := make(chan *ctrl.Message, 1)
	_, err := c.Submit(&ctrl.AssignToDIFRequest{}, 1, func(m *ctrl.Message, err error) {
		require.NoError(t, err)
		done <- m
	})
	require.NoError(t, err)

	select {
	case m := <-done:
		assert.Equal(t, int32(0), m.Payload.(*ctrl.ResultPayload).Result)
	case <-time.After(time.Second):
		t.Fatal("no response")
	}
}

func TestClient_ConcurrentOutOfOrderResponses(t *testing.T) {
	c, k := newTestClient(t)

	// Buffer requests, answer them all in reverse once the last arrives.
	const n = 10
	var mu sync.Mutex
	var reqs []*ctrl.Message
	k.serve(t, func(req *ctrl.Message) *ctrl.Message {
		mu.Lock()
		defer mu.Unlock()
		reqs = append(reqs, req)
		if len(reqs) == n {
			for i := len(reqs) - 1; i > 0; i-- {
				if err := ctrl.WriteRecord(k.conn, echoResult(reqs[i], 0)); err != nil {
					return nil
				}
			}
			return echoResult(reqs[0], 0)
		}
		return nil
	})

	var wg sync.WaitGroup
	var resolved atomic32
	for i := 0; i < n; i++ {
		wg.Add(1)
		_, err := c.Submit(&ctrl.AssignToDIFRequest{}, 1, func(m *ctrl.Message, err error) {
			defer wg.Done()
			require.NoError(t, err)
			resolved.inc()
		})
		require.NoError(t, err)
	}

	waitDone(t, &wg)
	assert.Equal(t, int32(n), resolved.get(), "every continuation resolved exactly once")
	assert.Zero(t, c.DroppedLateResponses())
}

func TestClient_UnknownSequenceNumberDropped(t *testing.T) {
	c, k := newTestClient(t, WithTimeout(100*time.Millisecond))
	k.serve(t, func(req *ctrl.Message) *ctrl.Message {
		// Answer with a sequence number that matches nothing.
		resp := echoResult(req, 0)
		resp.Header.SequenceNumber = req.Header.SequenceNumber + 1000
		return resp
	})

	fired := make(chan error, 1)
	_, err := c.Submit(&ctrl.AssignToDIFRequest{}, 1, func(_ *ctrl.Message, err error) {
		fired <- err
	})
	require.NoError(t, err)

	// The mismatched response is dropped and counted; the request itself
	// later times out.
	require.Eventually(t, func() bool { return c.DroppedLateResponses() == 1 },
		time.Second, 5*time.Millisecond)

	select {
	case err := <-fired:
		assert.Equal(t, rerr.KindTimeout, rerr.KindOf(err))
	case <-time.After(10 * time.Second):
		t.Fatal("continuation never resolved")
	}
}

func TestClient_TimeoutThenLateResponse(t *testing.T) {
	c, k := newTestClient(t, WithTimeout(30*time.Millisecond))

	var mu sync.Mutex
	var late *ctrl.Message
	k.serve(t, func(req *ctrl.Message) *ctrl.Message {
		mu.Lock()
		late = echoResult(req, 0)
		mu.Unlock()
		return nil
	})

	fired := make(chan error, 1)
	_, err := c.Submit(&ctrl.AssignToDIFRequest{}, 1, func(_ *ctrl.Message, err error) {
		fired <- err
	})
	require.NoError(t, err)

	select {
	case err := <-fired:
		assert.Equal(t, rerr.KindTimeout, rerr.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	// Deliver the response after the deadline: dropped and counted, the
	// continuation is not resolved a second time.
	mu.Lock()
	resp := late
	mu.Unlock()
	require.NotNil(t, resp)
	require.NoError(t, ctrl.WriteRecord(k.conn, resp))

	require.Eventually(t, func() bool { return c.DroppedLateResponses() == 1 },
		time.Second, 5*time.Millisecond)
	select {
	case <-fired:
		t.Fatal("continuation resolved twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_Notifications(t *testing.T) {
	c, k := newTestClient(t)

	got := make(chan *ctrl.Message, 1)
	c.Subscribe(ctrl.MsgFlowAllocateArrived, func(m *ctrl.Message) { got <- m })

	k.serve(t, func(req *ctrl.Message) *ctrl.Message { return nil })
	notif := &ctrl.Message{
		Header: ctrl.Header{
			SequenceNumber: 999,
			Type:           ctrl.MsgFlowAllocateArrived,
			Flags:          ctrl.FlagNotification,
		},
		Payload: &ctrl.FlowAllocateArrived{PortID: 44},
	}
	require.NoError(t, ctrl.WriteRecord(k.conn, notif))

	select {
	case m := <-got:
		assert.Equal(t, int32(44), m.Payload.(*ctrl.FlowAllocateArrived).PortID)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestClient_ChannelClosedFailsOutstanding(t *testing.T) {
	c, k := newTestClient(t, WithTimeout(10*time.Second))
	k.serve(t, func(req *ctrl.Message) *ctrl.Message { return nil })

	closedHook := make(chan error, 1)
	c.OnClosed(func(err error) { closedHook <- err })

	fired := make(chan error, 1)
	_, err := c.Submit(&ctrl.AssignToDIFRequest{}, 1, func(_ *ctrl.Message, err error) {
		fired <- err
	})
	require.NoError(t, err)

	// Give the writer a moment to flush, then kill the transport.
	time.Sleep(20 * time.Millisecond)
	k.conn.Close()

	select {
	case err := <-fired:
		assert.Equal(t, rerr.KindChannelClosed, rerr.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("outstanding request not failed on close")
	}

	select {
	case <-closedHook:
	case <-time.After(time.Second):
		t.Fatal("closed hook not invoked")
	}

	// New submissions are rejected immediately.
	_, err = c.Submit(&ctrl.AssignToDIFRequest{}, 1, func(*ctrl.Message, error) {})
	require.Error(t, err)
	assert.Equal(t, rerr.KindChannelClosed, rerr.KindOf(err))
}

func TestClient_SequenceNumbersMonotonic(t *testing.T) {
	c, _ := newTestClient(t)
	prev := c.NextSequenceNumber()
	for i := 0; i < 100; i++ {
		next := c.NextSequenceNumber()
		assert.Greater(t, next, prev)
		prev = next
	}
}

// atomic32 is a tiny test helper counter.
type atomic32 struct {
	mu sync.Mutex
	n  int32
}

func (a *atomic32) inc() {
	a.mu.Lock()
	a.n++
	a.mu.Unlock()
}

func (a *atomic32) get() int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func waitDone(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
	}
}
