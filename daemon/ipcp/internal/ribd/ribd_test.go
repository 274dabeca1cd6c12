package ribd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/rerr"
	ipcpcontext "github.com/your-org/rina-stack/daemon/ipcp/internal/context"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/rib"
)

type fakeTransport struct {
	written []struct {
		portID int32
		sdu    []byte
	}
}

func (f *fakeTransport) WriteMgmtSDU(portID int32, sdu []byte) error {
	f.written = append(f.written, struct {
		portID int32
		sdu    []byte
	}{portID, sdu})
	return nil
}

type testBed struct {
	d         *Daemon
	transport *fakeTransport
	peer      *cdap.Session
	scheduled []func()
	broker    *rib.RIB
}

// newTestBed wires a daemon to a fake transport and a peer-side session on
// port 11 so frames can be decoded and answered as the neighbor would.
func newTestBed(t *testing.T) *testBed {
	t.Helper()
	tb := &testBed{transport: &fakeTransport{}}
	ctx := ipcpcontext.New(1, names.New("rina.ipcp.a", "1", "", ""), zap.NewNop())
	sessions := cdap.NewSessionManager(1)
	tb.broker = rib.New(zap.NewNop())
	sched := func(_ time.Duration, fn func()) { tb.scheduled = append(tb.scheduled, fn) }
	tb.d = New(ctx, sessions, tb.transport, tb.broker, sched, time.Second, zap.NewNop())
	tb.peer = cdap.NewSession(11)
	return tb
}

// establish drives both ends of port 11 to Established.
func (tb *testBed) establish(t *testing.T) {
	t.Helper()
	connect := &cdap.Message{
		OpCode:     cdap.MConnect,
		AbsSyntax:  1,
		InvokeID:   1,
		SrcApName:  "rina.ipcp.b",
		DestApName: "rina.ipcp.a",
	}
	b, err := tb.peer.EncodeNext(connect)
	require.NoError(t, err)
	tb.peer.OnSent(connect)
	tb.d.OnMgmtSDURead(11, b)

	// The attached acceptor answered with M_CONNECT_R; feed it back to the
	// peer session so both ends are Established.
	require.NotEmpty(t, tb.transport.written)
	_, err = tb.peer.OnReceived(tb.transport.written[len(tb.transport.written)-1].sdu)
	require.NoError(t, err)
	tb.transport.written = nil
}

func TestDaemon_RequestResponse(t *testing.T) {
	tb := newTestBed(t)
	tb.d.AttachEnrollmentHandler(acceptor{tb.d})
	tb.establish(t)

	got := make([]*cdap.Message, 0, 1)
	read := &cdap.Message{OpCode: cdap.MRead, ObjClass: "OperationalStatus", ObjName: rib.PathOperationalStatus}
	require.NoError(t, tb.d.SendRequest(11, read, func(m *cdap.Message, err error) {
		require.NoError(t, err)
		got = append(got, m)
	}))

	// Peer decodes the request and answers.
	require.Len(t, tb.transport.written, 1)
	req, err := tb.peer.OnReceived(tb.transport.written[0].sdu)
	require.NoError(t, err)
	assert.Equal(t, cdap.MRead, req.OpCode)
	assert.NotZero(t, req.InvokeID)

	reply, err := req.Reply()
	require.NoError(t, err)
	reply.ObjValue = cdap.StringValue("STARTED")
	b, err := tb.peer.EncodeNext(reply)
	require.NoError(t, err)
	tb.peer.OnSent(reply)
	tb.d.OnMgmtSDURead(11, b)

	require.Len(t, got, 1)
	assert.Equal(t, "STARTED", got[0].ObjValue.Str)

	// The timeout firing later finds no continuation left.
	for _, fn := range tb.scheduled {
		fn()
	}
	assert.Len(t, got, 1)
}

func TestDaemon_RequestTimeout(t *testing.T) {
	tb := newTestBed(t)
	tb.d.AttachEnrollmentHandler(acceptor{tb.d})
	tb.establish(t)

	var gotErr error
	read := &cdap.Message{OpCode: cdap.MRead, ObjClass: "X", ObjName: "/x"}
	require.NoError(t, tb.d.SendRequest(11, read, func(_ *cdap.Message, err error) { gotErr = err }))

	require.Len(t, tb.scheduled, 1)
	tb.scheduled[0]()
	require.Error(t, gotErr)
	assert.Equal(t, rerr.KindTimeout, rerr.KindOf(gotErr))
}

func TestDaemon_DispatchesToBroker(t *testing.T) {
	tb := newTestBed(t)
	tb.d.AttachEnrollmentHandler(acceptor{tb.d})
	tb.establish(t)

	_, err := tb.broker.Register("OperationalStatus", rib.PathOperationalStatus, statusHandler{})
	require.NoError(t, err)

	read := &cdap.Message{
		OpCode:   cdap.MRead,
		InvokeID: 9,
		ObjClass: "OperationalStatus",
		ObjName:  rib.PathOperationalStatus,
	}
	b, err := tb.peer.EncodeNext(read)
	require.NoError(t, err)
	tb.peer.OnSent(read)
	tb.d.OnMgmtSDURead(11, b)

	require.Len(t, tb.transport.written, 1)
	resp, err := tb.peer.OnReceived(tb.transport.written[0].sdu)
	require.NoError(t, err)
	assert.Equal(t, cdap.MReadR, resp.OpCode)
	assert.Zero(t, resp.Result)
	assert.Equal(t, "STARTED", resp.ObjValue.Str)
}

func TestDaemon_FlowGoneFailsContinuations(t *testing.T) {
	tb := newTestBed(t)
	tb.d.AttachEnrollmentHandler(acceptor{tb.d})
	tb.establish(t)

	var gotErr error
	read := &cdap.Message{OpCode: cdap.MRead, ObjClass: "X", ObjName: "/x"}
	require.NoError(t, tb.d.SendRequest(11, read, func(_ *cdap.Message, err error) { gotErr = err }))

	tb.d.OnFlowGone(11)
	require.Error(t, gotErr)
	assert.Equal(t, rerr.KindChannelClosed, rerr.KindOf(gotErr))
}

// acceptor answers M_CONNECT, the minimal enrollment handler the tests
// need.
type acceptor struct{ d *Daemon }

func (a acceptor) OnConnectRequest(req *cdap.Message, fromPort int32) {
	reply, err := req.Reply()
	if err != nil {
		return
	}
	_ = a.d.SendResponse(fromPort, reply)
}

func (acceptor) OnStartEnrollment(*cdap.Message, int32, dif.Neighbor) {}

// statusHandler serves a constant operational status.
type statusHandler struct{ rib.BaseHandler }

func (statusHandler) OnRead(string) (cdap.ObjectValue, error) {
	return cdap.StringValue("STARTED"), nil
}
