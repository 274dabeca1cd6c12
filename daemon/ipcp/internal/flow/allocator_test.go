package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/ctrl"
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
	"github.com/your-org/rina-stack/common/rerr"
	ipcpcontext "github.com/your-org/rina-stack/daemon/ipcp/internal/context"
)

// harness wires an allocator to scripted fakes. Everything runs
// synchronously on the test goroutine, mirroring the event-loop model.
type harness struct {
	ctx       *ipcpcontext.IPCPContext
	alloc     *Allocator
	kernel    *fakeKernel
	mgmt      *fakeMgmt
	notifier  *fakeNotifier
	scheduled []scheduledFn
	log       *[]string
}

type scheduledFn struct {
	d  time.Duration
	fn func()
}

type fakeKernel struct {
	log     *[]string
	nextPort int32
	nextCEP  int32
	// failConnCreate makes connection creates fail with result 1.
	failConnCreate bool
	// failConnUpdate makes connection updates fail.
	failConnUpdate bool
}

func (k *fakeKernel) Submit(p ctrl.Payload, cb func(*ctrl.Message, error)) error {
	*k.log = append(*k.log, "kernel:"+p.MessageType().String())
	switch req := p.(type) {
	case *ctrl.FlowAllocateRequest:
		k.nextPort++
		cb(wrap(&ctrl.FlowAllocateResponse{Result: 0, PortID: k.nextPort}), nil)
	case *ctrl.ConnCreateRequest:
		if k.failConnCreate {
			cb(wrap(ctrl.NewConnCreateResponse(false, req.Conn.PortID, 0, 1)), nil)
			return nil
		}
		k.nextCEP++
		cb(wrap(ctrl.NewConnCreateResponse(false, req.Conn.PortID, k.nextCEP, 0)), nil)
	case *ctrl.ConnUpdateRequest:
		result := int32(0)
		if k.failConnUpdate {
			result = 1
		}
		cb(wrap(ctrl.NewPortResult(ctrl.MsgConnUpdateResult, req.PortID, result)), nil)
	case *ctrl.ConnDestroyRequest:
		cb(wrap(ctrl.NewPortResult(ctrl.MsgConnDestroyResult, req.PortID, 0)), nil)
	case *ctrl.FlowDeallocateRequest:
		cb(wrap(ctrl.NewResult(ctrl.MsgFlowDeallocateResponse, 0, "")), nil)
	default:
		cb(nil, nil)
	}
	return nil
}

func (k *fakeKernel) Send(p ctrl.Payload, _ ctrl.HeaderFlags) error {
	*k.log = append(*k.log, "kernel:"+p.MessageType().String())
	return nil
}

func wrap(p ctrl.Payload) *ctrl.Message {
	return &ctrl.Message{
		Header:  ctrl.Header{Type: p.MessageType(), Flags: ctrl.FlagResponse},
		Payload: p,
	}
}

type sentRequest struct {
	destAddr uint32
	msg      *cdap.Message
	cb       func(*cdap.Message, error)
}

type fakeMgmt struct {
	log       *[]string
	requests  []sentRequest
	responses []*cdap.Message
}

func (m *fakeMgmt) SendRequest(destAddr uint32, msg *cdap.Message, cb func(*cdap.Message, error)) error {
	*m.log = append(*m.log, "mgmt:"+msg.OpCode.String())
	m.requests = append(m.requests, sentRequest{destAddr: destAddr, msg: msg, cb: cb})
	return nil
}

func (m *fakeMgmt) SendResponse(portID int32, msg *cdap.Message) error {
	*m.log = append(*m.log, "mgmt:"+msg.OpCode.String())
	m.responses = append(m.responses, msg)
	return nil
}

type allocResult struct {
	transactionID string
	portID        int32
	result        int32
	reason        string
}

type fakeNotifier struct {
	log          *[]string
	allocated    []allocResult
	deallocated  []int32
	decision     Decision
	requested    []*Flow
}

func (n *fakeNotifier) FlowAllocated(tid string, portID, result int32, reason string) {
	*n.log = append(*n.log, "notify:allocated")
	n.allocated = append(n.allocated, allocResult{tid, portID, result, reason})
}

func (n *fakeNotifier) FlowRequested(f *Flow) Decision {
	n.requested = append(n.requested, f)
	return n.decision
}

func (n *fakeNotifier) FlowDeallocated(portID, code int32) {
	*n.log = append(*n.log, "notify:deallocated")
	n.deallocated = append(n.deallocated, portID)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := &[]string{}
	h := &harness{
		kernel:   &fakeKernel{log: log},
		mgmt:     &fakeMgmt{log: log},
		notifier: &fakeNotifier{log: log, decision: Decision{Accept: true}},
		log:      log,
	}
	h.ctx = ipcpcontext.New(1, names.New("rina.ipcp.a", "1", "", ""), zap.NewNop())
	require.NoError(t, h.ctx.SetInitialized())
	require.NoError(t, h.ctx.SetAssigned(dif.Information{
		Type: dif.TypeNormal,
		Name: names.New("rina.dif.test", "", "", ""),
		Configuration: dif.Configuration{
			Address: 1,
			DataTransferConstants: dif.DataTransferConstants{MaxPDULifetime: 50},
			QoSCubes: []qos.Cube{
				{ID: 0, Name: "unreliable", FlowSpecification: qos.FlowSpecification{MaxAllowableGap: -1, MaxSDUSize: 65535}},
			},
		},
	}))
	sched := func(d time.Duration, fn func()) {
		h.scheduled = append(h.scheduled, scheduledFn{d, fn})
	}
	h.alloc = NewAllocator(h.ctx, h.kernel, h.mgmt, h.notifier, sched,
		Config{MaxCreateFlowRetries: 2}, zap.NewNop())
	return h
}

func (h *harness) runScheduled() {
	for len(h.scheduled) > 0 {
		fn := h.scheduled[0].fn
		h.scheduled = h.scheduled[1:]
		fn()
	}
}

func request(tid string) FlowRequest {
	return FlowRequest{
		TransactionID: tid,
		Local:         names.New("app1", "src", "", ""),
		Remote:        names.New("app2", "dst", "", ""),
		FlowSpec:      qos.FlowSpecification{MaxSDUSize: 1500, MaxAllowableGap: -1},
	}
}

func TestAllocator_LocalHappyPath(t *testing.T) {
	h := newHarness(t)
	h.ctx.SetDirectoryEntry(names.New("app2", "dst", "", ""), 2)

	require.NoError(t, h.alloc.RequestFlow(request("tx1")))

	// Port reserved, connection created, M_CREATE out.
	require.Len(t, h.mgmt.requests, 1)
	create := h.mgmt.requests[0]
	assert.Equal(t, uint32(2), create.destAddr)
	assert.Equal(t, cdap.MCreate, create.msg.OpCode)

	obj, err := ctrl.UnmarshalFlowObject(create.msg.ObjValue.Bytes)
	require.NoError(t, err)
	assert.Equal(t, int32(1), obj.SourcePortID)
	assert.Equal(t, int32(1), obj.SourceCEPID)
	assert.Equal(t, uint32(1), obj.SourceAddress)
	assert.Equal(t, uint32(2), obj.DestinationAddress)

	// Peer accepts, carrying its CEP-id.
	resp, err := create.msg.Reply()
	require.NoError(t, err)
	resp.InvokeID = 1
	resp.ObjValue = cdap.Int32Value(77)
	create.cb(resp, nil)

	require.Len(t, h.notifier.allocated, 1)
	res := h.notifier.allocated[0]
	assert.Equal(t, "tx1", res.transactionID)
	assert.Zero(t, res.result)
	assert.Greater(t, res.portID, int32(0))

	f, ok := h.alloc.Flow(res.portID)
	require.True(t, ok)
	assert.Equal(t, StateAllocated, f.State)
	conn := f.ActiveConnection()
	require.NotNil(t, conn)
	assert.Equal(t, int32(77), conn.DestinationCEPID)
	assert.Equal(t, dif.ConnectionStateUpdated, conn.State)
}

func TestAllocator_UnknownApplication(t *testing.T) {
	h := newHarness(t)

	err := h.alloc.RequestFlow(request("tx2"))
	require.Error(t, err)
	assert.Equal(t, rerr.KindUnknownApplication, rerr.KindOf(err))

	require.Len(t, h.notifier.allocated, 1)
	assert.Equal(t, int32(-1), h.notifier.allocated[0].portID)
	assert.Empty(t, h.mgmt.requests, "no M_CREATE without a resolvable destination")
}

func TestAllocator_PeerRejectDestroysConnectionFirst(t *testing.T) {
	h := newHarness(t)
	h.ctx.SetDirectoryEntry(names.New("app2", "dst", "", ""), 2)

	require.NoError(t, h.alloc.RequestFlow(request("tx3")))
	require.Len(t, h.mgmt.requests, 1)
	create := h.mgmt.requests[0]

	resp, err := create.msg.Reply()
	require.NoError(t, err)
	resp.InvokeID = 1
	resp.SetResult(rerr.KindUnknownApplication.Code(), "unknown application")
	create.cb(resp, nil)

	// The half-created connection is destroyed before the failure is
	// reported upward.
	var destroyIdx, notifyIdx int = -1, -1
	for i, entry := range *h.log {
		if entry == "kernel:CONN_DESTROY_REQUEST" && destroyIdx < 0 {
			destroyIdx = i
		}
		if entry == "notify:allocated" && notifyIdx < 0 {
			notifyIdx = i
		}
	}
	require.GreaterOrEqual(t, destroyIdx, 0, "connection destroy issued")
	require.GreaterOrEqual(t, notifyIdx, 0)
	assert.Less(t, destroyIdx, notifyIdx, "destroy precedes the failure report")

	require.Len(t, h.notifier.allocated, 1)
	res := h.notifier.allocated[0]
	assert.Equal(t, rerr.KindPeerRejected.Code(), res.result)
	assert.Equal(t, "unknown application", res.reason)
}

func TestAllocator_RetriesOnTimeout(t *testing.T) {
	h := newHarness(t)
	h.ctx.SetDirectoryEntry(names.New("app2", "dst", "", ""), 2)

	require.NoError(t, h.alloc.RequestFlow(request("tx4")))
	require.Len(t, h.mgmt.requests, 1)

	// Two timeouts burn the retry budget; each triggers a retransmission.
	h.mgmt.requests[0].cb(nil, rerr.New(rerr.KindTimeout, "no reply"))
	require.Len(t, h.mgmt.requests, 2)
	h.mgmt.requests[1].cb(nil, rerr.New(rerr.KindTimeout, "no reply"))
	require.Len(t, h.mgmt.requests, 3)

	// Third failure exhausts the budget.
	h.mgmt.requests[2].cb(nil, rerr.New(rerr.KindTimeout, "no reply"))
	require.Len(t, h.mgmt.requests, 3)
	require.Len(t, h.notifier.allocated, 1)
	assert.NotZero(t, h.notifier.allocated[0].result)
}

func incomingCreate(t *testing.T, srcCEP int32) *cdap.Message {
	t.Helper()
	obj := ctrl.FlowObject{
		SourceApp:          names.New("app1", "src", "", ""),
		DestinationApp:     names.New("app2", "dst", "", ""),
		SourcePortID:       9,
		SourceCEPID:        srcCEP,
		SourceAddress:      2,
		DestinationAddress: 1,
		QoSID:              0,
		FlowSpec:           qos.FlowSpecification{MaxAllowableGap: -1},
		HopCount:           3,
	}
	return &cdap.Message{
		OpCode:   cdap.MCreate,
		InvokeID: 5,
		ObjClass: "Flow",
		ObjName:  flowObjectName("app1-src", "app2-dst"),
		ObjValue: cdap.BytesValue(ctrl.MarshalFlowObject(obj)),
	}
}

func TestAllocator_RemoteHappyPath(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctx.RegisterApp(names.New("app2", "dst", "", "")))

	h.alloc.OnCreateFlowRequest(incomingCreate(t, 55), 11)

	// Auto-accept: reply carries our CEP-id with result 0.
	require.Len(t, h.mgmt.responses, 1)
	reply := h.mgmt.responses[0]
	assert.Equal(t, cdap.MCreateR, reply.OpCode)
	assert.Zero(t, reply.Result)
	assert.Equal(t, int32(5), reply.InvokeID)
	assert.Equal(t, int64(1), reply.ObjValue.Int, "local CEP-id in the object value")

	require.Len(t, h.notifier.requested, 1)
	f := h.notifier.requested[0]
	assert.Equal(t, StateAllocated, f.State)
	assert.Equal(t, int32(55), f.ActiveConnection().DestinationCEPID)
	assert.Equal(t, uint32(2), f.HopCount, "hop count decremented")
}

func TestAllocator_RemoteUnknownApplication(t *testing.T) {
	h := newHarness(t)

	h.alloc.OnCreateFlowRequest(incomingCreate(t, 55), 11)

	require.Len(t, h.mgmt.responses, 1)
	reply := h.mgmt.responses[0]
	assert.Equal(t, rerr.KindUnknownApplication.Code(), reply.Result)
	assert.Equal(t, "unknown application", reply.ResultReason)
	assert.Empty(t, h.alloc.Flows())
}

func TestAllocator_RemoteDeferredReject(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctx.RegisterApp(names.New("app2", "dst", "", "")))
	h.notifier.decision = Decision{Pending: true}

	h.alloc.OnCreateFlowRequest(incomingCreate(t, 55), 11)
	require.Empty(t, h.mgmt.responses, "no reply while the application decides")

	f := h.notifier.requested[0]
	require.NoError(t, h.alloc.RespondToFlowRequest(f.LocalPort, false, "not now"))

	require.Len(t, h.mgmt.responses, 1)
	reply := h.mgmt.responses[0]
	assert.Equal(t, rerr.KindPeerRejected.Code(), reply.Result)
	assert.Equal(t, "not now", reply.ResultReason)
	assert.Empty(t, h.alloc.Flows())
}

func TestAllocator_DeallocateWaitsMPL(t *testing.T) {
	h := newHarness(t)
	h.ctx.SetDirectoryEntry(names.New("app2", "dst", "", ""), 2)

	require.NoError(t, h.alloc.RequestFlow(request("tx5")))
	create := h.mgmt.requests[0]
	resp, _ := create.msg.Reply()
	resp.InvokeID = 1
	resp.ObjValue = cdap.Int32Value(77)
	create.cb(resp, nil)

	port := h.notifier.allocated[0].portID
	require.NoError(t, h.alloc.Deallocate(port))

	// M_DELETE went to the peer; the flow drains for one MPL.
	f, ok := h.alloc.Flow(port)
	require.True(t, ok)
	assert.Equal(t, StateWaitingMPLBeforeTearDown, f.State)
	assert.Equal(t, cdap.MDelete, h.mgmt.requests[1].msg.OpCode)
	require.Len(t, h.scheduled, 1)
	assert.Equal(t, 50*time.Millisecond, h.scheduled[0].d)

	h.runScheduled()
	assert.Equal(t, StateDeallocated, f.State)
	_, ok = h.alloc.Flow(port)
	assert.False(t, ok)
	assert.Equal(t, []int32{port}, h.notifier.deallocated)
}

func TestAllocator_PeerDeleteDuringAllocation(t *testing.T) {
	h := newHarness(t)
	h.ctx.SetDirectoryEntry(names.New("app2", "dst", "", ""), 2)

	require.NoError(t, h.alloc.RequestFlow(request("tx6")))
	require.Len(t, h.mgmt.requests, 1)

	// Peer deletes while our M_CREATE is still outstanding.
	del := &cdap.Message{
		OpCode:   cdap.MDelete,
		InvokeID: 8,
		ObjClass: "Flow",
		ObjName:  flowObjectName("app1-src", "app2-dst"),
	}
	h.alloc.OnDeleteFlowRequest(del, 11)

	// The flow dies immediately, no MPL wait, and the requester learns of
	// the failure.
	assert.Empty(t, h.alloc.Flows())
	require.Len(t, h.notifier.allocated, 1)
	assert.NotZero(t, h.notifier.allocated[0].result)

	// A late M_CREATE_R is ignored.
	resp, _ := h.mgmt.requests[0].msg.Reply()
	resp.InvokeID = 1
	resp.ObjValue = cdap.Int32Value(77)
	h.mgmt.requests[0].cb(resp, nil)
	assert.Len(t, h.notifier.allocated, 1)
}

func TestAllocator_ConnUpdateFailureCompensates(t *testing.T) {
	h := newHarness(t)
	h.kernel.failConnUpdate = true
	h.ctx.SetDirectoryEntry(names.New("app2", "dst", "", ""), 2)

	require.NoError(t, h.alloc.RequestFlow(request("tx7")))
	create := h.mgmt.requests[0]
	resp, _ := create.msg.Reply()
	resp.InvokeID = 1
	resp.ObjValue = cdap.Int32Value(77)
	create.cb(resp, nil)

	// The kernel failed after M_CREATE succeeded: a compensating M_DELETE
	// goes to the peer.
	var sawDelete bool
	for _, r := range h.mgmt.requests[1:] {
		if r.msg.OpCode == cdap.MDelete {
			sawDelete = true
		}
	}
	assert.True(t, sawDelete, "compensating M_DELETE sent")
	require.Len(t, h.notifier.allocated, 1)
	assert.NotZero(t, h.notifier.allocated[0].result)
}
