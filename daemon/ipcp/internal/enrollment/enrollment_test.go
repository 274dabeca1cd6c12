package enrollment

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
	"github.com/your-org/rina-stack/daemon/ipcp/internal/rib"
)

type fakeKernel struct {
	assignResult int32
	nextPort     int32
	submitted    []ctrl.Payload
}

func (k *fakeKernel) Submit(p ctrl.Payload, cb func(*ctrl.Message, error)) error {
	k.submitted = append(k.submitted, p)
	switch p.(type) {
	case *ctrl.AssignToDIFRequest:
		cb(wrap(ctrl.NewResult(ctrl.MsgAssignToDIFResponse, k.assignResult, "")), nil)
	case *ctrl.UpdateDIFConfigRequest:
		cb(wrap(ctrl.NewResult(ctrl.MsgUpdateDIFConfigResponse, 0, "")), nil)
	case *ctrl.FlowAllocateRequest:
		k.nextPort += 11
		cb(wrap(&ctrl.FlowAllocateResponse{Result: 0, PortID: k.nextPort}), nil)
	default:
		cb(nil, nil)
	}
	return nil
}

func wrap(p ctrl.Payload) *ctrl.Message {
	return &ctrl.Message{Header: ctrl.Header{Type: p.MessageType(), Flags: ctrl.FlagResponse}, Payload: p}
}

type sentCDAP struct {
	portID int32
	msg    *cdap.Message
	cb     func(*cdap.Message, error)
}

type fakeCDAP struct {
	requests  []sentCDAP
	responses []sentCDAP
}

func (f *fakeCDAP) SendRequest(portID int32, msg *cdap.Message, cb func(*cdap.Message, error)) error {
	f.requests = append(f.requests, sentCDAP{portID: portID, msg: msg, cb: cb})
	return nil
}

func (f *fakeCDAP) SendResponse(portID int32, msg *cdap.Message) error {
	f.responses = append(f.responses, sentCDAP{portID: portID, msg: msg})
	return nil
}

type notification struct {
	added     bool
	neighbors []dif.Neighbor
}

type fakeNotifier struct {
	assigns   []int32
	enrolls   []int32
	modified  []notification
	lastInfo  dif.Information
	lastPeers []dif.Neighbor
}

func (n *fakeNotifier) AssignToDIFResult(_ string, result int32, _ string) {
	n.assigns = append(n.assigns, result)
}

func (n *fakeNotifier) EnrollToDIFResult(_ string, result int32, _ string, info dif.Information, peers []dif.Neighbor) {
	n.enrolls = append(n.enrolls, result)
	n.lastInfo = info
	n.lastPeers = peers
}

func (n *fakeNotifier) NeighborsModified(added bool, neighbors []dif.Neighbor) {
	n.modified = append(n.modified, notification{added, neighbors})
}

type harness struct {
	ctx       *ipcpcontext.IPCPContext
	ctrl      *Controller
	kernel    *fakeKernel
	cdapch    *fakeCDAP
	notifier  *fakeNotifier
	scheduled []struct {
		d  time.Duration
		fn func()
	}
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		kernel:   &fakeKernel{},
		cdapch:   &fakeCDAP{},
		notifier: &fakeNotifier{},
		clock:    time.Unix(1000, 0),
	}
	h.ctx = ipcpcontext.New(1, names.New("rina.ipcp.a", "1", "", ""), zap.NewNop())
	require.NoError(t, h.ctx.SetInitialized())

	sched := func(d time.Duration, fn func()) {
		h.scheduled = append(h.scheduled, struct {
			d  time.Duration
			fn func()
		}{d, fn})
	}
	h.ctrl = NewController(h.ctx, h.kernel, h.cdapch, h.notifier, sched,
		Config{KeepaliveInterval: time.Second, MaxEnrollmentAttempts: 2, ReenrollBackoff: time.Second},
		zap.NewNop())
	h.ctrl.now = func() time.Time { return h.clock }
	return h
}

func difInfo() dif.Information {
	return dif.Information{
		Type: dif.TypeNormal,
		Name: names.New("rina.dif.d", "", "", ""),
		Configuration: dif.Configuration{
			Address:  1,
			QoSCubes: []qos.Cube{{ID: 0, Name: "unreliable", FlowSpecification: qos.FlowSpecification{MaxAllowableGap: -1}}},
		},
	}
}

func TestAssignToDIF(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.AssignToDIF("tx1", difInfo()))
	assert.Equal(t, ipcpcontext.StateAssigned, h.ctx.State())
	assert.Equal(t, []int32{0}, h.notifier.assigns)

	// Assignment from Assigned is illegal.
	err := h.ctrl.AssignToDIF("tx2", difInfo())
	require.Error(t, err)
	assert.Equal(t, rerr.KindInvalidStateTransition, rerr.KindOf(err))
}

func TestAssignToDIF_RollbackOnKernelFailure(t *testing.T) {
	h := newHarness(t)
	h.kernel.assignResult = 5

	require.NoError(t, h.ctrl.AssignToDIF("tx1", difInfo()))
	assert.Equal(t, ipcpcontext.StateInitialized, h.ctx.State())
	_, err := h.ctx.DIFInfo()
	assert.Error(t, err, "DIF information cleared on rollback")
	assert.Equal(t, []int32{5}, h.notifier.assigns)
}

func enrollReq() EnrollRequest {
	return EnrollRequest{
		TransactionID: "enr1",
		DIFName:       names.New("rina.dif.d", "", "", ""),
		SupportingDIF: names.New("rina.dif.s", "", "", ""),
		Neighbor:      names.New("rina.ipcp.n", "1", "", ""),
	}
}

func TestEnrollToDIF_HappyPath(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.AssignToDIF("tx1", difInfo()))

	require.NoError(t, h.ctrl.EnrollToDIF(enrollReq()))

	// N-1 flow on port 11, then M_CONNECT over it.
	require.Len(t, h.cdapch.requests, 1)
	connect := h.cdapch.requests[0]
	assert.Equal(t, int32(11), connect.portID)
	assert.Equal(t, cdap.MConnect, connect.msg.OpCode)
	assert.Equal(t, "enrollment", connect.msg.SrcAeName)

	// Accept the connect.
	connR, err := connect.msg.Reply()
	require.NoError(t, err)
	connect.cb(connR, nil)

	// M_START on the enrollment object with our address and supporting
	// DIF list.
	require.Len(t, h.cdapch.requests, 2)
	start := h.cdapch.requests[1]
	assert.Equal(t, cdap.MStart, start.msg.OpCode)
	assert.Equal(t, rib.PathEnrollment, start.msg.ObjName)
	obj, err := ctrl.UnmarshalEnrollmentObject(start.msg.ObjValue.Bytes)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), obj.Address)
	require.Len(t, obj.SupportingDIFs, 1)
	assert.Equal(t, "rina.dif.s", obj.SupportingDIFs[0].ProcessName)

	// The peer answers with its DIF view and neighbor table.
	peerInfo := difInfo()
	peerInfo.Configuration.Address = 2
	startR, err := start.msg.Reply()
	require.NoError(t, err)
	startR.ObjValue = cdap.BytesValue(ctrl.MarshalEnrollmentReply(ctrl.EnrollmentReply{
		DIFInfo: peerInfo,
		Neighbors: []dif.Neighbor{
			{Name: names.New("rina.ipcp.x", "1", "", ""), Address: 3},
		},
	}))
	start.cb(startR, nil)

	assert.Equal(t, ipcpcontext.StateEnrolled, h.ctx.State())
	assert.Equal(t, []int32{0}, h.notifier.enrolls)

	// The direct neighbor is enrolled with the management port bound.
	n, ok := h.ctx.Neighbor(names.New("rina.ipcp.n", "1", "", ""))
	require.True(t, ok)
	assert.True(t, n.Enrolled)
	assert.Equal(t, int32(11), n.UnderlyingPortID)
	assert.Equal(t, uint32(2), n.Address)

	// The learned neighbor is present but not enrolled.
	x, ok := h.ctx.Neighbor(names.New("rina.ipcp.x", "1", "", ""))
	require.True(t, ok)
	assert.False(t, x.Enrolled)

	// NeighborsModified(added) went to the IPC Manager.
	require.NotEmpty(t, h.notifier.modified)
	assert.True(t, h.notifier.modified[0].added)

	// The keepalive watchdog is armed.
	require.Len(t, h.scheduled, 1)
	assert.Equal(t, time.Second, h.scheduled[0].d)
}

func TestEnrollToDIF_RejectKeepsAssigned(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.AssignToDIF("tx1", difInfo()))
	require.NoError(t, h.ctrl.EnrollToDIF(enrollReq()))

	connect := h.cdapch.requests[0]
	connR, err := connect.msg.Reply()
	require.NoError(t, err)
	connR.SetResult(1, "not welcome")
	connect.cb(connR, nil)

	assert.Equal(t, ipcpcontext.StateAssigned, h.ctx.State())
	require.Len(t, h.notifier.enrolls, 1)
	assert.Equal(t, int32(1), h.notifier.enrolls[0])
}

func TestEnrollToDIF_RequiresAssignment(t *testing.T) {
	h := newHarness(t)
	err := h.ctrl.EnrollToDIF(enrollReq())
	require.Error(t, err)
	assert.Equal(t, rerr.KindNotAMemberOfDIF, rerr.KindOf(err))
}

func TestOnStartEnrollment_Responder(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.AssignToDIF("tx1", difInfo()))

	joiner := dif.Neighbor{Name: names.New("rina.ipcp.j", "1", "", "")}
	req := &cdap.Message{
		OpCode:   cdap.MStart,
		InvokeID: 4,
		ObjClass: "EnrollmentInformationRequest",
		ObjName:  rib.PathEnrollment,
		ObjValue: cdap.BytesValue(ctrl.MarshalEnrollmentObject(ctrl.EnrollmentObject{
			Address:        9,
			SupportingDIFs: []names.APNI{names.New("rina.dif.s", "", "", "")},
		})),
	}
	h.ctrl.OnStartEnrollment(req, 13, joiner)

	require.Len(t, h.cdapch.responses, 1)
	resp := h.cdapch.responses[0].msg
	assert.Equal(t, cdap.MStartR, resp.OpCode)
	assert.Zero(t, resp.Result)

	reply, err := ctrl.UnmarshalEnrollmentReply(resp.ObjValue.Bytes)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), reply.DIFInfo.Configuration.Address)
	require.NotEmpty(t, reply.Neighbors)

	n, ok := h.ctx.Neighbor(joiner.Name)
	require.True(t, ok)
	assert.True(t, n.Enrolled)
	assert.Equal(t, uint32(9), n.Address)
	assert.Equal(t, int32(13), n.UnderlyingPortID)
}

func TestKeepalive_DeclaresDeadAfterThreeIntervals(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.AssignToDIF("tx1", difInfo()))

	name := names.New("rina.ipcp.n", "1", "", "")
	h.ctx.UpsertNeighbor(dif.Neighbor{
		Name:             name,
		SupportingDIF:    names.New("rina.dif.s", "", "", ""),
		Address:          2,
		Enrolled:         true,
		UnderlyingPortID: 7,
	})
	h.ctx.NeighborHeard(name, h.clock)

	regens := 0
	h.ctrl.OnNeighborsChanged(func() { regens++ })

	// First tick within the window: neighbor alive, watchdog sent.
	h.ctrl.scheduleKeepalive()
	require.Len(t, h.scheduled, 1)
	fire := h.scheduled[0].fn
	h.scheduled = h.scheduled[:0]
	fire()
	require.Len(t, h.cdapch.requests, 1)
	assert.Equal(t, cdap.MRead, h.cdapch.requests[0].msg.OpCode)

	// Silence for more than three intervals.
	h.clock = h.clock.Add(4 * time.Second)
	require.NotEmpty(t, h.scheduled, "watchdog re-armed")
	fire = h.scheduled[0].fn
	h.scheduled = h.scheduled[:0]
	fire()

	n, ok := h.ctx.Neighbor(name)
	require.True(t, ok)
	assert.False(t, n.Enrolled, "neighbor declared dead")
	assert.GreaterOrEqual(t, regens, 1, "forwarding table regenerated")

	var sawRemoval bool
	for _, m := range h.notifier.modified {
		if !m.added {
			sawRemoval = true
		}
	}
	assert.True(t, sawRemoval)

	// Re-enrollment is scheduled with backoff.
	require.NotEmpty(t, h.scheduled)
	assert.Equal(t, time.Second, h.scheduled[0].d)
}
