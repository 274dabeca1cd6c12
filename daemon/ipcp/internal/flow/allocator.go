package flow

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/ctrl"
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/metrics"
	"github.com/your-org/rina-stack/common/qos"
	"github.com/your-org/rina-stack/common/rerr"
	ipcpcontext "github.com/your-org/rina-stack/daemon/ipcp/internal/context"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/rib"
)

// Kernel is the slice of the control-channel client the allocator uses.
// Continuations run on the event-loop goroutine.
type Kernel interface {
	Submit(payload ctrl.Payload, cb func(*ctrl.Message, error)) error
	Send(payload ctrl.Payload, flags ctrl.HeaderFlags) error
}

// ManagementPlane sends CDAP messages to peers in the DIF. SendRequest
// allocates the invoke-id, stamps it on the message and registers the
// continuation; SendResponse answers on the port a request arrived on.
type ManagementPlane interface {
	SendRequest(destAddr uint32, msg *cdap.Message, cb func(*cdap.Message, error)) error
	SendResponse(portID int32, msg *cdap.Message) error
}

// Decision is an application's answer to an incoming flow request.
type Decision struct {
	// Pending means the application will answer later through
	// RespondToFlowRequest.
	Pending bool
	Accept  bool
	Reason  string
}

// Notifier delivers allocator outcomes to the application side.
type Notifier interface {
	// FlowAllocated reports the outcome of a locally initiated allocation.
	FlowAllocated(transactionID string, portID int32, result int32, reason string)
	// FlowRequested asks the application about an incoming flow. Returning
	// a Pending decision defers the answer to RespondToFlowRequest.
	FlowRequested(f *Flow) Decision
	// FlowDeallocated reports a flow going away.
	FlowDeallocated(portID int32, code int32)
}

// Scheduler runs a function on the event-loop goroutine after a delay.
type Scheduler func(d time.Duration, fn func())

// Config tunes the allocator.
type Config struct {
	// MaxCreateFlowRetries bounds M_CREATE retransmissions on transient
	// failures.
	MaxCreateFlowRetries int
	// InitialHopCount seeds the hop-count of outgoing flow objects.
	InitialHopCount uint32
}

// Allocator owns every flow of one IPCP. It is confined to the IPCP's
// event-loop goroutine.
type Allocator struct {
	ctx      *ipcpcontext.IPCPContext
	kernel   Kernel
	mgmt     ManagementPlane
	notifier Notifier
	schedule Scheduler
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer

	flows map[int32]*Flow
}

// NewAllocator builds a flow allocator.
func NewAllocator(ctx *ipcpcontext.IPCPContext, kernel Kernel, mgmt ManagementPlane,
	notifier Notifier, schedule Scheduler, cfg Config, logger *zap.Logger) *Allocator {
	if cfg.MaxCreateFlowRetries <= 0 {
		cfg.MaxCreateFlowRetries = 2
	}
	if cfg.InitialHopCount == 0 {
		cfg.InitialHopCount = 3
	}
	return &Allocator{
		ctx:      ctx,
		kernel:   kernel,
		mgmt:     mgmt,
		notifier: notifier,
		schedule: schedule,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("ipcp-flow-allocator"),
		flows:    make(map[int32]*Flow),
	}
}

// Flow returns the flow bound to a local port-id.
func (a *Allocator) Flow(portID int32) (*Flow, bool) {
	f, ok := a.flows[portID]
	return f, ok
}

// Flows lists every flow the allocator tracks.
func (a *Allocator) Flows() []*Flow {
	out := make([]*Flow, 0, len(a.flows))
	for _, f := range a.flows {
		out = append(out, f)
	}
	return out
}

// activeCount counts flows in the Allocated state.
func (a *Allocator) activeCount() int {
	n := 0
	for _, f := range a.flows {
		if f.State == StateAllocated {
			n++
		}
	}
	return n
}

func flowObjectName(local, remote string) string {
	return fmt.Sprintf("%s/%s-%s", rib.PathFlows, local, remote)
}

// RequestFlow starts a locally initiated allocation: reserve a port-id,
// resolve the destination, create the EFCP connection and send M_CREATE.
func (a *Allocator) RequestFlow(ev FlowRequest) error {
	info, err := a.ctx.DIFInfo()
	if err != nil {
		a.fail(ev.TransactionID, err)
		return err
	}

	cube, ok := qos.SelectCube(info.Configuration.QoSCubes, ev.FlowSpec)
	if !ok {
		err := rerr.New(rerr.KindFlowSpecUnsatisfiable, "no QoS cube satisfies the requested flow spec")
		a.fail(ev.TransactionID, err)
		return err
	}

	destAddr, ok := a.ctx.ResolveApp(ev.Remote)
	if !ok {
		err := rerr.New(rerr.KindUnknownApplication, "application %s is not in the directory", ev.Remote)
		a.fail(ev.TransactionID, err)
		return err
	}

	_, span := a.tracer.Start(ev.SpanContext(), "flow.allocate",
		trace.WithAttributes(
			attribute.String("local_app", ev.Local.String()),
			attribute.String("remote_app", ev.Remote.String()),
			attribute.Int64("qos_id", int64(cube.ID)),
		),
	)

	f := &Flow{
		LocalApp:         ev.Local,
		RemoteApp:        ev.Remote,
		LocalAddr:        a.ctx.Address(),
		RemoteAddr:       destAddr,
		FlowSpec:         ev.FlowSpec,
		QoSID:            cube.ID,
		State:            StateEmpty,
		HopCount:         a.cfg.InitialHopCount,
		LocallyInitiated: true,
		TransactionID:    ev.TransactionID,
	}

	// Step 1: reserve a local port-id.
	req := &ctrl.FlowAllocateRequest{
		Local:    ev.Local,
		Remote:   ev.Remote,
		DIFName:  info.Name,
		FlowSpec: ev.FlowSpec,
	}
	err = a.kernel.Submit(req, func(m *ctrl.Message, err error) {
		defer span.End()
		if err != nil {
			a.fail(ev.TransactionID, err)
			return
		}
		resp := m.Payload.(*ctrl.FlowAllocateResponse)
		if resp.Result != 0 {
			a.fail(ev.TransactionID, rerr.New(rerr.KindNoFreePortID, "port allocation failed: %s", resp.Reason))
			return
		}
		f.LocalPort = resp.PortID
		f.State = StateAllocationInProgress
		a.flows[f.LocalPort] = f
		a.createConnection(f)
	})
	if err != nil {
		span.End()
		a.fail(ev.TransactionID, err)
		return err
	}
	return nil
}

// createConnection runs step 3 of the local allocation: ask the kernel for
// an EFCP connection instance.
func (a *Allocator) createConnection(f *Flow) {
	conn := dif.Connection{
		PortID:             f.LocalPort,
		SourceAddress:      f.LocalAddr,
		DestinationAddress: f.RemoteAddr,
		QoSID:              f.QoSID,
		Policies:           a.connectionPolicies(),
		State:              dif.ConnectionStateRequested,
	}

	err := a.kernel.Submit(ctrl.NewConnCreate(false, conn), func(m *ctrl.Message, err error) {
		if err != nil {
			a.abortInProgress(f, err)
			return
		}
		resp := m.Payload.(*ctrl.ConnCreateResponse)
		if resp.Result != 0 {
			a.abortInProgress(f, rerr.New(rerr.KindNoFreeCEPID, "connection create failed (result %d)", resp.Result))
			return
		}
		conn.SourceCEPID = resp.SourceCEPID
		conn.State = dif.ConnectionStateCreated
		f.Connections = append(f.Connections, conn)
		f.ActiveConn = len(f.Connections) - 1
		a.sendCreateFlow(f)
	})
	if err != nil {
		a.abortInProgress(f, err)
	}
}

// sendCreateFlow runs step 4: M_CREATE on the flow object toward the
// destination address.
func (a *Allocator) sendCreateFlow(f *Flow) {
	conn := f.ActiveConnection()
	obj := ctrl.FlowObject{
		SourceApp:          f.LocalApp,
		DestinationApp:     f.RemoteApp,
		SourcePortID:       f.LocalPort,
		SourceCEPID:        conn.SourceCEPID,
		SourceAddress:      f.LocalAddr,
		DestinationAddress: f.RemoteAddr,
		QoSID:              f.QoSID,
		FlowSpec:           f.FlowSpec,
		Policies:           conn.Policies,
		HopCount:           f.HopCount,
	}
	msg := &cdap.Message{
		OpCode:   cdap.MCreate,
		ObjClass: "Flow",
		ObjName:  flowObjectName(f.LocalApp.String(), f.RemoteApp.String()),
		ObjValue: cdap.BytesValue(ctrl.MarshalFlowObject(obj)),
	}

	err := a.mgmt.SendRequest(f.RemoteAddr, msg, func(resp *cdap.Message, err error) {
		a.handleCreateFlowResponse(f, resp, err)
	})
	if err != nil {
		// The connection exists already: tear it down before failing.
		a.destroyConnection(f)
		a.releaseAndFail(f, err)
	}
}

// handleCreateFlowResponse runs step 5: bind the remote CEP-id or unwind.
func (a *Allocator) handleCreateFlowResponse(f *Flow, resp *cdap.Message, err error) {
	if f.State != StateAllocationInProgress {
		// The peer's M_DELETE or a local deallocate got here first.
		return
	}
	if err != nil {
		a.retryOrUnwind(f, rerr.KindOf(err), rerr.ReasonOf(err))
		return
	}
	if resp.Result != 0 {
		a.retryOrUnwind(f, rerr.KindFromCode(resp.Result), resp.ResultReason)
		return
	}

	// The peer's CEP-id rides in the response object value.
	remoteCEP := int32(resp.ObjValue.Int)
	conn := f.ActiveConnection()
	conn.DestinationCEPID = remoteCEP

	update := &ctrl.ConnUpdateRequest{
		PortID:           f.LocalPort,
		SourceCEPID:      conn.SourceCEPID,
		DestinationCEPID: remoteCEP,
		FlowUserIPCPID:   0,
	}
	err = a.kernel.Submit(update, func(m *ctrl.Message, err error) {
		if err != nil {
			a.compensateAndUnwind(f, err)
			return
		}
		res := m.Payload.(*ctrl.PortResultPayload)
		if res.Result != 0 {
			a.compensateAndUnwind(f, rerr.New(rerr.KindInvalidField, "connection update failed (result %d)", res.Result))
			return
		}
		conn.State = dif.ConnectionStateUpdated
		f.State = StateAllocated
		metrics.RecordFlowAllocation("ok", true)
		metrics.SetActiveFlows(a.activeCount())
		a.logger.Info("Flow allocated",
			zap.Int32("port_id", f.LocalPort),
			zap.String("remote_app", f.RemoteApp.String()),
			zap.Uint32("qos_id", f.QoSID),
		)
		a.notifier.FlowAllocated(f.TransactionID, f.LocalPort, 0, "")
	})
	if err != nil {
		a.compensateAndUnwind(f, err)
	}
}

// retryOrUnwind retransmits M_CREATE while the retry budget lasts and the
// failure is transient; otherwise it unwinds the allocation.
func (a *Allocator) retryOrUnwind(f *Flow, kind rerr.Kind, reason string) {
	if rerr.Transient(kind) && f.CreateRetries < a.cfg.MaxCreateFlowRetries {
		f.CreateRetries++
		a.logger.Warn("Retrying flow create",
			zap.Int32("port_id", f.LocalPort),
			zap.Int("attempt", f.CreateRetries),
			zap.String("reason", reason),
		)
		a.sendCreateFlow(f)
		return
	}
	a.destroyConnection(f)
	a.releaseAndFail(f, &rerr.Error{Kind: rerr.KindPeerRejected, Reason: reason})
}

// compensateAndUnwind handles the kernel failing after M_CREATE already
// went out: tell the peer the flow is gone, then unwind.
func (a *Allocator) compensateAndUnwind(f *Flow, cause error) {
	del := &cdap.Message{
		OpCode:   cdap.MDelete,
		ObjClass: "Flow",
		ObjName:  flowObjectName(f.LocalApp.String(), f.RemoteApp.String()),
	}
	if err := a.mgmt.SendRequest(f.RemoteAddr, del, func(*cdap.Message, error) {}); err != nil {
		a.logger.Warn("Compensating M_DELETE failed", zap.Error(err))
	}
	a.destroyConnection(f)
	a.releaseAndFail(f, cause)
}

// abortInProgress unwinds an allocation that never got a connection.
func (a *Allocator) abortInProgress(f *Flow, cause error) {
	a.releaseAndFail(f, cause)
}

// destroyConnection issues the kernel destroy for the active connection.
func (a *Allocator) destroyConnection(f *Flow) {
	conn := f.ActiveConnection()
	if conn == nil || conn.State == dif.ConnectionStateDestroyed {
		return
	}
	req := &ctrl.ConnDestroyRequest{PortID: f.LocalPort, CEPID: conn.SourceCEPID}
	err := a.kernel.Submit(req, func(m *ctrl.Message, err error) {
		if err != nil {
			a.logger.Warn("Connection destroy failed", zap.Int32("port_id", f.LocalPort), zap.Error(err))
		}
	})
	if err != nil {
		a.logger.Warn("Connection destroy not sent", zap.Int32("port_id", f.LocalPort), zap.Error(err))
	}
	conn.State = dif.ConnectionStateDestroyed
}

// releasePort returns the flow's port-id to the kernel.
func (a *Allocator) releasePort(f *Flow) {
	if f.LocalPort == 0 {
		return
	}
	req := &ctrl.FlowDeallocateRequest{PortID: f.LocalPort}
	if err := a.kernel.Submit(req, func(*ctrl.Message, error) {}); err != nil {
		a.logger.Warn("Port release not sent", zap.Int32("port_id", f.LocalPort), zap.Error(err))
	}
}

// releaseAndFail finishes a failed locally initiated allocation.
func (a *Allocator) releaseAndFail(f *Flow, cause error) {
	a.releasePort(f)
	f.State = StateDeallocated
	delete(a.flows, f.LocalPort)
	metrics.RecordFlowAllocation("error", true)
	a.logger.Warn("Flow allocation failed",
		zap.String("remote_app", f.RemoteApp.String()),
		zap.Error(cause),
	)
	a.notifier.FlowAllocated(f.TransactionID, -1, rerr.CodeOf(cause), rerr.ReasonOf(cause))
}

// fail reports an allocation that died before a flow record existed.
func (a *Allocator) fail(transactionID string, cause error) {
	metrics.RecordFlowAllocation("error", true)
	a.notifier.FlowAllocated(transactionID, -1, rerr.CodeOf(cause), rerr.ReasonOf(cause))
}

// connectionPolicies derives EFCP policies from the DIF configuration.
func (a *Allocator) connectionPolicies() dif.ConnectionPolicies {
	info, err := a.ctx.DIFInfo()
	if err != nil {
		return dif.ConnectionPolicies{}
	}
	p := dif.ConnectionPolicies{InitialATimer: 300}
	if dtcp, ok := findPolicy(info.Configuration.Policies, "dtcp"); ok {
		p.DTCPPresent = true
		if v, ok := dtcp.Parameter("flow_control"); ok && v == "true" {
			p.DTCP.FlowControl = true
			p.DTCP.FlowControlConfig.WindowBased = true
			p.DTCP.FlowControlConfig.Window.InitialCredit = 50
		}
		if v, ok := dtcp.Parameter("rtx_control"); ok && v == "true" {
			p.DTCP.RtxControl = true
		}
	}
	return p
}

func findPolicy(policies []dif.Policy, name string) (dif.Policy, bool) {
	for _, p := range policies {
		if p.Name == name {
			return p, true
		}
	}
	return dif.Policy{}, false
}
