package flow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/ctrl"
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/metrics"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
	"github.com/your-org/rina-stack/common/rerr"
)

// FlowRequest is a local application's ask for a flow.
type FlowRequest struct {
	TransactionID string
	Local         names.APNI
	Remote        names.APNI
	FlowSpec      qos.FlowSpecification
	Ctx           context.Context
}

// SpanContext returns the tracing context of the request.
func (r FlowRequest) SpanContext() context.Context {
	if r.Ctx == nil {
		return context.Background()
	}
	return r.Ctx
}

// OnCreateFlowRequest handles an incoming M_CREATE on the flow subtree:
// the remotely initiated half of allocation. The reply is sent once the
// kernel and the application have had their say.
func (a *Allocator) OnCreateFlowRequest(req *cdap.Message, fromPort int32) {
	reject := func(kind rerr.Kind, reason string) {
		a.replyCreate(req, fromPort, kind.Code(), reason, 0)
		metrics.RecordFlowAllocation("error", false)
	}

	if req.ObjValue.Kind != cdap.ValueBytes {
		reject(rerr.KindObjectValueNull, "flow object value missing")
		return
	}
	obj, err := ctrl.UnmarshalFlowObject(req.ObjValue.Bytes)
	if err != nil {
		reject(rerr.KindMalformedMessage, "flow object: "+err.Error())
		return
	}

	// Step 1: validate the flow object.
	if err := obj.SourceApp.Validate(); err != nil {
		reject(rerr.KindRequiredFieldMissing, "source application name missing")
		return
	}
	if err := obj.DestinationApp.Validate(); err != nil {
		reject(rerr.KindRequiredFieldMissing, "destination application name missing")
		return
	}
	if obj.HopCount == 0 {
		reject(rerr.KindInvalidField, "hop count exhausted")
		return
	}
	if !a.ctx.IsRegistered(obj.DestinationApp) {
		reject(rerr.KindUnknownApplication, "unknown application")
		return
	}

	f := &Flow{
		LocalApp:         obj.DestinationApp,
		RemoteApp:        obj.SourceApp,
		RemotePort:       obj.SourcePortID,
		LocalAddr:        a.ctx.Address(),
		RemoteAddr:       obj.SourceAddress,
		FlowSpec:         obj.FlowSpec,
		QoSID:            obj.QoSID,
		State:            StateEmpty,
		HopCount:         obj.HopCount - 1,
		LocallyInitiated: false,
		mgmtPort:         fromPort,
		pendingInvokeID:  req.InvokeID,
	}

	// Step 2: reserve a port-id, then instantiate the responder half of
	// the connection.
	info, err := a.ctx.DIFInfo()
	if err != nil {
		reject(rerr.KindNotAMemberOfDIF, rerr.ReasonOf(err))
		return
	}
	alloc := &ctrl.FlowAllocateRequest{
		Local:    f.LocalApp,
		Remote:   f.RemoteApp,
		DIFName:  info.Name,
		FlowSpec: f.FlowSpec,
	}
	err = a.kernel.Submit(alloc, func(m *ctrl.Message, err error) {
		if err != nil {
			reject(rerr.KindOf(err), rerr.ReasonOf(err))
			return
		}
		resp := m.Payload.(*ctrl.FlowAllocateResponse)
		if resp.Result != 0 {
			reject(rerr.KindNoFreePortID, "port allocation failed: "+resp.Reason)
			return
		}
		f.LocalPort = resp.PortID
		f.State = StateAllocationInProgress
		a.flows[f.LocalPort] = f
		a.createArrivedConnection(f, obj, req)
	})
	if err != nil {
		reject(rerr.KindOf(err), rerr.ReasonOf(err))
	}
}

// createArrivedConnection runs the responder-side connection create.
func (a *Allocator) createArrivedConnection(f *Flow, obj ctrl.FlowObject, req *cdap.Message) {
	conn := dif.Connection{
		PortID:             f.LocalPort,
		SourceAddress:      f.RemoteAddr,
		DestinationAddress: f.LocalAddr,
		QoSID:              f.QoSID,
		DestinationCEPID:   obj.SourceCEPID,
		Policies:           obj.Policies,
		State:              dif.ConnectionStateRequested,
	}

	err := a.kernel.Submit(ctrl.NewConnCreate(true, conn), func(m *ctrl.Message, err error) {
		if err != nil {
			a.unwindArrived(f, req, rerr.KindOf(err), rerr.ReasonOf(err))
			return
		}
		resp := m.Payload.(*ctrl.ConnCreateResponse)
		if resp.Result != 0 {
			a.unwindArrived(f, req, rerr.KindNoFreeCEPID, "connection create failed")
			return
		}
		conn.SourceCEPID = resp.SourceCEPID
		conn.State = dif.ConnectionStateCreated
		f.Connections = append(f.Connections, conn)
		f.ActiveConn = len(f.Connections) - 1

		// Step 3: ask the application; an auto-accept handler answers
		// inline, otherwise the reply waits for RespondToFlowRequest.
		decision := a.notifier.FlowRequested(f)
		if decision.Pending {
			return
		}
		a.finishArrived(f, req, decision.Accept, decision.Reason)
	})
	if err != nil {
		a.unwindArrived(f, req, rerr.KindOf(err), rerr.ReasonOf(err))
	}
}

// RespondToFlowRequest is the application's deferred answer to an incoming
// flow request.
func (a *Allocator) RespondToFlowRequest(portID int32, accept bool, reason string) error {
	f, ok := a.flows[portID]
	if !ok {
		return rerr.New(rerr.KindUnknownInvokeID, "no pending flow on port-id %d", portID)
	}
	if f.LocallyInitiated || f.State != StateAllocationInProgress {
		return rerr.New(rerr.KindInvalidStateTransition, "flow on port-id %d is not awaiting a decision", portID)
	}
	req := &cdap.Message{
		OpCode:   cdap.MCreate,
		InvokeID: f.pendingInvokeID,
		ObjClass: "Flow",
		ObjName:  flowObjectName(f.RemoteApp.String(), f.LocalApp.String()),
		ObjValue: cdap.BoolValue(true),
	}
	a.finishArrived(f, req, accept, reason)
	return nil
}

// finishArrived completes the responder side: accept binds and replies 0,
// reject unwinds and replies the reason.
func (a *Allocator) finishArrived(f *Flow, req *cdap.Message, accept bool, reason string) {
	if !accept {
		a.unwindArrived(f, req, rerr.KindPeerRejected, reason)
		return
	}
	conn := f.ActiveConnection()
	f.State = StateAllocated
	metrics.RecordFlowAllocation("ok", false)
	metrics.SetActiveFlows(a.activeCount())
	a.logger.Info("Flow accepted",
		zap.Int32("port_id", f.LocalPort),
		zap.String("remote_app", f.RemoteApp.String()),
	)
	a.replyCreate(req, f.mgmtPort, 0, "", conn.SourceCEPID)
}

// unwindArrived tears down a failed responder-side allocation and replies
// with the reason.
func (a *Allocator) unwindArrived(f *Flow, req *cdap.Message, kind rerr.Kind, reason string) {
	a.destroyConnection(f)
	a.releasePort(f)
	f.State = StateDeallocated
	delete(a.flows, f.LocalPort)
	metrics.RecordFlowAllocation("error", false)
	a.replyCreate(req, f.mgmtPort, kind.Code(), reason, 0)
}

// replyCreate sends the M_CREATE_R for an incoming flow request, the local
// CEP-id riding in the object value on success.
func (a *Allocator) replyCreate(req *cdap.Message, port int32, result int32, reason string, cepID int32) {
	reply, err := req.Reply()
	if err != nil {
		a.logger.Error("Cannot build create reply", zap.Error(err))
		return
	}
	reply.SetResult(result, reason)
	if result == 0 {
		reply.ObjValue = cdap.Int32Value(cepID)
	} else {
		reply.ObjValue = cdap.ObjectValue{}
	}
	if err := a.mgmt.SendResponse(port, reply); err != nil {
		a.logger.Warn("Create reply not sent", zap.Int32("port_id", port), zap.Error(err))
	}
}

// Deallocate tears down a flow from the local side: M_DELETE to the peer,
// destroy the connection, hold the port through the MPL drain, notify.
func (a *Allocator) Deallocate(portID int32) error {
	f, ok := a.flows[portID]
	if !ok {
		return rerr.New(rerr.KindNotRegistered, "no flow on port-id %d", portID)
	}
	if f.State != StateAllocated {
		return rerr.New(rerr.KindInvalidStateTransition, "flow on port-id %d is %s", portID, f.State)
	}

	del := &cdap.Message{
		OpCode:   cdap.MDelete,
		ObjClass: "Flow",
		ObjName:  flowObjectName(f.LocalApp.String(), f.RemoteApp.String()),
	}
	if err := a.mgmt.SendRequest(f.RemoteAddr, del, func(*cdap.Message, error) {}); err != nil {
		a.logger.Warn("M_DELETE not sent", zap.Int32("port_id", portID), zap.Error(err))
	}
	a.teardown(f, 0, "local deallocate")
	return nil
}

// OnDeleteFlowRequest handles the peer deallocating, including the race
// where our own allocation is still in progress.
func (a *Allocator) OnDeleteFlowRequest(req *cdap.Message, fromPort int32) {
	var target *Flow
	for _, f := range a.flows {
		if flowObjectName(f.RemoteApp.String(), f.LocalApp.String()) == req.ObjName ||
			flowObjectName(f.LocalApp.String(), f.RemoteApp.String()) == req.ObjName {
			target = f
			break
		}
	}

	reply, err := req.Reply()
	if err == nil {
		if target == nil {
			reply.SetResult(rerr.KindUnknownObjectName.Code(), "no such flow")
		}
		if err := a.mgmt.SendResponse(fromPort, reply); err != nil {
			a.logger.Warn("Delete reply not sent", zap.Error(err))
		}
	}
	if target == nil {
		return
	}

	if target.State == StateAllocationInProgress {
		// The peer aborted while we were still setting up: fail the
		// requester immediately.
		a.destroyConnection(target)
		a.releasePort(target)
		target.State = StateDeallocated
		delete(a.flows, target.LocalPort)
		if target.LocallyInitiated {
			a.notifier.FlowAllocated(target.TransactionID, -1,
				rerr.KindPeerRejected.Code(), "peer deallocated during setup")
		}
		return
	}
	a.teardown(target, rerr.KindPeerRejected.Code(), "peer deallocate")
}

// teardown destroys the connection, waits out the max PDU lifetime so
// in-flight PDUs drain, then releases the port and notifies.
func (a *Allocator) teardown(f *Flow, code int32, reason string) {
	a.destroyConnection(f)
	f.State = StateWaitingMPLBeforeTearDown
	metrics.SetActiveFlows(a.activeCount())
	metrics.RecordFlowDeallocation(reason)

	mpl := a.mpl()
	a.schedule(mpl, func() {
		if f.State != StateWaitingMPLBeforeTearDown {
			return
		}
		a.releasePort(f)
		f.State = StateDeallocated
		delete(a.flows, f.LocalPort)
		a.notifier.FlowDeallocated(f.LocalPort, code)
		a.logger.Info("Flow deallocated",
			zap.Int32("port_id", f.LocalPort),
			zap.String("reason", reason),
		)
	})
}

// mpl returns the DIF's max PDU lifetime; the drain window of a teardown.
func (a *Allocator) mpl() time.Duration {
	info, err := a.ctx.DIFInfo()
	if err != nil {
		return 0
	}
	return info.Configuration.MaxPDULifetime()
}
