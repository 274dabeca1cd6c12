// Package ribd pumps CDAP messages between the IPCP's components and its
// peers: outgoing messages ride management SDUs through the kernel,
// incoming SDUs are decoded against the per-port session and dispatched to
// the RIB broker, the flow allocator or the enrollment controller.
package ribd

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/metrics"
	"github.com/your-org/rina-stack/common/rerr"
	ipcpcontext "github.com/your-org/rina-stack/daemon/ipcp/internal/context"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/rib"
)

// SDUTransport writes management SDUs to N-1 flows.
type SDUTransport interface {
	WriteMgmtSDU(portID int32, sdu []byte) error
}

// FlowHandler is the flow allocator's share of incoming CDAP traffic.
type FlowHandler interface {
	OnCreateFlowRequest(req *cdap.Message, fromPort int32)
	OnDeleteFlowRequest(req *cdap.Message, fromPort int32)
}

// EnrollmentHandler is the enrollment controller's share.
type EnrollmentHandler interface {
	OnConnectRequest(req *cdap.Message, fromPort int32)
	OnStartEnrollment(req *cdap.Message, fromPort int32, peer dif.Neighbor)
}

// Scheduler runs a function on the event-loop goroutine after a delay.
type Scheduler func(d time.Duration, fn func())

// Daemon is the CDAP message pump of one IPCP.
type Daemon struct {
	ctx       *ipcpcontext.IPCPContext
	sessions  *cdap.SessionManager
	transport SDUTransport
	broker    *rib.RIB
	schedule  Scheduler
	timeout   time.Duration
	logger    *zap.Logger

	flows      FlowHandler
	enrollment EnrollmentHandler

	// continuations are keyed by (port-id, invoke-id).
	continuations map[int32]map[int32]func(*cdap.Message, error)
}

// New builds the daemon. Handlers are attached afterwards to break the
// construction cycle between components.
func New(ctx *ipcpcontext.IPCPContext, sessions *cdap.SessionManager, transport SDUTransport,
	broker *rib.RIB, schedule Scheduler, timeout time.Duration, logger *zap.Logger) *Daemon {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Daemon{
		ctx:           ctx,
		sessions:      sessions,
		transport:     transport,
		broker:        broker,
		schedule:      schedule,
		timeout:       timeout,
		logger:        logger,
		continuations: make(map[int32]map[int32]func(*cdap.Message, error)),
	}
}

// AttachFlowHandler wires the flow allocator.
func (d *Daemon) AttachFlowHandler(h FlowHandler) { d.flows = h }

// AttachEnrollmentHandler wires the enrollment controller.
func (d *Daemon) AttachEnrollmentHandler(h EnrollmentHandler) { d.enrollment = h }

// SendRequest sends a CDAP request on an N-1 port, allocating the
// invoke-id and registering the continuation. The continuation resolves
// with the response, or with Timeout.
func (d *Daemon) SendRequest(portID int32, msg *cdap.Message, cb func(*cdap.Message, error)) error {
	s := d.sessions.GetOrCreate(portID)
	if msg.InvokeID == 0 {
		id, err := s.InvokeIDs().Allocate()
		if err != nil {
			return err
		}
		msg.InvokeID = id
	}

	b, err := s.EncodeNext(msg)
	if err != nil {
		s.InvokeIDs().Free(msg.InvokeID)
		return err
	}
	if err := d.transport.WriteMgmtSDU(portID, b); err != nil {
		s.InvokeIDs().Free(msg.InvokeID)
		return err
	}
	s.OnSent(msg)
	metrics.RecordCDAPMessage(msg.OpCode.String(), "out")

	if cb != nil {
		if d.continuations[portID] == nil {
			d.continuations[portID] = make(map[int32]func(*cdap.Message, error))
		}
		d.continuations[portID][msg.InvokeID] = cb
		invokeID := msg.InvokeID
		opcode := msg.OpCode
		d.schedule(d.timeout, func() {
			if pending := d.takeContinuation(portID, invokeID); pending != nil {
				pending(nil, rerr.New(rerr.KindTimeout, "no response to %s (invoke-id %d) on port %d", opcode, invokeID, portID))
			}
		})
	}
	return nil
}

// SendRequestToAddress resolves a DIF address to the neighbor's management
// port and sends there.
func (d *Daemon) SendRequestToAddress(destAddr uint32, msg *cdap.Message, cb func(*cdap.Message, error)) error {
	portID, ok := d.ctx.PortForAddress(destAddr)
	if !ok {
		return rerr.New(rerr.KindChannelClosed, "no management flow toward address %d", destAddr)
	}
	return d.SendRequest(portID, msg, cb)
}

// SendResponse sends a CDAP response on the port its request arrived on.
func (d *Daemon) SendResponse(portID int32, msg *cdap.Message) error {
	s := d.sessions.Get(portID)
	if s == nil {
		return rerr.New(rerr.KindChannelClosed, "no CDAP session on port-id %d", portID)
	}
	b, err := s.EncodeNext(msg)
	if err != nil {
		return err
	}
	if err := d.transport.WriteMgmtSDU(portID, b); err != nil {
		return err
	}
	s.OnSent(msg)
	s.ReleaseInvokeID(msg.InvokeID)
	metrics.RecordCDAPMessage(msg.OpCode.String(), "out")
	return nil
}

func (d *Daemon) takeContinuation(portID, invokeID int32) func(*cdap.Message, error) {
	byID, ok := d.continuations[portID]
	if !ok {
		return nil
	}
	cb, ok := byID[invokeID]
	if !ok {
		return nil
	}
	delete(byID, invokeID)
	return cb
}

// OnMgmtSDURead feeds one inbound management SDU through the session and
// dispatches the decoded message.
func (d *Daemon) OnMgmtSDURead(portID int32, sdu []byte) {
	s := d.sessions.GetOrCreate(portID)
	msg, err := s.OnReceived(sdu)
	if err != nil {
		d.logger.Warn("Dropping inbound CDAP message",
			zap.Int32("port_id", portID),
			zap.Error(err),
		)
		return
	}
	metrics.RecordCDAPMessage(msg.OpCode.String(), "in")
	d.markHeard(portID)

	if msg.OpCode.IsResponse() {
		if cb := d.takeContinuation(portID, msg.InvokeID); cb != nil {
			cb(msg, nil)
		} else {
			d.logger.Debug("Response without continuation",
				zap.Int32("port_id", portID),
				zap.Int32("invoke_id", msg.InvokeID),
			)
		}
		return
	}
	d.dispatchRequest(portID, msg)
}

// markHeard refreshes liveness of whichever neighbor owns the port.
func (d *Daemon) markHeard(portID int32) {
	for _, n := range d.ctx.Neighbors() {
		if n.UnderlyingPortID == portID {
			d.ctx.NeighborHeard(n.Name, time.Now())
			return
		}
	}
}

// dispatchRequest routes one inbound CDAP request.
func (d *Daemon) dispatchRequest(portID int32, msg *cdap.Message) {
	switch {
	case msg.OpCode == cdap.MConnect:
		if d.enrollment != nil {
			d.enrollment.OnConnectRequest(msg, portID)
			return
		}

	case msg.OpCode == cdap.MRelease:
		reply, err := msg.Reply()
		if err == nil {
			if err := d.SendResponse(portID, reply); err != nil {
				d.logger.Warn("Release reply not sent", zap.Error(err))
			}
		}
		return

	case msg.OpCode == cdap.MStart && msg.ObjName == rib.PathEnrollment:
		if d.enrollment != nil {
			peer := dif.Neighbor{
				Name:             d.sessions.GetOrCreate(portID).Peer(),
				UnderlyingPortID: portID,
			}
			d.enrollment.OnStartEnrollment(msg, portID, peer)
			return
		}

	case msg.OpCode == cdap.MCreate && strings.HasPrefix(msg.ObjName, rib.PathFlows):
		if d.flows != nil {
			d.flows.OnCreateFlowRequest(msg, portID)
			return
		}

	case msg.OpCode == cdap.MDelete && strings.HasPrefix(msg.ObjName, rib.PathFlows):
		if d.flows != nil {
			d.flows.OnDeleteFlowRequest(msg, portID)
			return
		}
	}

	// Everything else is a plain RIB operation with an immediate reply.
	reply, err := d.broker.Dispatch(msg)
	if err != nil {
		d.logger.Warn("RIB dispatch failed", zap.Error(err))
		return
	}
	if err := d.SendResponse(portID, reply); err != nil {
		d.logger.Warn("RIB reply not sent", zap.Error(err))
	}
}

// OnFlowGone drops the session and fails every continuation on a dead N-1
// flow; other sessions are untouched.
func (d *Daemon) OnFlowGone(portID int32) {
	byID := d.continuations[portID]
	delete(d.continuations, portID)
	d.sessions.Remove(portID)
	for id, cb := range byID {
		cb(nil, rerr.New(rerr.KindChannelClosed, "management flow %d gone (invoke-id %d)", portID, id))
	}
}
