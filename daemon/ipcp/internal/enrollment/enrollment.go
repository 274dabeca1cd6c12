// Package enrollment drives the DIF lifecycle of an IPC process:
// assignment to a DIF, enrollment with neighbors over CDAP, and neighbor
// liveness.
package enrollment

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/ctrl"
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/metrics"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/rerr"
	ipcpcontext "github.com/your-org/rina-stack/daemon/ipcp/internal/context"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/rib"
)

// Kernel is the slice of the control-channel client this component uses.
type Kernel interface {
	Submit(payload ctrl.Payload, cb func(*ctrl.Message, error)) error
}

// CDAPChannel sends CDAP messages over an N-1 management flow, keyed by
// port-id. SendRequest allocates and stamps the invoke-id and registers the
// continuation.
type CDAPChannel interface {
	SendRequest(portID int32, msg *cdap.Message, cb func(*cdap.Message, error)) error
	SendResponse(portID int32, msg *cdap.Message) error
}

// Notifier reports lifecycle outcomes to the IPC Manager side.
type Notifier interface {
	AssignToDIFResult(transactionID string, result int32, reason string)
	EnrollToDIFResult(transactionID string, result int32, reason string, info dif.Information, neighbors []dif.Neighbor)
	NeighborsModified(added bool, neighbors []dif.Neighbor)
}

// Scheduler runs a function on the event-loop goroutine after a delay.
type Scheduler func(d time.Duration, fn func())

// Config tunes the controller.
type Config struct {
	// KeepaliveInterval paces neighbor watchdog reads. A neighbor silent
	// for three intervals is declared dead.
	KeepaliveInterval time.Duration
	// MaxEnrollmentAttempts bounds automatic re-enrollment.
	MaxEnrollmentAttempts int
	// ReenrollBackoff is the base of the exponential re-enrollment backoff.
	ReenrollBackoff time.Duration
}

func (c *Config) fillDefaults() {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 5 * time.Second
	}
	if c.MaxEnrollmentAttempts <= 0 {
		c.MaxEnrollmentAttempts = 3
	}
	if c.ReenrollBackoff <= 0 {
		c.ReenrollBackoff = time.Second
	}
}

// Controller implements assignment and enrollment. Confined to the IPCP's
// event-loop goroutine.
type Controller struct {
	ctx      *ipcpcontext.IPCPContext
	kernel   Kernel
	cdapch   CDAPChannel
	notifier Notifier
	schedule Scheduler
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer

	// onNeighborsChanged lets the resource allocator regenerate the
	// forwarding table when the neighbor set moves.
	onNeighborsChanged func()

	keepaliveArmed bool

	now func() time.Time
}

// NewController builds the enrollment controller.
func NewController(ctx *ipcpcontext.IPCPContext, kernel Kernel, cdapch CDAPChannel,
	notifier Notifier, schedule Scheduler, cfg Config, logger *zap.Logger) *Controller {
	cfg.fillDefaults()
	return &Controller{
		ctx:      ctx,
		kernel:   kernel,
		cdapch:   cdapch,
		notifier: notifier,
		schedule: schedule,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("ipcp-enrollment"),
		now:      time.Now,
	}
}

// OnNeighborsChanged registers the forwarding-table regeneration hook.
func (c *Controller) OnNeighborsChanged(fn func()) { c.onNeighborsChanged = fn }

func (c *Controller) neighborsChanged() {
	count := 0
	for _, n := range c.ctx.Neighbors() {
		if n.Enrolled {
			count++
		}
	}
	metrics.SetNeighborsEnrolled(count)
	if c.onNeighborsChanged != nil {
		c.onNeighborsChanged()
	}
}

// AssignToDIF stores the DIF information, programs the kernel, and commits
// or rolls back on the kernel's answer.
func (c *Controller) AssignToDIF(transactionID string, info dif.Information) error {
	if err := c.ctx.SetAssigned(info); err != nil {
		c.notifier.AssignToDIFResult(transactionID, rerr.CodeOf(err), rerr.ReasonOf(err))
		return err
	}

	err := c.kernel.Submit(&ctrl.AssignToDIFRequest{Info: info}, func(m *ctrl.Message, err error) {
		if err != nil {
			c.ctx.RollbackAssignment()
			c.notifier.AssignToDIFResult(transactionID, rerr.CodeOf(err), rerr.ReasonOf(err))
			return
		}
		res := m.Payload.(*ctrl.ResultPayload)
		if res.Result != 0 {
			c.ctx.RollbackAssignment()
			c.notifier.AssignToDIFResult(transactionID, res.Result, res.Reason)
			return
		}
		c.logger.Info("Assigned to DIF",
			zap.String("dif", info.Name.String()),
			zap.Uint32("address", info.Configuration.Address),
		)
		c.notifier.AssignToDIFResult(transactionID, 0, "")
	})
	if err != nil {
		c.ctx.RollbackAssignment()
		c.notifier.AssignToDIFResult(transactionID, rerr.CodeOf(err), rerr.ReasonOf(err))
		return err
	}
	return nil
}

// UpdateDIFConfig pushes a new configuration to the kernel and stores it on
// success.
func (c *Controller) UpdateDIFConfig(cfg dif.Configuration, done func(error)) error {
	if _, err := c.ctx.DIFInfo(); err != nil {
		return err
	}
	return c.kernel.Submit(&ctrl.UpdateDIFConfigRequest{Config: cfg}, func(m *ctrl.Message, err error) {
		if err != nil {
			done(err)
			return
		}
		res := m.Payload.(*ctrl.ResultPayload)
		if res.Result != 0 {
			done(rerr.New(rerr.KindInvalidField, "config update rejected: %s", res.Reason))
			return
		}
		done(c.ctx.UpdateDIFConfig(cfg))
	})
}

// EnrollRequest orders an enrollment with a neighbor through a supporting
// DIF.
type EnrollRequest struct {
	TransactionID string
	DIFName       names.APNI
	SupportingDIF names.APNI
	Neighbor      names.APNI
	Ctx           context.Context
}

// EnrollToDIF runs the joining side of enrollment: N-1 flow, CDAP connect,
// M_START on the enrollment object, then commit of the peer's view.
func (c *Controller) EnrollToDIF(req EnrollRequest) error {
	info, err := c.ctx.DIFInfo()
	if err != nil {
		c.finishEnroll(req, rerr.CodeOf(err), rerr.ReasonOf(err), nil)
		return err
	}

	parent := req.Ctx
	if parent == nil {
		parent = context.Background()
	}
	_, span := c.tracer.Start(parent, "enrollment.enroll",
		trace.WithAttributes(
			attribute.String("neighbor", req.Neighbor.String()),
			attribute.String("supporting_dif", req.SupportingDIF.String()),
		),
	)

	// Step 1: N-1 management flow to the neighbor through the supporting
	// DIF.
	alloc := &ctrl.FlowAllocateRequest{
		Local:   c.ctx.Name,
		Remote:  req.Neighbor,
		DIFName: req.SupportingDIF,
	}
	err = c.kernel.Submit(alloc, func(m *ctrl.Message, err error) {
		if err != nil {
			span.End()
			c.finishEnroll(req, rerr.CodeOf(err), rerr.ReasonOf(err), nil)
			return
		}
		resp := m.Payload.(*ctrl.FlowAllocateResponse)
		if resp.Result != 0 {
			span.End()
			c.finishEnroll(req, resp.Result, "N-1 flow allocation failed: "+resp.Reason, nil)
			return
		}
		c.openSession(req, info, resp.PortID, span)
	})
	if err != nil {
		span.End()
		c.finishEnroll(req, rerr.CodeOf(err), rerr.ReasonOf(err), nil)
		return err
	}
	return nil
}

// openSession runs step 2: M_CONNECT over the fresh N-1 flow.
func (c *Controller) openSession(req EnrollRequest, info dif.Information, portID int32, span trace.Span) {
	connect := &cdap.Message{
		OpCode:         cdap.MConnect,
		AbsSyntax:      1,
		AuthMech:       cdap.AuthNone,
		SrcApName:      c.ctx.Name.ProcessName,
		SrcApInstance:  c.ctx.Name.ProcessInstance,
		SrcAeName:      "enrollment",
		DestApName:     req.Neighbor.ProcessName,
		DestApInstance: req.Neighbor.ProcessInstance,
		DestAeName:     "enrollment",
	}
	err := c.cdapch.SendRequest(portID, connect, func(resp *cdap.Message, err error) {
		if err != nil {
			span.End()
			c.finishEnroll(req, rerr.CodeOf(err), rerr.ReasonOf(err), nil)
			return
		}
		if resp.Result != 0 {
			span.End()
			c.finishEnroll(req, resp.Result, "connect rejected: "+resp.ResultReason, nil)
			return
		}
		c.startEnrollment(req, info, portID, span)
	})
	if err != nil {
		span.End()
		c.finishEnroll(req, rerr.CodeOf(err), rerr.ReasonOf(err), nil)
	}
}

// startEnrollment runs step 3: M_START on the enrollment object carrying
// our address and supporting DIFs.
func (c *Controller) startEnrollment(req EnrollRequest, info dif.Information, portID int32, span trace.Span) {
	obj := ctrl.EnrollmentObject{
		Address:        info.Configuration.Address,
		SupportingDIFs: []names.APNI{req.SupportingDIF},
	}
	start := &cdap.Message{
		OpCode:   cdap.MStart,
		ObjClass: "EnrollmentInformationRequest",
		ObjName:  rib.PathEnrollment,
		ObjValue: cdap.BytesValue(ctrl.MarshalEnrollmentObject(obj)),
	}
	err := c.cdapch.SendRequest(portID, start, func(resp *cdap.Message, err error) {
		defer span.End()
		if err != nil {
			c.finishEnroll(req, rerr.CodeOf(err), rerr.ReasonOf(err), nil)
			return
		}
		if resp.Result != 0 {
			c.finishEnroll(req, resp.Result, "enrollment rejected: "+resp.ResultReason, nil)
			return
		}
		c.commitEnrollment(req, portID, resp)
	})
	if err != nil {
		span.End()
		c.finishEnroll(req, rerr.CodeOf(err), rerr.ReasonOf(err), nil)
	}
}

// commitEnrollment runs step 4: store the peer's DIF view and neighbor
// table, mark the neighbor enrolled and go to Enrolled.
func (c *Controller) commitEnrollment(req EnrollRequest, portID int32, resp *cdap.Message) {
	if resp.ObjValue.Kind != cdap.ValueBytes {
		c.finishEnroll(req, rerr.KindObjectValueNull.Code(), "enrollment reply without DIF view", nil)
		return
	}
	reply, err := ctrl.UnmarshalEnrollmentReply(resp.ObjValue.Bytes)
	if err != nil {
		c.finishEnroll(req, rerr.CodeOf(err), rerr.ReasonOf(err), nil)
		return
	}

	// The reply's configuration is the DIF-wide view; its Address field is
	// the peer's own. Keep our address while taking the rest.
	peerAddr := reply.DIFInfo.Configuration.Address
	cfg := reply.DIFInfo.Configuration
	cfg.Address = c.ctx.Address()
	if err := c.ctx.UpdateDIFConfig(cfg); err != nil {
		c.finishEnroll(req, rerr.CodeOf(err), rerr.ReasonOf(err), nil)
		return
	}

	peer := c.ctx.UpsertNeighbor(dif.Neighbor{
		Name:             req.Neighbor,
		SupportingDIF:    req.SupportingDIF,
		Address:          peerAddr,
		Enrolled:         true,
		UnderlyingPortID: portID,
	})
	peer.LastHeardFrom = c.now()
	peer.EnrollmentAttempts = 0

	// The peer's neighbor table seeds ours; entries we cannot reach yet
	// stay un-enrolled until we enroll with them directly.
	for _, n := range reply.Neighbors {
		if n.Name.Equal(c.ctx.Name) || n.Name.Equal(req.Neighbor) {
			continue
		}
		n.Enrolled = false
		n.SupportingDIF = req.SupportingDIF
		c.ctx.UpsertNeighbor(n)
	}

	if err := c.ctx.SetEnrolled(); err != nil {
		c.finishEnroll(req, rerr.CodeOf(err), rerr.ReasonOf(err), nil)
		return
	}

	metrics.RecordEnrollmentAttempt("ok")
	c.logger.Info("Enrolled to DIF",
		zap.String("neighbor", req.Neighbor.String()),
		zap.Int32("port_id", portID),
		zap.Uint32("neighbor_address", peer.Address),
	)
	c.neighborsChanged()
	c.notifier.NeighborsModified(true, []dif.Neighbor{*peer})
	info, _ := c.ctx.DIFInfo()
	c.notifier.EnrollToDIFResult(req.TransactionID, 0, "", info, c.ctx.Neighbors())
	c.scheduleKeepalive()
}

// finishEnroll reports a failed enrollment. The IPCP stays Assigned.
func (c *Controller) finishEnroll(req EnrollRequest, result int32, reason string, _ []dif.Neighbor) {
	if result == 0 {
		return
	}
	metrics.RecordEnrollmentAttempt("error")
	c.logger.Warn("Enrollment failed",
		zap.String("neighbor", req.Neighbor.String()),
		zap.String("reason", reason),
	)
	info, _ := c.ctx.DIFInfo()
	c.notifier.EnrollToDIFResult(req.TransactionID, result, reason, info, c.ctx.Neighbors())
}
