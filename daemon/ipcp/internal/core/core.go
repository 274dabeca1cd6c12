// Package core wires the components of one IPC process to its event loop:
// the kernel client, the CDAP pump, the flow allocator, enrollment and the
// resource allocator all run on the single loop goroutine owned here.
package core

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/ctrl"
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/eventloop"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/config"
	ipcpcontext "github.com/your-org/rina-stack/daemon/ipcp/internal/context"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/enrollment"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/flow"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/kernel"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/resalloc"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/rib"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/ribd"
)

// Core owns one IPCP's event loop and components.
type Core struct {
	cfg    *config.Config
	logger *zap.Logger

	queue  *eventloop.Queue
	timers *eventloop.Timers
	// timerCallbacks maps timer ids to the closures they fire; owned by
	// the loop goroutine.
	timerCallbacks map[uint64]func()

	// tx bridges synchronous admin callers to the loop.
	tx transactions

	ctx        *ipcpcontext.IPCPContext
	client     *kernel.Client
	sessions   *cdap.SessionManager
	broker     *rib.RIB
	pump       *ribd.Daemon
	flows      *flow.Allocator
	enroll     *enrollment.Controller
	resources  *resalloc.Allocator
}

// New builds and wires a core over an established control-channel
// connection.
func New(cfg *config.Config, conn io.ReadWriteCloser, logger *zap.Logger) *Core {
	c := &Core{
		cfg:            cfg,
		logger:         logger,
		queue:          eventloop.NewQueue(),
		timerCallbacks: make(map[uint64]func()),
	}
	c.timers = eventloop.NewTimers(c.queue)

	name := names.New(cfg.IPCP.ProcessName, cfg.IPCP.ProcessInstance, "", "")
	c.ctx = ipcpcontext.New(cfg.IPCP.ID, name, logger)

	c.client = kernel.New(conn, cfg.IPCP.ID, logger,
		kernel.WithTimeout(cfg.Control.Timeout),
		kernel.WithOutboundQueue(cfg.Control.OutboundQueue),
	)

	c.sessions = cdap.NewSessionManager(1)
	c.broker = rib.New(logger)
	c.pump = ribd.New(c.ctx, c.sessions, sduTransport{c}, c.broker,
		c.schedule, cfg.Enrollment.CDAPTimeout, logger)

	c.flows = flow.NewAllocator(c.ctx, kernelAdapter{c}, mgmtAdapter{c}, appNotifier{c},
		c.schedule, flow.Config{
			MaxCreateFlowRetries: cfg.FlowAllocator.MaxCreateFlowRetries,
			InitialHopCount:      cfg.FlowAllocator.InitialHopCount,
		}, logger)

	c.enroll = enrollment.NewController(c.ctx, kernelAdapter{c}, portMgmtAdapter{c},
		ipcmNotifier{c}, c.schedule, enrollment.Config{
			KeepaliveInterval:     cfg.Enrollment.KeepaliveInterval,
			MaxEnrollmentAttempts: cfg.Enrollment.MaxEnrollmentAttempts,
			ReenrollBackoff:       cfg.Enrollment.ReenrollBackoff,
		}, logger)

	c.resources = resalloc.New(kernelAdapter{c}, c.ctx, logger)
	c.enroll.OnNeighborsChanged(func() {
		if err := c.resources.Regenerate(); err != nil {
			logger.Warn("Forwarding table regeneration failed", zap.Error(err))
		}
	})

	c.pump.AttachFlowHandler(c.flows)
	c.pump.AttachEnrollmentHandler(c.enroll)

	return c
}

// Start registers standard RIB objects, arms the kernel channel and spins
// up the loop goroutine.
func (c *Core) Start() error {
	if err := ribd.RegisterStandardObjects(c.broker, c.ctx); err != nil {
		return err
	}

	c.client.Subscribe(ctrl.MsgMgmtSDUReadNotification, func(m *ctrl.Message) {
		sdu := m.Payload.(*ctrl.MgmtSDUPayload)
		c.queue.Post(eventloop.ManagementSDURead{PortID: sdu.PortID, SDU: sdu.SDU})
	})
	c.client.Subscribe(ctrl.MsgFlowAllocateArrived, func(m *ctrl.Message) {
		arrived := m.Payload.(*ctrl.FlowAllocateArrived)
		c.queue.Post(eventloop.Deferred{Fn: func() { c.onNMinusOneFlowArrived(arrived) }})
	})
	c.client.Subscribe(ctrl.MsgFlowDeallocatedNotification, func(m *ctrl.Message) {
		gone := m.Payload.(*ctrl.PortResultPayload)
		c.queue.Post(eventloop.FlowDeallocated{PortID: gone.PortID, Code: gone.Result})
	})
	c.client.OnClosed(func(err error) {
		c.queue.Post(eventloop.KernelChannelClosed{Err: err})
	})

	c.client.Start()
	if err := c.ctx.SetInitialized(); err != nil {
		return err
	}

	go c.run()
	return nil
}

// Stop shuts the loop down.
func (c *Core) Stop() {
	c.timers.CancelAll()
	c.queue.Close()
	_ = c.client.Close()
}

// run is the event loop: single-threaded dispatch of everything.
func (c *Core) run() {
	for {
		ev, ok := c.queue.Wait()
		if !ok {
			c.logger.Info("Event loop drained, exiting")
			return
		}
		c.dispatch(ev)
	}
}

func (c *Core) dispatch(ev eventloop.Event) {
	switch e := ev.(type) {
	case eventloop.Deferred:
		e.Fn()

	case eventloop.TimerExpired:
		if fn, ok := c.timerCallbacks[e.TimerID]; ok {
			delete(c.timerCallbacks, e.TimerID)
			fn()
		}

	case eventloop.ManagementSDURead:
		c.pump.OnMgmtSDURead(e.PortID, e.SDU)

	case eventloop.FlowDeallocated:
		c.pump.OnFlowGone(e.PortID)

	case eventloop.KernelChannelClosed:
		c.logger.Error("Control channel closed, shutting the loop down", zap.Error(e.Err))
		c.queue.Close()

	default:
		c.logger.Warn("Unhandled event", zap.Any("event", e))
	}
}

// schedule arms a timer whose closure runs on the loop goroutine.
func (c *Core) schedule(d time.Duration, fn func()) {
	id := c.timers.Schedule(d, "deferred")
	c.timerCallbacks[id] = fn
}

// onNMinusOneFlowArrived acks an incoming N-1 flow so enrollment responders
// get their management flow.
func (c *Core) onNMinusOneFlowArrived(arrived *ctrl.FlowAllocateArrived) {
	c.logger.Info("N-1 flow arrived",
		zap.Int32("port_id", arrived.PortID),
		zap.String("remote", arrived.Remote.String()),
	)
	ack := ctrl.NewResult(ctrl.MsgFlowAllocateArrivedAck, 0, "")
	if err := c.client.Send(ack, 0, ctrl.FlagResponse); err != nil {
		c.logger.Warn("N-1 flow ack not sent", zap.Error(err))
	}
}

// --- adapters -------------------------------------------------------------

// kernelAdapter narrows the client for components; continuations are
// marshaled back onto the loop.
type kernelAdapter struct{ c *Core }

func (k kernelAdapter) Submit(p ctrl.Payload, cb func(*ctrl.Message, error)) error {
	_, err := k.c.client.Submit(p, 0, func(m *ctrl.Message, err error) {
		k.c.queue.Post(eventloop.Deferred{Fn: func() { cb(m, err) }})
	})
	return err
}

func (k kernelAdapter) Send(p ctrl.Payload, flags ctrl.HeaderFlags) error {
	return k.c.client.Send(p, 0, flags)
}

// sduTransport writes management SDUs through the kernel.
type sduTransport struct{ c *Core }

func (t sduTransport) WriteMgmtSDU(portID int32, sdu []byte) error {
	payload := ctrl.NewMgmtSDU(ctrl.MsgMgmtSDUWriteRequest, portID, t.c.ctx.Address(), sdu)
	return t.c.client.Send(payload, 0, ctrl.FlagRequest)
}

// mgmtAdapter is the address-keyed CDAP surface the flow allocator uses.
type mgmtAdapter struct{ c *Core }

func (m mgmtAdapter) SendRequest(destAddr uint32, msg *cdap.Message, cb func(*cdap.Message, error)) error {
	return m.c.pump.SendRequestToAddress(destAddr, msg, cb)
}

func (m mgmtAdapter) SendResponse(portID int32, msg *cdap.Message) error {
	return m.c.pump.SendResponse(portID, msg)
}

// portMgmtAdapter is the port-keyed CDAP surface enrollment uses.
type portMgmtAdapter struct{ c *Core }

func (m portMgmtAdapter) SendRequest(portID int32, msg *cdap.Message, cb func(*cdap.Message, error)) error {
	return m.c.pump.SendRequest(portID, msg, cb)
}

func (m portMgmtAdapter) SendResponse(portID int32, msg *cdap.Message) error {
	return m.c.pump.SendResponse(portID, msg)
}

// appNotifier resolves application-facing waits.
type appNotifier struct{ c *Core }

func (n appNotifier) FlowAllocated(transactionID string, portID, result int32, reason string) {
	n.c.resolveTransaction(transactionID, transactionResult{
		PortID: portID, Result: result, Reason: reason,
	})
}

func (n appNotifier) FlowRequested(f *flow.Flow) flow.Decision {
	// Applications registered through the IPC Manager currently
	// auto-accept; an interactive accept path answers through
	// RespondToFlowRequest.
	return flow.Decision{Accept: true}
}

func (n appNotifier) FlowDeallocated(portID, code int32) {
	n.c.logger.Info("Flow gone", zap.Int32("port_id", portID), zap.Int32("code", code))
}

// ipcmNotifier resolves IPC-Manager-facing waits.
type ipcmNotifier struct{ c *Core }

func (n ipcmNotifier) AssignToDIFResult(transactionID string, result int32, reason string) {
	n.c.resolveTransaction(transactionID, transactionResult{Result: result, Reason: reason})
}

func (n ipcmNotifier) EnrollToDIFResult(transactionID string, result int32, reason string,
	info dif.Information, neighbors []dif.Neighbor) {
	n.c.resolveTransaction(transactionID, transactionResult{
		Result: result, Reason: reason, DIFInfo: &info, Neighbors: neighbors,
	})
}

func (n ipcmNotifier) NeighborsModified(added bool, neighbors []dif.Neighbor) {
	n.c.logger.Info("Neighbors modified",
		zap.Bool("added", added),
		zap.Int("count", len(neighbors)),
	)
}
