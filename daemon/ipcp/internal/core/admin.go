package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/ctrl"
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/eventloop"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
	"github.com/your-org/rina-stack/common/rerr"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/enrollment"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/flow"
	ipcpcontext "github.com/your-org/rina-stack/daemon/ipcp/internal/context"
)

// adminTimeout bounds how long an administrative order may wait on the
// loop.
const adminTimeout = 30 * time.Second

// transactionResult is what a completed order hands back.
type transactionResult struct {
	PortID    int32
	Result    int32
	Reason    string
	DIFInfo   *dif.Information
	Neighbors []dif.Neighbor
}

// transactions bridges synchronous callers (the HTTP admin surface) to the
// asynchronous loop. It is the one piece of Core state shared across
// goroutines, hence the mutex.
type transactions struct {
	mu      sync.Mutex
	waiting map[string]chan transactionResult
}

func (t *transactions) register() (string, chan transactionResult) {
	id := uuid.New().String()
	ch := make(chan transactionResult, 1)
	t.mu.Lock()
	if t.waiting == nil {
		t.waiting = make(map[string]chan transactionResult)
	}
	t.waiting[id] = ch
	t.mu.Unlock()
	return id, ch
}

func (t *transactions) resolve(id string, res transactionResult) {
	t.mu.Lock()
	ch, ok := t.waiting[id]
	if ok {
		delete(t.waiting, id)
	}
	t.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (t *transactions) drop(id string) {
	t.mu.Lock()
	delete(t.waiting, id)
	t.mu.Unlock()
}

func (c *Core) resolveTransaction(id string, res transactionResult) {
	c.tx.resolve(id, res)
}

func (c *Core) awaitTransaction(id string, ch chan transactionResult) (transactionResult, error) {
	select {
	case res := <-ch:
		return res, nil
	case <-time.After(adminTimeout):
		c.tx.drop(id)
		return transactionResult{}, rerr.New(rerr.KindTimeout, "order %s not completed in time", id)
	}
}

// runOnLoop executes fn on the loop goroutine and waits for its result.
func (c *Core) runOnLoop(fn func() (any, error)) (any, error) {
	type outcome struct {
		v   any
		err error
	}
	ch := make(chan outcome, 1)
	c.queue.Post(eventloop.Deferred{Fn: func() {
		v, err := fn()
		ch <- outcome{v, err}
	}})
	select {
	case out := <-ch:
		return out.v, out.err
	case <-time.After(adminTimeout):
		return nil, rerr.New(rerr.KindTimeout, "loop did not answer in time")
	}
}

// AssignToDIF orders the IPCP into a DIF. Blocks until the kernel commits
// or rejects.
func (c *Core) AssignToDIF(info dif.Information) error {
	id, ch := c.tx.register()
	c.queue.Post(eventloop.Deferred{Fn: func() {
		if err := c.enroll.AssignToDIF(id, info); err != nil {
			c.logger.Debug("Assignment rejected", zap.Error(err))
		}
	}})
	res, err := c.awaitTransaction(id, ch)
	if err != nil {
		return err
	}
	if res.Result != 0 {
		return &rerr.Error{Kind: rerr.KindFromCode(res.Result), Reason: res.Reason}
	}
	return nil
}

// EnrollToDIF orders an enrollment and returns the finalized DIF
// information and neighbor table.
func (c *Core) EnrollToDIF(difName, supportingDIF, neighbor names.APNI) (dif.Information, []dif.Neighbor, error) {
	id, ch := c.tx.register()
	c.queue.Post(eventloop.Deferred{Fn: func() {
		req := enrollment.EnrollRequest{
			TransactionID: id,
			DIFName:       difName,
			SupportingDIF: supportingDIF,
			Neighbor:      neighbor,
		}
		if err := c.enroll.EnrollToDIF(req); err != nil {
			c.logger.Debug("Enrollment rejected", zap.Error(err))
		}
	}})
	res, err := c.awaitTransaction(id, ch)
	if err != nil {
		return dif.Information{}, nil, err
	}
	var info dif.Information
	if res.DIFInfo != nil {
		info = *res.DIFInfo
	}
	if res.Result != 0 {
		return info, res.Neighbors, &rerr.Error{Kind: rerr.KindFromCode(res.Result), Reason: res.Reason}
	}
	return info, res.Neighbors, nil
}

// RegisterApp registers an application on this IPCP and seeds the local
// directory with it.
func (c *Core) RegisterApp(app names.APNI) error {
	_, err := c.runOnLoop(func() (any, error) {
		if err := c.ctx.RegisterApp(app); err != nil {
			return nil, err
		}
		c.ctx.SetDirectoryEntry(app, c.ctx.Address())
		c.registerInKernel(app, true)
		return nil, nil
	})
	return err
}

// UnregisterApp removes an application registration.
func (c *Core) UnregisterApp(app names.APNI) error {
	_, err := c.runOnLoop(func() (any, error) {
		if err := c.ctx.UnregisterApp(app); err != nil {
			return nil, err
		}
		c.ctx.RemoveDirectoryEntry(app)
		c.registerInKernel(app, false)
		return nil, nil
	})
	return err
}

// registerInKernel mirrors a registration into the kernel so the data
// plane can steer SDUs.
func (c *Core) registerInKernel(app names.APNI, register bool) {
	info, err := c.ctx.DIFInfo()
	if err != nil {
		return
	}
	payload := ctrl.NewAppRegister(register, app, info.Name)
	err = kernelAdapter{c}.Submit(payload, func(m *ctrl.Message, err error) {
		if err != nil {
			c.logger.Warn("Kernel registration failed", zap.String("app", app.String()), zap.Error(err))
		}
	})
	if err != nil {
		c.logger.Warn("Kernel registration not sent", zap.Error(err))
	}
}

// AllocateFlow runs a full locally initiated allocation and returns the
// port-id.
func (c *Core) AllocateFlow(local, remote names.APNI, fs qos.FlowSpecification) (int32, error) {
	id, ch := c.tx.register()
	c.queue.Post(eventloop.Deferred{Fn: func() {
		req := flow.FlowRequest{
			TransactionID: id,
			Local:         local,
			Remote:        remote,
			FlowSpec:      fs,
		}
		if err := c.flows.RequestFlow(req); err != nil {
			c.logger.Debug("Flow request rejected", zap.Error(err))
		}
	}})
	res, err := c.awaitTransaction(id, ch)
	if err != nil {
		return -1, err
	}
	if res.Result != 0 {
		return -1, &rerr.Error{Kind: rerr.KindFromCode(res.Result), Reason: res.Reason}
	}
	return res.PortID, nil
}

// DeallocateFlow tears down a flow by port-id.
func (c *Core) DeallocateFlow(portID int32) error {
	_, err := c.runOnLoop(func() (any, error) {
		return nil, c.flows.Deallocate(portID)
	})
	return err
}

// UpdateDIFConfig pushes a replacement DIF configuration through the
// kernel and stores it on success.
func (c *Core) UpdateDIFConfig(cfg dif.Configuration) error {
	id, ch := c.tx.register()
	c.queue.Post(eventloop.Deferred{Fn: func() {
		err := c.enroll.UpdateDIFConfig(cfg, func(err error) {
			c.resolveTransaction(id, transactionResult{
				Result: rerr.CodeOf(err),
				Reason: rerr.ReasonOf(err),
			})
		})
		if err != nil {
			c.resolveTransaction(id, transactionResult{
				Result: rerr.CodeOf(err),
				Reason: rerr.ReasonOf(err),
			})
		}
	}})
	res, err := c.awaitTransaction(id, ch)
	if err != nil {
		return err
	}
	if res.Result != 0 {
		return &rerr.Error{Kind: rerr.KindFromCode(res.Result), Reason: res.Reason}
	}
	return nil
}

// UpdateRoutingTable feeds a routing table to the resource allocator.
func (c *Core) UpdateRoutingTable(routing []dif.RoutingTableEntry) error {
	_, err := c.runOnLoop(func() (any, error) {
		return nil, c.resources.OnRoutingUpdate(routing)
	})
	return err
}

// Status is the IPCP's externally visible state.
type Status struct {
	ID             uint16               `json:"id"`
	Name           string               `json:"name"`
	State          ipcpcontext.State    `json:"state"`
	DIFName        string               `json:"difName,omitempty"`
	Address        uint32               `json:"address,omitempty"`
	Flows          int                  `json:"flows"`
	Neighbors      int                  `json:"neighbors"`
	RegisteredApps []names.APNI         `json:"registeredApps,omitempty"`
	DroppedLate    uint64               `json:"droppedLateResponses"`
}

// Status implements the status surface.
func (c *Core) Status() (any, error) {
	return c.runOnLoop(func() (any, error) {
		st := Status{
			ID:             c.ctx.ID,
			Name:           c.ctx.Name.String(),
			State:          c.ctx.State(),
			Flows:          len(c.flows.Flows()),
			Neighbors:      len(c.ctx.Neighbors()),
			RegisteredApps: c.ctx.RegisteredApps(),
			DroppedLate:    c.client.DroppedLateResponses(),
		}
		if info, err := c.ctx.DIFInfo(); err == nil {
			st.DIFName = info.Name.String()
			st.Address = info.Configuration.Address
		}
		return st, nil
	})
}

// RIBDump lists RIB objects under a path prefix.
func (c *Core) RIBDump(prefix string) (any, error) {
	return c.runOnLoop(func() (any, error) {
		return c.broker.Dump(prefix), nil
	})
}

// Flows lists the allocator's flow records.
func (c *Core) Flows() (any, error) {
	return c.runOnLoop(func() (any, error) {
		return c.flows.Flows(), nil
	})
}

// Neighbors lists the neighbor table.
func (c *Core) Neighbors() (any, error) {
	return c.runOnLoop(func() (any, error) {
		return c.ctx.Neighbors(), nil
	})
}
