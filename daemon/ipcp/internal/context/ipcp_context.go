// Package context manages the state of one IPC process: its lifecycle, the
// DIF it belongs to, registered applications, neighbors and the directory
// forwarding table.
package context

import (
	"time"

	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/rerr"
)

// State is the lifecycle state of an IPC process.
type State string

const (
	StateCreated     State = "CREATED"
	StateInitialized State = "INITIALIZED"
	StateAssigned    State = "ASSIGNED"
	StateEnrolled    State = "ENROLLED"
)

// IPCPContext is the per-IPCP state owned by the event-loop goroutine. It
// is deliberately not locked: every access comes from that one goroutine.
type IPCPContext struct {
	ID     uint16
	Name   names.APNI
	logger *zap.Logger

	state   State
	difInfo *dif.Information

	// registeredApps are the applications registered on this IPCP, by
	// canonical name key.
	registeredApps map[string]names.APNI

	// neighbors by canonical name key.
	neighbors map[string]*dif.Neighbor

	// directory maps application name keys to DIF addresses.
	directory map[string]dif.DirectoryEntry
}

// New builds a context in the Created state.
func New(id uint16, name names.APNI, logger *zap.Logger) *IPCPContext {
	return &IPCPContext{
		ID:             id,
		Name:           name,
		logger:         logger,
		state:          StateCreated,
		registeredApps: make(map[string]names.APNI),
		neighbors:      make(map[string]*dif.Neighbor),
		directory:      make(map[string]dif.DirectoryEntry),
	}
}

// State returns the lifecycle state.
func (c *IPCPContext) State() State { return c.state }

// SetInitialized moves Created → Initialized once the daemon is up and the
// control channel is connected.
func (c *IPCPContext) SetInitialized() error {
	if c.state != StateCreated {
		return rerr.New(rerr.KindInvalidStateTransition, "cannot initialize in state %s", c.state)
	}
	c.state = StateInitialized
	return nil
}

// SetAssigned stores the DIF information and moves to Assigned.
func (c *IPCPContext) SetAssigned(info dif.Information) error {
	if c.state != StateInitialized {
		return rerr.New(rerr.KindInvalidStateTransition, "cannot assign to DIF in state %s", c.state)
	}
	c.difInfo = &info
	c.state = StateAssigned
	return nil
}

// RollbackAssignment clears the DIF information after a failed assignment.
func (c *IPCPContext) RollbackAssignment() {
	if c.state == StateAssigned {
		c.state = StateInitialized
	}
	c.difInfo = nil
}

// SetEnrolled moves Assigned → Enrolled after the first successful
// enrollment. Enrolling again while already Enrolled is fine.
func (c *IPCPContext) SetEnrolled() error {
	switch c.state {
	case StateAssigned, StateEnrolled:
		c.state = StateEnrolled
		return nil
	}
	return rerr.New(rerr.KindInvalidStateTransition, "cannot enroll in state %s", c.state)
}

// DIFInfo returns the DIF information once assigned.
func (c *IPCPContext) DIFInfo() (dif.Information, error) {
	if c.difInfo == nil {
		return dif.Information{}, rerr.New(rerr.KindNotAMemberOfDIF, "IPCP %d is not assigned to a DIF", c.ID)
	}
	return *c.difInfo, nil
}

// UpdateDIFConfig replaces the configuration of the assigned DIF.
func (c *IPCPContext) UpdateDIFConfig(cfg dif.Configuration) error {
	if c.difInfo == nil {
		return rerr.New(rerr.KindNotAMemberOfDIF, "IPCP %d is not assigned to a DIF", c.ID)
	}
	c.difInfo.Configuration = cfg
	return nil
}

// Address returns this member's address in the DIF.
func (c *IPCPContext) Address() uint32 {
	if c.difInfo == nil {
		return 0
	}
	return c.difInfo.Configuration.Address
}

// RegisterApp records an application registration.
func (c *IPCPContext) RegisterApp(app names.APNI) error {
	if err := app.Validate(); err != nil {
		return err
	}
	key := app.Key()
	if _, ok := c.registeredApps[key]; ok {
		return rerr.New(rerr.KindAlreadyRegistered, "application %s is already registered", app)
	}
	c.registeredApps[key] = app
	c.logger.Info("Application registered", zap.String("app", app.String()))
	return nil
}

// UnregisterApp removes an application registration.
func (c *IPCPContext) UnregisterApp(app names.APNI) error {
	key := app.Key()
	if _, ok := c.registeredApps[key]; !ok {
		return rerr.New(rerr.KindNotRegistered, "application %s is not registered", app)
	}
	delete(c.registeredApps, key)
	c.logger.Info("Application unregistered", zap.String("app", app.String()))
	return nil
}

// IsRegistered reports whether an application is registered here.
func (c *IPCPContext) IsRegistered(app names.APNI) bool {
	_, ok := c.registeredApps[app.Key()]
	return ok
}

// RegisteredApps lists the registered applications.
func (c *IPCPContext) RegisteredApps() []names.APNI {
	out := make([]names.APNI, 0, len(c.registeredApps))
	for _, a := range c.registeredApps {
		out = append(out, a)
	}
	return out
}

// UpsertNeighbor adds or updates a neighbor record.
func (c *IPCPContext) UpsertNeighbor(n dif.Neighbor) *dif.Neighbor {
	key := n.Name.Key()
	existing, ok := c.neighbors[key]
	if !ok {
		stored := n
		c.neighbors[key] = &stored
		return &stored
	}
	existing.Address = n.Address
	existing.SupportingDIF = n.SupportingDIF
	if len(n.SupportingDIFs) > 0 {
		existing.SupportingDIFs = n.SupportingDIFs
	}
	existing.UnderlyingPortID = n.UnderlyingPortID
	existing.Enrolled = n.Enrolled
	return existing
}

// Neighbor returns the neighbor with the given name.
func (c *IPCPContext) Neighbor(name names.APNI) (*dif.Neighbor, bool) {
	n, ok := c.neighbors[name.Key()]
	return n, ok
}

// RemoveNeighbor drops a neighbor.
func (c *IPCPContext) RemoveNeighbor(name names.APNI) {
	delete(c.neighbors, name.Key())
}

// Neighbors lists all neighbor records.
func (c *IPCPContext) Neighbors() []dif.Neighbor {
	out := make([]dif.Neighbor, 0, len(c.neighbors))
	for _, n := range c.neighbors {
		out = append(out, *n)
	}
	return out
}

// NeighborHeard refreshes the liveness timestamp of a neighbor.
func (c *IPCPContext) NeighborHeard(name names.APNI, at time.Time) {
	if n, ok := c.neighbors[name.Key()]; ok {
		n.LastHeardFrom = at
	}
}

// PortForAddress resolves a DIF address to the management port-id of the
// enrolled neighbor holding it.
func (c *IPCPContext) PortForAddress(addr uint32) (int32, bool) {
	for _, n := range c.neighbors {
		if n.Address == addr && n.Enrolled {
			return n.UnderlyingPortID, true
		}
	}
	return 0, false
}

// SetDirectoryEntry records an application-to-address mapping.
func (c *IPCPContext) SetDirectoryEntry(app names.APNI, addr uint32) {
	c.directory[app.Key()] = dif.DirectoryEntry{
		AppName:   app,
		Address:   addr,
		Timestamp: time.Now(),
	}
}

// RemoveDirectoryEntry drops an application-to-address mapping.
func (c *IPCPContext) RemoveDirectoryEntry(app names.APNI) {
	delete(c.directory, app.Key())
}

// ResolveApp returns the DIF address an application is registered at.
func (c *IPCPContext) ResolveApp(app names.APNI) (uint32, bool) {
	e, ok := c.directory[app.Key()]
	if !ok {
		return 0, false
	}
	return e.Address, true
}

// DirectoryEntries lists the directory forwarding table.
func (c *IPCPContext) DirectoryEntries() []dif.DirectoryEntry {
	out := make([]dif.DirectoryEntry, 0, len(c.directory))
	for _, e := range c.directory {
		out = append(out, e)
	}
	return out
}
