// Package eventloop provides the per-IPCP event queue, the tagged event
// variants dispatched through it, and the timer service that feeds it.
// Component state is owned by the single goroutine draining the queue;
// background readers only enqueue.
package eventloop

import (
	"time"

	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
)

// Event is the closed set of notifications dispatched through an IPCP's
// event loop. Dispatch sites switch on the concrete type.
type Event interface {
	event()
}

// FlowRequested reports a local application asking for a flow.
type FlowRequested struct {
	TransactionID string
	Local         names.APNI
	Remote        names.APNI
	FlowSpec      qos.FlowSpecification
}

// FlowAllocateResult reports the outcome of a flow allocation back to the
// requesting side.
type FlowAllocateResult struct {
	TransactionID string
	PortID        int32
	Result        int32
	Reason        string
}

// FlowDeallocated reports that a flow was torn down, locally or by the peer.
type FlowDeallocated struct {
	PortID int32
	Code   int32
}

// ApplicationRegistered reports an application (un)registration request.
type ApplicationRegistered struct {
	AppName  names.APNI
	DIFName  names.APNI
	Register bool
}

// AssignToDIFRequested carries an assignment order from the IPC Manager.
type AssignToDIFRequested struct {
	TransactionID string
	Info          dif.Information
}

// EnrollToDIFRequested carries an enrollment order from the IPC Manager.
type EnrollToDIFRequested struct {
	TransactionID string
	DIFName       names.APNI
	SupportingDIF names.APNI
	Neighbor      names.APNI
}

// NeighborsModified reports neighbors joining or leaving.
type NeighborsModified struct {
	Added     bool
	Neighbors []dif.Neighbor
}

// QueryRIBRequested asks for a dump of the RIB.
type QueryRIBRequested struct {
	TransactionID string
	ObjectClass   string
	ObjectName    string
	Scope         int32
}

// CreateConnectionResponse carries the kernel's answer to an EFCP
// connection create, with the source CEP-id it picked.
type CreateConnectionResponse struct {
	PortID      int32
	SourceCEPID int32
	Result      int32
}

// UpdateConnectionResult carries the kernel's answer to an EFCP connection
// update.
type UpdateConnectionResult struct {
	PortID int32
	Result int32
}

// DestroyConnectionResult carries the kernel's answer to an EFCP connection
// destroy.
type DestroyConnectionResult struct {
	PortID int32
	Result int32
}

// DumpPDUFTResponse carries the kernel's forwarding-table dump.
type DumpPDUFTResponse struct {
	Result  int32
	Entries []dif.PDUForwardingTableEntry
}

// ManagementSDURead carries CDAP bytes read from an N-1 management flow.
type ManagementSDURead struct {
	PortID int32
	SDU    []byte
}

// TimerExpired reports a timer firing.
type TimerExpired struct {
	TimerID uint64
	Tag     string
	At      time.Time
}

// ProcessFinalized reports an IPCP daemon's OS process exiting.
type ProcessFinalized struct {
	IPCPID uint16
	PID    int
}

// KernelChannelClosed reports the control channel going away; every
// outstanding request on it has already been failed.
type KernelChannelClosed struct {
	Err error
}

// Deferred marshals a continuation onto the event-loop goroutine: the
// closure runs when the event is dispatched. Background readers use it to
// resolve request continuations without touching component state.
type Deferred struct {
	Fn func()
}

func (FlowRequested) event()            {}
func (FlowAllocateResult) event()       {}
func (FlowDeallocated) event()          {}
func (ApplicationRegistered) event()    {}
func (AssignToDIFRequested) event()     {}
func (EnrollToDIFRequested) event()     {}
func (NeighborsModified) event()        {}
func (QueryRIBRequested) event()        {}
func (CreateConnectionResponse) event() {}
func (UpdateConnectionResult) event()   {}
func (DestroyConnectionResult) event()  {}
func (DumpPDUFTResponse) event()        {}
func (ManagementSDURead) event()        {}
func (TimerExpired) event()             {}
func (ProcessFinalized) event()         {}
func (KernelChannelClosed) event()      {}
func (Deferred) event()                 {}
