// Package flow implements the flow allocator: the state machine that
// negotiates, instantiates and tears down end-to-end flows over CDAP and
// the kernel control channel.
package flow

import (
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
)

// State is the lifecycle state of one flow.
type State string

const (
	StateEmpty                   State = "EMPTY"
	StateAllocationInProgress    State = "ALLOCATION_IN_PROGRESS"
	StateAllocated               State = "ALLOCATED"
	StateWaitingMPLBeforeTearDown State = "WAITING_MPL_BEFORE_TEARDOWN"
	StateDeallocated             State = "DEALLOCATED"
)

// Flow is the allocator's record of one end-to-end flow.
type Flow struct {
	LocalApp   names.APNI
	RemoteApp  names.APNI
	LocalPort  int32
	RemotePort int32
	LocalAddr  uint32
	RemoteAddr uint32

	// Connections are the EFCP connections backing the flow. While the
	// flow is Allocated exactly one of them, ActiveConn, is in use.
	Connections []dif.Connection
	ActiveConn  int

	FlowSpec qos.FlowSpecification
	QoSID    uint32
	State    State

	HopCount      uint32
	CreateRetries int

	// LocallyInitiated marks which side asked for the flow.
	LocallyInitiated bool

	// TransactionID correlates the allocation with the requester.
	TransactionID string

	// mgmtPort is the N-1 port the peer exchange rides on.
	mgmtPort int32
	// pendingInvokeID is the invoke-id of the M_CREATE awaiting its reply
	// (remote side: the id to answer with).
	pendingInvokeID int32
}

// ActiveConnection returns the connection currently in use, or nil.
func (f *Flow) ActiveConnection() *dif.Connection {
	if f.ActiveConn < 0 || f.ActiveConn >= len(f.Connections) {
		return nil
	}
	return &f.Connections[f.ActiveConn]
}
