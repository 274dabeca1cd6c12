// Package resalloc implements the resource allocator's PDU forwarding
// table generation: routing tables in, kernel forwarding-table programs
// out.
package resalloc

import (
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/ctrl"
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/metrics"
)

// Kernel is the slice of the control-channel client this component uses.
type Kernel interface {
	Submit(payload ctrl.Payload, cb func(*ctrl.Message, error)) error
	Send(payload ctrl.Payload, flags ctrl.HeaderFlags) error
}

// NeighborResolver maps a next-hop DIF address to the N-1 management
// port-id of the enrolled neighbor holding it.
type NeighborResolver interface {
	PortForAddress(addr uint32) (int32, bool)
}

// Generator turns a routing table into forwarding-table entries. An
// alternative generator may be plugged in by implementing the same
// contract.
type Generator interface {
	Generate(routing []dif.RoutingTableEntry, resolver NeighborResolver) []dif.PDUForwardingTableEntry
}

// DefaultGenerator resolves each entry's first (primary) next hop only and
// does no route computation of its own.
type DefaultGenerator struct{}

// Generate builds one forwarding entry per resolvable (address, qos-id)
// pair. Only the first next hop (the primary) of each routing entry is
// consulted; an entry whose primary does not resolve is dropped as
// unreachable right now.
func (DefaultGenerator) Generate(routing []dif.RoutingTableEntry, resolver NeighborResolver) []dif.PDUForwardingTableEntry {
	type key struct {
		addr uint32
		qos  uint32
	}
	index := make(map[key]int)
	var out []dif.PDUForwardingTableEntry

	for _, re := range routing {
		if len(re.NextHops) == 0 {
			continue
		}
		port, ok := resolver.PortForAddress(re.NextHops[0])
		if !ok {
			continue
		}
		k := key{re.Address, re.QoSID}
		if i, ok := index[k]; ok {
			out[i].PortIDs = append(out[i].PortIDs, port)
			continue
		}
		index[k] = len(out)
		out = append(out, dif.PDUForwardingTableEntry{
			Address: re.Address,
			QoSID:   re.QoSID,
			PortIDs: []int32{port},
		})
	}
	return out
}

// Allocator programs the kernel forwarding table from routing updates.
type Allocator struct {
	kernel    Kernel
	resolver  NeighborResolver
	generator Generator
	logger    *zap.Logger

	routing []dif.RoutingTableEntry
	// lastProgram is the entry set of the last flush-and-add, kept for
	// introspection.
	lastProgram []dif.PDUForwardingTableEntry
}

// New builds a resource allocator with the default generator.
func New(kernel Kernel, resolver NeighborResolver, logger *zap.Logger) *Allocator {
	return &Allocator{
		kernel:    kernel,
		resolver:  resolver,
		generator: DefaultGenerator{},
		logger:    logger,
	}
}

// SetGenerator plugs in an alternative forwarding-table generator policy.
func (a *Allocator) SetGenerator(g Generator) {
	if g != nil {
		a.generator = g
	}
}

// OnRoutingUpdate stores the routing table and reprograms the kernel.
func (a *Allocator) OnRoutingUpdate(routing []dif.RoutingTableEntry) error {
	a.routing = append([]dif.RoutingTableEntry(nil), routing...)
	return a.Regenerate()
}

// Regenerate rebuilds the forwarding table from the stored routing table
// and the current neighbor set and atomically replaces the kernel table
// with a flush-and-add program.
func (a *Allocator) Regenerate() error {
	entries := a.generator.Generate(a.routing, a.resolver)
	req := &ctrl.ModifyPDUFTRequest{
		Mode:    ctrl.PDUFTFlushAndAdd,
		Entries: entries,
	}
	if err := a.kernel.Send(req, ctrl.FlagRequest); err != nil {
		a.logger.Error("Forwarding table program not sent", zap.Error(err))
		return err
	}
	a.lastProgram = entries
	metrics.RecordPDUFTUpdate(len(entries))
	a.logger.Debug("Forwarding table programmed", zap.Int("entries", len(entries)))
	return nil
}

// LastProgram returns the entries of the last program sent to the kernel.
func (a *Allocator) LastProgram() []dif.PDUForwardingTableEntry {
	return append([]dif.PDUForwardingTableEntry(nil), a.lastProgram...)
}

// Dump asks the kernel for its current table.
func (a *Allocator) Dump(cb func([]dif.PDUForwardingTableEntry, error)) error {
	return a.kernel.Submit(&ctrl.DumpPDUFTRequest{}, func(m *ctrl.Message, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		resp := m.Payload.(*ctrl.DumpPDUFTResponse)
		cb(resp.Entries, nil)
	})
}
