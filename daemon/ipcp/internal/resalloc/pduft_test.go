package resalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/ctrl"
	"github.com/your-org/rina-stack/common/dif"
)

type fakeKernel struct {
	sent      []ctrl.Payload
	submitted []ctrl.Payload
	dump      []dif.PDUForwardingTableEntry
}

func (k *fakeKernel) Send(p ctrl.Payload, _ ctrl.HeaderFlags) error {
	k.sent = append(k.sent, p)
	return nil
}

func (k *fakeKernel) Submit(p ctrl.Payload, cb func(*ctrl.Message, error)) error {
	k.submitted = append(k.submitted, p)
	cb(&ctrl.Message{
		Header:  ctrl.Header{Type: ctrl.MsgDumpPDUFTResponse, Flags: ctrl.FlagResponse},
		Payload: &ctrl.DumpPDUFTResponse{Entries: k.dump},
	}, nil)
	return nil
}

type mapResolver map[uint32]int32

func (m mapResolver) PortForAddress(addr uint32) (int32, bool) {
	p, ok := m[addr]
	return p, ok
}

func TestGenerate_ResolvesPrimaryNextHop(t *testing.T) {
	gen := DefaultGenerator{}
	resolver := mapResolver{2: 7}

	entries := gen.Generate([]dif.RoutingTableEntry{
		{Address: 3, QoSID: 0, NextHops: []uint32{2}},
	}, resolver)

	require.Len(t, entries, 1)
	assert.Equal(t, dif.PDUForwardingTableEntry{Address: 3, QoSID: 0, PortIDs: []int32{7}}, entries[0])
}

func TestGenerate_DropsUnresolvableEntries(t *testing.T) {
	gen := DefaultGenerator{}
	resolver := mapResolver{2: 7}

	entries := gen.Generate([]dif.RoutingTableEntry{
		{Address: 3, QoSID: 0, NextHops: []uint32{2}},
		{Address: 4, QoSID: 0, NextHops: []uint32{9}}, // 9 unknown
	}, resolver)

	require.Len(t, entries, 1)
	assert.Equal(t, uint32(3), entries[0].Address)
}

func TestGenerate_IgnoresFallbackWhenPrimaryUnreachable(t *testing.T) {
	gen := DefaultGenerator{}
	// Address 9 (the fallback) is reachable, address 2 (the primary) is
	// not: the entry is dropped, never forwarded via the fallback.
	resolver := mapResolver{9: 13}

	entries := gen.Generate([]dif.RoutingTableEntry{
		{Address: 3, QoSID: 0, NextHops: []uint32{2, 9}},
	}, resolver)

	assert.Empty(t, entries)
}

func TestGenerate_MergesSameDestinationAndQoS(t *testing.T) {
	gen := DefaultGenerator{}
	resolver := mapResolver{2: 7, 5: 9}

	entries := gen.Generate([]dif.RoutingTableEntry{
		{Address: 3, QoSID: 0, NextHops: []uint32{2}},
		{Address: 3, QoSID: 0, NextHops: []uint32{5}},
	}, resolver)

	require.Len(t, entries, 1)
	assert.Equal(t, []int32{7, 9}, entries[0].PortIDs)
}

func TestAllocator_ProgramsFlushAndAdd(t *testing.T) {
	k := &fakeKernel{}
	a := New(k, mapResolver{2: 7}, zap.NewNop())

	require.NoError(t, a.OnRoutingUpdate([]dif.RoutingTableEntry{
		{Address: 3, QoSID: 0, NextHops: []uint32{2}},
	}))

	require.Len(t, k.sent, 1)
	req := k.sent[0].(*ctrl.ModifyPDUFTRequest)
	assert.Equal(t, ctrl.PDUFTFlushAndAdd, req.Mode)
	require.Len(t, req.Entries, 1)
	assert.Equal(t, dif.PDUForwardingTableEntry{Address: 3, QoSID: 0, PortIDs: []int32{7}}, req.Entries[0])
}

func TestAllocator_RegenerateAfterNeighborLoss(t *testing.T) {
	k := &fakeKernel{}
	resolver := mapResolver{2: 7, 5: 9}
	a := New(k, resolver, zap.NewNop())

	require.NoError(t, a.OnRoutingUpdate([]dif.RoutingTableEntry{
		{Address: 3, QoSID: 0, NextHops: []uint32{2}},
		{Address: 4, QoSID: 0, NextHops: []uint32{5}},
	}))
	require.Len(t, k.sent, 1)
	assert.Len(t, k.sent[0].(*ctrl.ModifyPDUFTRequest).Entries, 2)

	// Neighbor at address 5 goes away: the regenerated program contains
	// only what is still resolvable.
	delete(resolver, 5)
	require.NoError(t, a.Regenerate())
	require.Len(t, k.sent, 2)
	prog := k.sent[1].(*ctrl.ModifyPDUFTRequest)
	assert.Equal(t, ctrl.PDUFTFlushAndAdd, prog.Mode)
	require.Len(t, prog.Entries, 1)
	assert.Equal(t, uint32(3), prog.Entries[0].Address)
}

func TestAllocator_Dump(t *testing.T) {
	k := &fakeKernel{dump: []dif.PDUForwardingTableEntry{{Address: 1, QoSID: 0, PortIDs: []int32{3}}}}
	a := New(k, mapResolver{}, zap.NewNop())

	var got []dif.PDUForwardingTableEntry
	require.NoError(t, a.Dump(func(entries []dif.PDUForwardingTableEntry, err error) {
		require.NoError(t, err)
		got = entries
	}))
	require.Len(t, got, 1)
	assert.Equal(t, uint32(1), got[0].Address)
}

// pinnedGenerator always emits one fixed entry.
type pinnedGenerator struct {
	entry dif.PDUForwardingTableEntry
}

func (g pinnedGenerator) Generate([]dif.RoutingTableEntry, NeighborResolver) []dif.PDUForwardingTableEntry {
	return []dif.PDUForwardingTableEntry{g.entry}
}

func TestAllocator_PluggableGenerator(t *testing.T) {
	k := &fakeKernel{}
	a := New(k, mapResolver{}, zap.NewNop())
	a.SetGenerator(pinnedGenerator{entry: dif.PDUForwardingTableEntry{Address: 42, QoSID: 1, PortIDs: []int32{5}}})

	require.NoError(t, a.OnRoutingUpdate(nil))
	require.Len(t, k.sent, 1)
	prog := k.sent[0].(*ctrl.ModifyPDUFTRequest)
	require.Len(t, prog.Entries, 1)
	assert.Equal(t, uint32(42), prog.Entries[0].Address)
}
