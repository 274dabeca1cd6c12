package cdap

import (
	"container/heap"

	"github.com/your-org/rina-stack/common/rerr"
)

// maxInvokeID bounds the id space of one session. Exhaustion surfaces as
// NoFreeInvokeId rather than wrapping.
const maxInvokeID = 1 << 20

// intHeap is a min-heap of freed invoke-ids so allocation prefers the
// smallest free id.
type intHeap []int32

func (h intHeap) Len() int            { return len(h) }
func (h intHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)         { *h = append(*h, x.(int32)) }
func (h *intHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// InvokeIDManager hands out per-session invoke-ids: unique, non-zero,
// smallest-free-first. Reserved ids are ineligible until freed. The manager
// is owned by the session's event-loop thread and is not safe for concurrent
// use.
type InvokeIDManager struct {
	freed       intHeap
	next        int32
	outstanding map[int32]struct{}
}

// NewInvokeIDManager builds an empty manager.
func NewInvokeIDManager() *InvokeIDManager {
	return &InvokeIDManager{
		next:        1,
		outstanding: make(map[int32]struct{}),
	}
}

// Allocate returns the smallest free non-zero id.
func (m *InvokeIDManager) Allocate() (int32, error) {
	for m.freed.Len() > 0 {
		id := heap.Pop(&m.freed).(int32)
		if _, busy := m.outstanding[id]; busy {
			continue
		}
		m.outstanding[id] = struct{}{}
		return id, nil
	}
	for m.next < maxInvokeID {
		id := m.next
		m.next++
		if _, busy := m.outstanding[id]; busy {
			continue
		}
		m.outstanding[id] = struct{}{}
		return id, nil
	}
	return 0, rerr.New(rerr.KindNoFreeInvokeID, "invoke-id space exhausted")
}

// Reserve marks an id as in use, typically an id chosen by the peer.
func (m *InvokeIDManager) Reserve(id int32) error {
	if id == 0 {
		return rerr.New(rerr.KindInvalidField, "invoke-id 0 is not allocatable")
	}
	if _, busy := m.outstanding[id]; busy {
		return rerr.New(rerr.KindInvalidField, "invoke-id %d already outstanding", id)
	}
	m.outstanding[id] = struct{}{}
	return nil
}

// Free returns an id to the pool. Freeing an id that is not outstanding is
// a no-op.
func (m *InvokeIDManager) Free(id int32) {
	if _, busy := m.outstanding[id]; !busy {
		return
	}
	delete(m.outstanding, id)
	if id < m.next {
		heap.Push(&m.freed, id)
	}
}

// Outstanding reports whether the id is currently allocated or reserved.
func (m *InvokeIDManager) Outstanding(id int32) bool {
	_, busy := m.outstanding[id]
	return busy
}
