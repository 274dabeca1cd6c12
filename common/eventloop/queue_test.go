package eventloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PollOrder(t *testing.T) {
	q := NewQueue()

	q.Post(FlowDeallocated{PortID: 1})
	q.Post(FlowDeallocated{PortID: 2})

	e, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, int32(1), e.(FlowDeallocated).PortID)

	e, ok = q.Poll()
	require.True(t, ok)
	assert.Equal(t, int32(2), e.(FlowDeallocated).PortID)

	_, ok = q.Poll()
	assert.False(t, ok)
}

func TestQueue_WaitBlocksUntilPost(t *testing.T) {
	q := NewQueue()

	done := make(chan Event, 1)
	go func() {
		e, _ := q.Wait()
		done <- e
	}()

	time.Sleep(10 * time.Millisecond)
	q.Post(TimerExpired{TimerID: 7})

	select {
	case e := <-done:
		assert.Equal(t, uint64(7), e.(TimerExpired).TimerID)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Post")
	}
}

func TestQueue_WaitForTimesOut(t *testing.T) {
	q := NewQueue()

	start := time.Now()
	_, ok := q.WaitFor(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue()

	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Post(FlowDeallocated{PortID: 1})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
}

func TestQueue_CloseDrains(t *testing.T) {
	q := NewQueue()
	q.Post(FlowDeallocated{PortID: 1})
	q.Close()

	// Posting after close drops.
	q.Post(FlowDeallocated{PortID: 2})

	_, ok := q.Wait()
	assert.True(t, ok)
	_, ok = q.Wait()
	assert.False(t, ok)
}

func TestTimers_FireAndCancel(t *testing.T) {
	q := NewQueue()
	timers := NewTimers(q)
	defer timers.CancelAll()

	timers.Schedule(10*time.Millisecond, "keepalive")
	id := timers.Schedule(10*time.Millisecond, "canceled")
	timers.Cancel(id)

	e, ok := q.WaitFor(time.Second)
	require.True(t, ok)
	te := e.(TimerExpired)
	assert.Equal(t, "keepalive", te.Tag)

	// The canceled timer never fires.
	_, ok = q.WaitFor(50 * time.Millisecond)
	assert.False(t, ok)
}
