package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerQueue_FIFO(t *testing.T) {
	q := newTriggerQueue()

	for _, kind := range []TriggerKind{TriggerAuthorize, TriggerCallback, TriggerRefresh} {
		require.True(t, q.Enqueue(envelope{trigger: Trigger{Kind: kind}}))
	}
	assert.Equal(t, 3, q.Len())

	var kinds []TriggerKind
	for {
		env, ok := q.TryDequeue()
		if !ok {
			break
		}
		kinds = append(kinds, env.trigger.Kind)
	}
	assert.Equal(t, []TriggerKind{TriggerAuthorize, TriggerCallback, TriggerRefresh}, kinds)
}

func TestTriggerQueue_TryDequeueEmpty(t *testing.T) {
	q := newTriggerQueue()
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestTriggerQueue_ClosedRejectsEnqueue(t *testing.T) {
	q := newTriggerQueue()
	assert.False(t, q.Closed())

	q.Close()
	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(envelope{trigger: Trigger{Kind: TriggerLogout}}))

	// Close is idempotent.
	q.Close()
}

func TestTriggerQueue_SignalCoalesces(t *testing.T) {
	q := newTriggerQueue()
	for i := 0; i < 10; i++ {
		q.Enqueue(envelope{trigger: Trigger{Kind: TriggerRefresh}})
	}

	// One buffered signal at most; all events still dequeue.
	<-q.Wait()
	count := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, 10, count)
}

func TestTriggerQueue_ConcurrentEnqueue(t *testing.T) {
	q := newTriggerQueue()
	const producers = 20
	const perProducer = 50

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(envelope{trigger: Trigger{Kind: TriggerRefresh}})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
}

func TestClock_MonotonicAndUnique(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("flow-1", "flow-2")
	assert.Equal(t, "flow-1", gen.Generate())
	assert.Equal(t, "flow-2", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := gen.Generate()
		assert.False(t, seen[token], "token %s generated twice", token)
		seen[token] = true
	}
}
