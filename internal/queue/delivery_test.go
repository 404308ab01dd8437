package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/netsync/internal/buffer"
)

func newDelivery(capacity int) *Delivery {
	return NewDelivery(capacity, buffer.NewPool(64, 16))
}

func collect(q *Delivery) []string {
	var out []string
	q.Drain(func(it Item) {
		out = append(out, fmt.Sprintf("%s:%s", it.Mode, it.Payload))
	})
	return out
}

func TestDelivery_ReliableDrainsFirst(t *testing.T) {
	for run := 0; run < 50; run++ {
		q := newDelivery(0)
		require.NoError(t, q.Enqueue(Unreliable, "", []byte("u1")))
		require.NoError(t, q.Enqueue(Reliable, "", []byte("r1")))
		require.NoError(t, q.Enqueue(Unreliable, "", []byte("u2")))
		require.NoError(t, q.Enqueue(Reliable, "", []byte("r2")))

		assert.Equal(t, []string{"reliable:r1", "reliable:r2", "unreliable:u1", "unreliable:u2"}, collect(q))
	}
}

func TestDelivery_DrainEmptiesQueue(t *testing.T) {
	q := newDelivery(0)
	require.NoError(t, q.Enqueue(Reliable, "", []byte("a")))
	assert.Equal(t, 1, q.Len(Reliable))

	assert.Equal(t, 1, q.Drain(func(Item) {}))
	assert.Equal(t, 0, q.Len(Reliable))
	assert.Equal(t, 0, q.Drain(func(Item) {}))
}

func TestDelivery_NoRequeueOnFailure(t *testing.T) {
	q := newDelivery(0)
	require.NoError(t, q.Enqueue(Reliable, "", []byte("lost")))

	q.Drain(func(Item) {
		// consumer failed to send, item is simply gone
	})
	assert.Empty(t, collect(q))
}

func TestDelivery_EnqueueDuringDrainWaitsForNextTick(t *testing.T) {
	q := newDelivery(0)
	require.NoError(t, q.Enqueue(Reliable, "", []byte("first")))

	var seen []string
	q.Drain(func(it Item) {
		seen = append(seen, string(it.Payload))
		require.NoError(t, q.Enqueue(Reliable, "", []byte("second")))
	})

	assert.Equal(t, []string{"first"}, seen)
	assert.Equal(t, []string{"reliable:second"}, collect(q))
}

func TestDelivery_CopiesPayload(t *testing.T) {
	q := newDelivery(0)
	p := []byte("abc")
	require.NoError(t, q.Enqueue(Reliable, "client-1", p))
	p[0] = 'X'

	q.Drain(func(it Item) {
		assert.Equal(t, "abc", string(it.Payload))
		assert.Equal(t, "client-1", it.Target)
	})
}

func TestDelivery_Capacity(t *testing.T) {
	q := newDelivery(2)
	require.NoError(t, q.Enqueue(Reliable, "", []byte("1")))
	require.NoError(t, q.Enqueue(Reliable, "", []byte("2")))
	assert.ErrorIs(t, q.Enqueue(Reliable, "", []byte("3")), ErrQueueFull)

	// Classes are bounded independently
	assert.NoError(t, q.Enqueue(Unreliable, "", []byte("u")))
}

func TestDelivery_InvalidMode(t *testing.T) {
	q := newDelivery(0)
	assert.Error(t, q.Enqueue(Mode(7), "", []byte("x")))
	assert.Equal(t, 0, q.Len(Mode(7)))
	assert.Equal(t, "mode(7)", Mode(7).String())
}

func TestDelivery_Close(t *testing.T) {
	q := newDelivery(0)
	require.NoError(t, q.Enqueue(Reliable, "", []byte("x")))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(Reliable, "", []byte("y")), ErrQueueClosed)
	assert.Equal(t, 0, q.Len(Reliable))
	assert.True(t, q.Stats().Closed)
}

func TestDelivery_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	q := newDelivery(0)
	const producers, perProducer = 4, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.Enqueue(Reliable, fmt.Sprint(p), []byte(fmt.Sprint(i))))
			}
		}(p)
	}
	wg.Wait()

	last := map[string]int{}
	count := q.Drain(func(it Item) {
		var i int
		fmt.Sscan(string(it.Payload), &i)
		if prev, ok := last[it.Target]; ok {
			assert.Greater(t, i, prev)
		}
		last[it.Target] = i
	})
	assert.Equal(t, producers*perProducer, count)
}
