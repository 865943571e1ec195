package pgstoreexporter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionQueueEnqueueDequeueFIFO(t *testing.T) {
	q := newAdmissionQueue(100)
	a := &pendingBatch{itemCount: 1, done: make(chan batchOutcome, 1)}
	b := &pendingBatch{itemCount: 1, done: make(chan batchOutcome, 1)}
	q.enqueue(a)
	q.enqueue(b)

	assert.Same(t, a, q.dequeue())
	assert.Same(t, b, q.dequeue())
	assert.Nil(t, q.dequeue())
}

func TestAdmissionQueueShedsOldestOverHighWater(t *testing.T) {
	q := newAdmissionQueue(5)
	old := &pendingBatch{itemCount: 4, done: make(chan batchOutcome, 1)}
	q.enqueue(old)

	fresh := &pendingBatch{itemCount: 4, done: make(chan batchOutcome, 1)}
	q.enqueue(fresh)

	select {
	case out := <-old.done:
		assert.True(t, out.shed)
	default:
		t.Fatal("expected the older batch to be shed and notified")
	}
	assert.Equal(t, int64(4), q.shedCount())

	require.NotNil(t, q.dequeue())
	assert.Nil(t, q.dequeue())
}

func TestAdmissionQueueDrainUpToRespectsMaxItems(t *testing.T) {
	q := newAdmissionQueue(1000)
	for i := 0; i < 5; i++ {
		q.enqueue(&pendingBatch{itemCount: 10, done: make(chan batchOutcome, 1)})
	}

	batch := q.drainUpTo(25, time.Second)
	total := 0
	for _, pb := range batch {
		total += pb.itemCount
	}
	assert.GreaterOrEqual(t, total, 25)
}

func TestAdmissionQueueDrainUpToReturnsNilWhenEmpty(t *testing.T) {
	q := newAdmissionQueue(100)
	assert.Nil(t, q.drainUpTo(10, 10*time.Millisecond))
}

func TestAdmissionQueueDrainUpToRespectsMaxWait(t *testing.T) {
	q := newAdmissionQueue(1000)
	q.enqueue(&pendingBatch{itemCount: 1, done: make(chan batchOutcome, 1)})

	start := time.Now()
	batch := q.drainUpTo(100, 20*time.Millisecond)
	elapsed := time.Since(start)

	require.Len(t, batch, 1)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestAdmissionQueueWaitRespectsContextCancellation(t *testing.T) {
	q := newAdmissionQueue(100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, q.wait(ctx))
}
