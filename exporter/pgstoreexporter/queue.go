package pgstoreexporter

import (
	"context"
	"sync"
	"time"

	"github.com/ollyscale/core/internal/store"
)

// pendingBatch is one admitted unit of work: a WriteBatch waiting for a
// persist worker, plus a channel the submitting push call blocks on.
type pendingBatch struct {
	batch     store.WriteBatch
	itemCount int
	enqueued  time.Time
	done      chan batchOutcome
}

// batchOutcome is delivered exactly once to a pendingBatch's done channel,
// either by a persist worker or by the admission queue shedding it.
type batchOutcome struct {
	result store.WriteResult
	err    error
	shed   bool
}

// admissionQueue is the single-producer/multi-consumer FIFO fronting the
// store (spec §4.B stage 4). When the queued item count exceeds highWater,
// the oldest batches are evicted and their waiters notified immediately
// rather than left to time out, so partial_success accounting reflects the
// drop as soon as it happens ("shed-oldest-with-accounting").
type admissionQueue struct {
	mu        sync.Mutex
	items     []*pendingBatch
	itemSum   int
	highWater int
	signal    chan struct{}

	shedMu    sync.Mutex
	shedTotal int64
}

func newAdmissionQueue(highWater int) *admissionQueue {
	return &admissionQueue{
		highWater: highWater,
		signal:    make(chan struct{}, 1),
	}
}

// enqueue appends pb, shedding the oldest queued batches until the queue is
// back within its high-water mark.
func (q *admissionQueue) enqueue(pb *pendingBatch) {
	q.mu.Lock()
	q.items = append(q.items, pb)
	q.itemSum += pb.itemCount

	var shed []*pendingBatch
	for q.itemSum > q.highWater && len(q.items) > 0 {
		victim := q.items[0]
		q.items = q.items[1:]
		q.itemSum -= victim.itemCount
		shed = append(shed, victim)
	}
	q.mu.Unlock()

	if len(shed) > 0 {
		q.shedMu.Lock()
		for _, v := range shed {
			q.shedTotal += int64(v.itemCount)
		}
		q.shedMu.Unlock()
		for _, v := range shed {
			v.done <- batchOutcome{shed: true}
			close(v.done)
		}
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// dequeue pops the oldest batch, or returns nil if the queue is empty.
func (q *admissionQueue) dequeue() *pendingBatch {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	pb := q.items[0]
	q.items = q.items[1:]
	q.itemSum -= pb.itemCount
	return pb
}

// wait blocks until a batch may be available or ctx is done, returning false
// on the latter.
func (q *admissionQueue) wait(ctx context.Context) bool {
	select {
	case <-q.signal:
		return true
	case <-ctx.Done():
		return false
	}
}

// shedCount reports the cumulative number of items dropped by the shed-
// oldest policy since the queue was created.
func (q *admissionQueue) shedCount() int64 {
	q.shedMu.Lock()
	defer q.shedMu.Unlock()
	return q.shedTotal
}

// drainUpTo coalesces queued batches into one group bounded by maxItems or
// maxWait, whichever comes first (spec §4.B stage 4). It does not block for
// the first item: if the queue is empty from the start it returns nil at
// once, so an idle worker can fall back to wait(ctx) instead of spinning.
func (q *admissionQueue) drainUpTo(maxItems int, maxWait time.Duration) []*pendingBatch {
	first := q.dequeue()
	if first == nil {
		return nil
	}
	batch := []*pendingBatch{first}
	total := first.itemCount
	deadline := time.Now().Add(maxWait)

	for total < maxItems {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.signal:
			timer.Stop()
		case <-timer.C:
		}
		for total < maxItems {
			pb := q.dequeue()
			if pb == nil {
				break
			}
			batch = append(batch, pb)
			total += pb.itemCount
		}
	}
	return batch
}
