package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// QueueMetrics is a point-in-time snapshot of Queue counters (spec.md
// §4.1 metrics()).
type QueueMetrics struct {
	Depth         int
	Capacity      int
	Admitted      int64
	Rejected      int64
	DrainTimeouts int64
	Utilisation   float64
}

// Queue is a bounded, in-order FIFO staging area for admitted Requests.
// Grounded on the teacher's pkg/worker/queue.go PriorityQueue for the
// mutex + notify-channel shape, with the container/heap priority
// ordering removed: spec.md is explicit that only arrival order matters.
type Queue struct {
	mu       sync.Mutex
	items    []*Request
	capacity int
	notify   chan struct{} // buffered 1; signals "queue went non-empty"
	log      zerolog.Logger

	admitted      atomic.Int64
	rejected      atomic.Int64
	drainTimeouts atomic.Int64
}

// NewQueue creates a Queue with the given capacity. Capacity must be ≥ 1.
// Logging defaults to a no-op logger; attach one with SetLogger.
func NewQueue(capacity int) *Queue {
	return &Queue{
		items:    make([]*Request, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		log:      zerolog.Nop(),
	}
}

// SetLogger attaches log as the destination for admission and
// drain-timeout events (SPEC_FULL.md §A.1). Returns q for chaining at
// construction time.
func (q *Queue) SetLogger(log zerolog.Logger) *Queue {
	q.log = log
	return q
}

// signal wakes one waiting Drain, non-blockingly (spec.md §4.2: the
// scheduler only ever suspends inside Drain or inside encode).
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Admit appends r to the queue. Non-blocking: if the queue is at
// capacity, it fails immediately with a QueueFull error carrying the
// current depth (spec.md §4.1 admit(), §5 backpressure).
func (q *Queue) Admit(r *Request) error {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		depth := len(q.items)
		q.mu.Unlock()
		q.rejected.Add(1)
		q.log.Warn().Str("request_id", r.ID.String()).Int("depth", depth).Int("capacity", q.capacity).
			Msg("🚫 admission refused, queue full")
		return NewQueueFullError(depth, q.capacity)
	}
	depth := len(q.items) + 1
	q.items = append(q.items, r)
	q.mu.Unlock()

	q.admitted.Add(1)
	q.log.Debug().Str("request_id", r.ID.String()).Int("depth", depth).Msg("📥 request admitted")
	q.signal()
	return nil
}

// Drain blocks until either at least one Request is available or maxWait
// elapses with none available, then greedily and non-blockingly pulls up
// to maxBatch additional items currently present. Returns an empty slice
// iff maxWait elapsed with the queue empty, in which case the
// drain-timeout counter is incremented (spec.md §4.1 drain()).
func (q *Queue) Drain(maxBatch int, maxWait time.Duration) []*Request {
	return q.DrainContext(context.Background(), maxBatch, maxWait)
}

// DrainContext behaves like Drain but also returns early, with whatever
// was collected so far (possibly none), if ctx is cancelled. Used by the
// scheduler so Stop can interrupt a long maxWait instead of waiting it
// out (spec.md §9 Open Question 1: shutdown_timeout_s as a hard
// deadline).
func (q *Queue) DrainContext(ctx context.Context, maxBatch int, maxWait time.Duration) []*Request {
	if batch := q.takeUpTo(maxBatch); len(batch) > 0 {
		return batch
	}

	if maxWait <= 0 {
		q.drainTimeouts.Add(1)
		q.log.Debug().Dur("wait_ms", 0).Msg("⏲️ drain timed out on empty queue")
		return nil
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return q.takeUpTo(maxBatch)
		case <-timer.C:
			// One last non-blocking check: an item may have landed in the
			// instant between the timer firing and us observing it.
			if batch := q.takeUpTo(maxBatch); len(batch) > 0 {
				return batch
			}
			q.drainTimeouts.Add(1)
			q.log.Debug().Dur("wait_ms", maxWait).Msg("⏲️ drain timed out on empty queue")
			return nil
		case <-q.notify:
			if batch := q.takeUpTo(maxBatch); len(batch) > 0 {
				return batch
			}
			// Spurious wakeup (another drainer got there first); keep waiting.
		}
	}
}

// takeUpTo removes up to n items from the front of the queue,
// non-blockingly, preserving admission order.
func (q *Queue) takeUpTo(n int) []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	count := n
	if count > len(q.items) {
		count = len(q.items)
	}
	batch := make([]*Request, count)
	copy(batch, q.items[:count])
	remaining := len(q.items) - count
	copy(q.items, q.items[count:])
	q.items = q.items[:remaining]
	return batch
}

// DrainAll removes and returns every item currently queued, in order.
// Used during shutdown to fail out whatever never got scheduled.
func (q *Queue) DrainAll() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	batch := q.items
	q.items = make([]*Request, 0, q.capacity)
	return batch
}

// Depth returns the current queue depth. Exact value not guaranteed
// linearisable with concurrent mutation (spec.md §4.1).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether the queue currently holds no items.
func (q *Queue) IsEmpty() bool { return q.Depth() == 0 }

// IsFull reports whether the queue is at capacity.
func (q *Queue) IsFull() bool { return q.Depth() >= q.capacity }

// Metrics returns a snapshot of the queue's counters (spec.md §4.1).
func (q *Queue) Metrics() QueueMetrics {
	depth := q.Depth()
	util := 0.0
	if q.capacity > 0 {
		util = float64(depth) / float64(q.capacity)
	}
	return QueueMetrics{
		Depth:         depth,
		Capacity:      q.capacity,
		Admitted:      q.admitted.Load(),
		Rejected:      q.rejected.Load(),
		DrainTimeouts: q.drainTimeouts.Load(),
		Utilisation:   util,
	}
}
