package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"talkie/pkg/telemetry"
)

// Default and configuration values.
const defaultQueueCapacity = 4096
const fallbackQueueCapacity = 256

// Counters for instrumentation.
var (
	enqueueTotal     uint64
	enqueueFailTotal uint64
	enqSeq           uint64
)

// Op is a lightweight in-memory representation of one inbound realtime
// event. Payload may be backed by a pooled ByteBuffer; consumers must call
// Item.Done() when finished.
type Op struct {
	// Event is the realtime event name; the worker dispatches on it.
	Event        string
	Conversation string
	// Payload holds the raw event bytes (may be nil).
	Payload []byte
	// EnqSeq is a monotonic enqueue sequence assigned when the op is
	// accepted into the queue.
	EnqSeq uint64
}

// Item wraps an Op and owns a pooled ByteBuffer if one was used.
// Consumers MUST call Done() exactly once after processing.
type Item struct {
	Op *Op

	// internal fields
	buf     *bytebufferpool.ByteBuffer
	once    sync.Once
	q       *Queue
	barrier chan struct{}
}

// Done releases internal pooled resources back to the pool.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.q != nil {
			atomic.AddInt64(&it.q.inFlight, -1)
			telemetry.QueueDepth.Set(float64(it.q.Len()))
			it.q = nil
		}
		if it.buf != nil {
			if cap(it.buf.B) > maxPooledBuffer {
				// drop the buffer so GC can reclaim the underlying array
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Op != nil {
			it.Op.Payload = nil
			opPool.Put(it.Op)
			it.Op = nil
		}
		itemPool.Put(it)
	})
}

var opPool = sync.Pool{New: func() any { return &Op{} }}
var itemPool = sync.Pool{New: func() any { return &Item{} }}

// maxPooledBuffer controls the largest buffer that will be returned to
// the pool; larger ones are dropped to bound resident memory.
var maxPooledBuffer = 256 * 1024 // 256 KiB

// SetMaxPooledBuffer overrides the pooled-buffer cap (bytes).
func SetMaxPooledBuffer(n int) {
	if n > 0 {
		maxPooledBuffer = n
	}
}

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("ingest queue full")

// ErrQueueClosed is returned when enqueueing after the queue has closed.
var ErrQueueClosed = errors.New("ingest queue closed")

// Queue is a threadsafe, fixed-size in-memory queue of Op items. One
// consumer goroutine draining it serializes every store mutation the
// router performs.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	closed   int32

	enqWg     sync.WaitGroup
	closeOnce sync.Once
	inFlight  int64
}

// NewQueue creates a bounded Queue of given capacity (>0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = fallbackQueueCapacity
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out exposes Items for consumers (do not close).
func (q *Queue) Out() <-chan *Item { return q.ch }

// TryEnqueue enqueues an Op without blocking; returns ErrQueueFull if full.
func (q *Queue) TryEnqueue(op *Op) error {
	atomic.AddUint64(&enqueueTotal, 1)

	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueClosed
	}

	q.enqWg.Add(1)
	defer q.enqWg.Done()

	newOp := opPool.Get().(*Op)
	*newOp = *op
	newOp.EnqSeq = atomic.AddUint64(&enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(op.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], op.Payload...)
		newOp.Payload = bb.B[:len(op.Payload)]
	}

	it := itemPool.Get().(*Item)
	*it = Item{Op: newOp, buf: bb, q: q}

	select {
	case q.ch <- it:
		atomic.AddInt64(&q.inFlight, 1)
		telemetry.QueueDepth.Set(float64(q.Len()))
		return nil
	default:
		// Clean up pooled resources on failure.
		if bb != nil {
			bytebufferpool.Put(bb)
		}
		opPool.Put(newOp)
		atomic.AddUint64(&q.dropped, 1)
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueFull
	}
}

// Enqueue blocks until op is enqueued or ctx is cancelled.
func (q *Queue) Enqueue(ctx context.Context, op *Op) error {
	if err := q.TryEnqueue(op); err == nil || !errors.Is(err, ErrQueueFull) {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := q.TryEnqueue(op); err == nil || !errors.Is(err, ErrQueueFull) {
			return err
		}
	}
}

// Barrier enqueues a marker and returns a channel closed once every op
// ahead of it has been applied. Used by tests and by callers that need a
// happens-before edge with the apply worker.
func (q *Queue) Barrier() <-chan struct{} {
	done := make(chan struct{})
	it := &Item{barrier: done}
	if atomic.LoadInt32(&q.closed) == 1 {
		close(done)
		return done
	}
	q.ch <- it
	return done
}

// RunWorker dequeues items and calls handler for each, calling Item.Done()
// always. Exits when stop fires or the queue closes.
func (q *Queue) RunWorker(stop <-chan struct{}, handler func(*Op)) {
	for {
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			if it.barrier != nil {
				close(it.barrier)
				continue
			}
			func(it *Item) {
				defer it.Done()
				handler(it.Op)
			}(it)
		case <-stop:
			return
		}
	}
}

// CloseAndDrain closes the queue channel and drains remaining items,
// ensuring their resources are released.
func (q *Queue) CloseAndDrain() {
	q.closeOnce.Do(func() {
		atomic.StoreInt32(&q.closed, 1)
		q.enqWg.Wait()
		close(q.ch)
		for it := range q.ch {
			if it.barrier != nil {
				close(it.barrier)
				continue
			}
			it.Done()
		}
	})
}

// Len returns the current number of items in the queue.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity of the queue.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns the number of operations dropped due to a full queue.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
