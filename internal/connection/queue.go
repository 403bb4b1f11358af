package connection

import "time"

// outboundQueue is a fixed-capacity FIFO ring of envelopes waiting for a connection.
// It is not safe for concurrent use; the manager guards it with its own mutex.
type outboundQueue struct {
	buf      []Envelope
	head     int // read position
	tail     int // write position
	count    int
	capacity int

	policy EvictionPolicy
	maxAge time.Duration // 0 = never expire

	// Stats
	evicted int64
	expired int64
}

func newOutboundQueue(capacity int, maxAge time.Duration, policy EvictionPolicy) *outboundQueue {
	if capacity < 1 {
		capacity = 1
	}
	if policy == "" {
		policy = EvictDropOldest
	}
	return &outboundQueue{
		buf:      make([]Envelope, capacity),
		capacity: capacity,
		policy:   policy,
		maxAge:   maxAge,
	}
}

// push appends env, applying the eviction policy when the queue is full.
func (q *outboundQueue) push(env Envelope) SendResult {
	result := SendQueued
	if q.count == q.capacity {
		if q.policy == EvictRejectNew {
			return SendRejected
		}
		q.pop()
		q.evicted++
		result = SendQueuedEvicted
	}

	q.buf[q.tail] = env
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	return result
}

// pop discards the oldest envelope.
func (q *outboundQueue) pop() {
	if q.count == 0 {
		return
	}
	q.buf[q.head] = Envelope{} // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
}

// Len returns the number of queued envelopes.
func (q *outboundQueue) Len() int {
	return q.count
}

// stale reports whether env has outlived the age bound at now.
func (q *outboundQueue) stale(env Envelope, now time.Time) bool {
	return q.maxAge > 0 && now.Sub(env.EnqueuedAt) > q.maxAge
}

// flush walks the queue in FIFO order. Stale envelopes are dropped unsent; the
// rest are passed to send until it fails, leaving the failed envelope and
// everything after it queued in order.
func (q *outboundQueue) flush(now time.Time, send func(Envelope) error) (sent int, err error) {
	for q.count > 0 {
		env := q.buf[q.head]
		if q.stale(env, now) {
			q.pop()
			q.expired++
			continue
		}
		if err := send(env); err != nil {
			return sent, err
		}
		q.pop()
		sent++
	}
	return sent, nil
}

// items returns the queued envelopes oldest first.
func (q *outboundQueue) items() []Envelope {
	out := make([]Envelope, 0, q.count)
	for i := 0; i < q.count; i++ {
		out = append(out, q.buf[(q.head+i)%q.capacity])
	}
	return out
}
