package recorder

import "sync"

// eventBuffer is a thread-safe FIFO that doubles its capacity when it reaches
// 70% full, up to a hard limit. Pushes beyond the limit are dropped.
type eventBuffer struct {
	mu       sync.Mutex
	buf      []event
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	limit    int

	// Stats
	pushed  int64
	dropped int64
	resizes int
}

func newEventBuffer(initial, limit int) *eventBuffer {
	if limit < 1 {
		limit = 1
	}
	if initial < 1 {
		initial = 1
	}
	if initial > limit {
		initial = limit
	}
	return &eventBuffer{
		buf:      make([]event, initial),
		capacity: initial,
		limit:    limit,
	}
}

// push appends ev and returns the new length, or false if the buffer is at its limit.
func (b *eventBuffer) push(ev event) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.limit {
		b.dropped++
		return b.count, false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold && b.capacity < b.limit {
		b.grow()
	}
	if b.count == b.capacity {
		b.grow()
	}

	b.buf[b.tail] = ev
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.pushed++
	return b.count, true
}

// grow doubles the capacity, never past the limit. Must be called with lock held.
func (b *eventBuffer) grow() {
	newCapacity := b.capacity * 2
	if newCapacity > b.limit {
		newCapacity = b.limit
	}
	if newCapacity == b.capacity {
		return
	}
	newBuf := make([]event, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count % newCapacity
	b.capacity = newCapacity
	b.resizes++
}

// drain removes up to max events (all when max <= 0), oldest first.
func (b *eventBuffer) drain(max int) []event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]event, n)
	for i := 0; i < n; i++ {
		out[i] = b.buf[b.head]
		b.buf[b.head] = event{}
		b.head = (b.head + 1) % b.capacity
		b.count--
	}
	return out
}

func (b *eventBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
