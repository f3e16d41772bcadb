package vcpu

// eventQueueCapacity is the maximum number of pending external events the
// core will hold at once.
const eventQueueCapacity = 4

// EventQueue is a bounded FIFO of pending 8-bit event identifiers. Like
// the teacher's fixed Registers/Ram arrays, this never allocates on the
// hot path: enqueue/dequeue only ever touch a fixed [4]byte.
type EventQueue struct {
	events [eventQueueCapacity]uint8
	len    uint8
}

// IsEmpty reports whether the queue currently holds no events.
func (q *EventQueue) IsEmpty() bool { return q.len == 0 }

// IsFull reports whether the queue is at capacity.
func (q *EventQueue) IsFull() bool { return int(q.len) == eventQueueCapacity }

// Enqueue appends id to the back of the queue. It returns false if the
// queue was already full, in which case the caller should raise
// FaultEventQueueOverflow.
func (q *EventQueue) Enqueue(id uint8) bool {
	if q.IsFull() {
		return false
	}
	q.events[q.len] = id
	q.len++
	return true
}

// Peek reports the front event without removing it, if any.
func (q *EventQueue) Peek() (uint8, bool) {
	if q.IsEmpty() {
		return 0, false
	}
	return q.events[0], true
}

// Dequeue removes and returns the front event, if any.
func (q *EventQueue) Dequeue() (uint8, bool) {
	if q.IsEmpty() {
		return 0, false
	}
	id := q.events[0]
	for i := 0; i < eventQueueCapacity-1; i++ {
		q.events[i] = q.events[i+1]
	}
	q.events[eventQueueCapacity-1] = 0
	q.len--
	return id, true
}

// Snapshot is the wire-stable view of queue contents used by the snapshot
// layer and by host introspection.
type EventQueueSnapshot struct {
	Events [eventQueueCapacity]uint8
	Len    uint8
}

func (q *EventQueue) Snapshot() EventQueueSnapshot {
	return EventQueueSnapshot{Events: q.events, Len: q.len}
}

func (q *EventQueue) restore(s EventQueueSnapshot) {
	q.events = s.Events
	q.len = s.Len
}
