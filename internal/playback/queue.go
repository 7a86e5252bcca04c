package playback

import "sync"

// Queue is a bounded FIFO of replies consumed one at a time by the presentation
// layer. The head is the message currently playing.
type Queue struct {
	mu      sync.RWMutex
	items   []Message
	maxSize int
	dropped int
}

// NewQueue creates a queue holding at most maxSize messages.
func NewQueue(maxSize int) *Queue {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Queue{
		items:   make([]Message, 0, maxSize+1),
		maxSize: maxSize,
	}
}

// Push appends a message. When full, the oldest message waiting behind the
// head is dropped; the head keeps playing. It reports whether m was kept.
func (q *Queue) Push(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, m)
	if len(q.items) <= q.maxSize {
		return true
	}
	q.dropped++
	last := len(q.items) - 1
	copy(q.items[1:], q.items[2:])
	q.items[last] = Message{}
	q.items = q.items[:last]
	return q.maxSize > 1
}

// Current returns the message at the head of the queue.
func (q *Queue) Current() (Message, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.items) == 0 {
		return Message{}, false
	}
	return q.items[0], true
}

// Played drops the head message. It returns the new head, if any.
func (q *Queue) Played() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		q.items[0] = Message{}
		q.items = q.items[1:]
	}
	if len(q.items) == 0 {
		return Message{}, false
	}
	return q.items[0], true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Dropped returns how many messages were evicted because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dropped
}
