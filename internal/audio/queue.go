package audio

import (
	"fmt"
	"sync"
	"time"
)

// QueuePolicy decides what Push does when the queue is full
type QueuePolicy int

const (
	// DropOldest evicts the head to make room for the new utterance
	DropOldest QueuePolicy = iota
	// DropNewest rejects the new utterance
	DropNewest
	// Unbounded never drops; capacity is only the initial allocation
	Unbounded
)

// ParseQueuePolicy maps a config value to a QueuePolicy
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch s {
	case "drop_oldest", "":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	case "unbounded":
		return Unbounded, nil
	default:
		return DropOldest, fmt.Errorf("unknown queue policy %q", s)
	}
}

func (p QueuePolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case Unbounded:
		return "unbounded"
	default:
		return fmt.Sprintf("QueuePolicy(%d)", int(p))
	}
}

// UtteranceQueue hands utterances from the capture callback to the consumer.
// Push never blocks; Pop waits at most the given timeout.
type UtteranceQueue struct {
	items    []*Utterance
	capacity int
	policy   QueuePolicy
	ready    chan struct{}

	pushed  uint64
	popped  uint64
	dropped uint64

	mu sync.Mutex
}

// QueueStats represents queue statistics
type QueueStats struct {
	Length   int    `json:"length"`
	Capacity int    `json:"capacity"`
	Policy   string `json:"policy"`
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
}

// NewUtteranceQueue creates a queue with the given capacity and overflow policy
func NewUtteranceQueue(capacity int, policy QueuePolicy) *UtteranceQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &UtteranceQueue{
		items:    make([]*Utterance, 0, capacity),
		capacity: capacity,
		policy:   policy,
		ready:    make(chan struct{}, 1),
	}
}

// Push enqueues u and returns the utterance that was dropped to honor the
// capacity, if any. Under DropNewest the dropped utterance is u itself.
func (q *UtteranceQueue) Push(u *Utterance) (dropped *Utterance) {
	q.mu.Lock()
	if q.policy != Unbounded && len(q.items) >= q.capacity {
		q.dropped++
		if q.policy == DropNewest {
			q.mu.Unlock()
			return u
		}
		dropped = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
	}
	q.items = append(q.items, u)
	q.pushed++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// Pop returns the oldest utterance, waiting up to timeout for one to arrive.
// The boolean is false when nothing became available.
func (q *UtteranceQueue) Pop(timeout time.Duration) (*Utterance, bool) {
	if u, ok := q.tryPop(); ok || timeout <= 0 {
		return u, ok
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.ready:
			if u, ok := q.tryPop(); ok {
				return u, true
			}
		case <-timer.C:
			return q.tryPop()
		}
	}
}

func (q *UtteranceQueue) tryPop() (*Utterance, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	u := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.popped++
	return u, true
}

// Clear drops all queued utterances and returns how many were removed
func (q *UtteranceQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = make([]*Utterance, 0, q.capacity)
	return n
}

// Len returns the number of queued utterances
func (q *UtteranceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// GetStats returns current queue statistics
func (q *UtteranceQueue) GetStats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStats{
		Length:   len(q.items),
		Capacity: q.capacity,
		Policy:   q.policy.String(),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
	}
}
