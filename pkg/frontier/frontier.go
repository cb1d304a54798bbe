// Package frontier implements the bounded FIFO work queue shared by crawl workers.
package frontier

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrClosed is returned by Push and Pop once the queue has been shut down.
	ErrClosed = errors.New("frontier: closed")

	// ErrEmpty is returned by Pop once the frontier is permanently drained:
	// the queue is empty and every worker is waiting on it.
	ErrEmpty = errors.New("frontier: drained")

	// ErrFull is returned by Push when the item was rejected by the overflow policy.
	ErrFull = errors.New("frontier: full")
)

// WorkItem is a URL waiting to be fetched together with its BFS distance from the seed.
type WorkItem struct {
	URL   string
	Depth int
}

// Overflow selects what Push does when the queue is at capacity.
type Overflow int

const (
	// Block waits for a Pop to free space. The last worker that would block
	// has its item rejected instead, so full blocking never becomes permanent.
	Block Overflow = iota
	// DropNew rejects the item being pushed.
	DropNew
	// DropOldest evicts the head of the queue to make room.
	DropOldest
)

func (o Overflow) String() string {
	switch o {
	case Block:
		return "block"
	case DropNew:
		return "drop-new"
	case DropOldest:
		return "drop-oldest"
	default:
		return fmt.Sprintf("overflow(%d)", int(o))
	}
}

// ParseOverflow parses the configuration name of an overflow policy.
func ParseOverflow(s string) (Overflow, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return Block, nil
	case "drop-new", "drop_new", "dropnew":
		return DropNew, nil
	case "drop-oldest", "drop_oldest", "dropoldest":
		return DropOldest, nil
	}
	return Block, fmt.Errorf("unknown overflow policy %q", s)
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Peak      int    `json:"peak"`
	Pushed    uint64 `json:"pushed"`
	Popped    uint64 `json:"popped"`
	Dropped   uint64 `json:"dropped"`
	Abandoned uint64 `json:"abandoned"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers tells the queue how many workers share it. It enables drain
// detection in Pop and the liveness guard of the Block policy.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithOverflow sets the policy applied when the queue is full.
func WithOverflow(o Overflow) Option {
	return func(q *Queue) {
		q.overflow = o
	}
}

// Queue is a bounded FIFO of WorkItems. All methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	// ring buffer
	items []WorkItem
	head  int
	size  int

	workers  int
	overflow Overflow

	waitingPop  int
	waitingPush int
	closed      bool
	drained     bool

	stats Stats
}

// New creates a queue holding at most capacity items. Capacity below 1 is raised to 1.
func New(capacity int, opts ...Option) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{items: make([]WorkItem, capacity)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends item to the tail of the queue.
func (q *Queue) Push(item WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == len(q.items) {
		if q.closed || q.drained {
			return ErrClosed
		}
		switch q.overflow {
		case DropNew:
			q.stats.Dropped++
			return ErrFull
		case DropOldest:
			q.removeHead()
			q.stats.Dropped++
		default:
			if q.workers > 0 && q.waitingPush+1 >= q.workers {
				q.stats.Dropped++
				return ErrFull
			}
			q.waitingPush++
			q.notFull.Wait()
			q.waitingPush--
		}
	}
	if q.closed || q.drained {
		return ErrClosed
	}

	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	q.stats.Pushed++
	if q.size > q.stats.Peak {
		q.stats.Peak = q.size
	}
	q.notEmpty.Signal()
	return nil
}

// Pop removes and returns the head of the queue, blocking while it is empty.
// ErrClosed and ErrEmpty are terminal: every later call returns the same error.
func (q *Queue) Pop() (WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 {
		if q.closed {
			return WorkItem{}, ErrClosed
		}
		if q.drained {
			return WorkItem{}, ErrEmpty
		}
		if q.workers > 0 && q.waitingPop+1 >= q.workers && q.waitingPush == 0 {
			// Nobody is left to push.
			q.drained = true
			q.notEmpty.Broadcast()
			q.notFull.Broadcast()
			return WorkItem{}, ErrEmpty
		}
		q.waitingPop++
		q.notEmpty.Wait()
		q.waitingPop--
	}

	item := q.removeHead()
	q.stats.Popped++
	q.notFull.Signal()
	return item, nil
}

// Close signals shutdown. Pending items are abandoned, every blocked caller
// is woken and later calls fail with ErrClosed. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.stats.Abandoned += uint64(q.size)
	clear(q.items)
	q.head, q.size = 0, 0
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drained reports whether Pop has detected that the frontier is permanently empty.
func (q *Queue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drained
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.items)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// removeHead must be called with mu held and size > 0.
func (q *Queue) removeHead() WorkItem {
	item := q.items[q.head]
	q.items[q.head] = WorkItem{}
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item
}
