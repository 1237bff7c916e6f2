package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Priority orders queued jobs. Higher values are dequeued first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

var priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority maps a persisted priority name back to its value. Unknown
// names are treated as normal.
func ParsePriority(value string) Priority {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// ErrClosed is returned by Enqueue and Dequeue once the queue is closed.
var ErrClosed = errors.New("queue closed")

// Entry is one queued merge job.
type Entry struct {
	JobID          string
	MergeSessionID string
	Attempt        int
	Priority       Priority
	EnqueuedAt     time.Time
}

// Queue is a strict-priority FIFO queue safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	tiers  map[Priority][]Entry
	queued map[string]struct{}
	ready  chan struct{}
	closed bool
}

// New constructs an empty queue.
func New() *Queue {
	return &Queue{
		tiers:  make(map[Priority][]Entry, len(priorities)),
		queued: make(map[string]struct{}),
		ready:  make(chan struct{}, 1),
	}
}

// Enqueue appends an entry to its priority tier. It returns false without
// error when a job with the same id is already waiting.
func (q *Queue) Enqueue(entry Entry) (bool, error) {
	if strings.TrimSpace(entry.JobID) == "" {
		return false, errors.New("enqueue: job id is required")
	}
	switch entry.Priority {
	case PriorityHigh, PriorityNormal, PriorityLow:
	default:
		entry.Priority = PriorityNormal
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrClosed
	}
	if _, dup := q.queued[entry.JobID]; dup {
		q.mu.Unlock()
		return false, nil
	}
	q.queued[entry.JobID] = struct{}{}
	q.tiers[entry.Priority] = append(q.tiers[entry.Priority], entry)
	q.signal()
	q.mu.Unlock()
	return true, nil
}

// Dequeue blocks until an entry is available, the context ends, or the queue
// is closed.
func (q *Queue) Dequeue(ctx context.Context) (Entry, error) {
	for {
		entry, ok, err := q.pop()
		if err != nil {
			return Entry{}, err
		}
		if ok {
			return entry, nil
		}
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue) pop() (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Entry{}, false, ErrClosed
	}
	for _, p := range priorities {
		tier := q.tiers[p]
		if len(tier) == 0 {
			continue
		}
		entry := tier[0]
		tier[0] = Entry{}
		q.tiers[p] = tier[1:]
		delete(q.queued, entry.JobID)
		if q.lenLocked() > 0 {
			// wake the next waiter; a single buffered token is not enough
			// when several entries arrived back to back
			q.signal()
		}
		return entry, true, nil
	}
	return Entry{}, false, nil
}

// signal must be called with q.mu held so it never races Close.
func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *Queue) lenLocked() int {
	total := 0
	for _, tier := range q.tiers {
		total += len(tier)
	}
	return total
}

// Depths returns the number of waiting entries per priority name.
func (q *Queue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(priorities))
	for _, p := range priorities {
		out[p.String()] = len(q.tiers[p])
	}
	return out
}

// Contains reports whether a job is waiting in the queue.
func (q *Queue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queued[jobID]
	return ok
}

// Close wakes all blocked Dequeue calls with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.ready)
}
