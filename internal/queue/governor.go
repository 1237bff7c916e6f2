package queue

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Governor caps concurrent use of the compression stage.
type Governor struct {
	sem      *semaphore.Weighted
	capacity int64
	inUse    atomic.Int64
	waiting  atomic.Int64
}

// NewGovernor returns a governor with the given number of slots (minimum 1).
func NewGovernor(slots int) *Governor {
	if slots < 1 {
		slots = 1
	}
	return &Governor{sem: semaphore.NewWeighted(int64(slots)), capacity: int64(slots)}
}

// Acquire blocks until a slot is free or ctx ends. The returned release func
// is safe to call more than once.
func (g *Governor) Acquire(ctx context.Context) (func(), error) {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return nil, err
	}
	return g.releaser(), nil
}

func (g *Governor) releaser() func() {
	g.inUse.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.inUse.Add(-1)
			g.sem.Release(1)
		}
	}
}

// InUse returns the number of held slots.
func (g *Governor) InUse() int {
	return int(g.inUse.Load())
}

// Waiting returns the number of callers blocked in Acquire.
func (g *Governor) Waiting() int {
	return int(g.waiting.Load())
}

// Capacity returns the slot count.
func (g *Governor) Capacity() int {
	return int(g.capacity)
}
