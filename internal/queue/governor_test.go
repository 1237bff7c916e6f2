package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGovernorCapsConcurrency(t *testing.T) {
	g := NewGovernor(2)
	if g.Capacity() != 2 {
		t.Fatalf("capacity = %d", g.Capacity())
	}

	var (
		active atomic.Int32
		peak   atomic.Int32
		wg     sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer release()
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds capacity", peak.Load())
	}
	if g.InUse() != 0 {
		t.Fatalf("expected all slots released, in use %d", g.InUse())
	}
}

func TestGovernorAcquireCancelled(t *testing.T) {
	g := NewGovernor(1)
	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected free slot: %v", err)
	}
	if g.InUse() != g.Capacity() {
		t.Fatalf("in use %d, capacity %d", g.InUse(), g.Capacity())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx); err == nil {
		t.Fatal("expected acquire to fail when context expires")
	}
	if g.Waiting() != 0 {
		t.Fatalf("waiting = %d", g.Waiting())
	}

	release()
	release()
	if g.InUse() != 0 {
		t.Fatalf("double release changed accounting: %d", g.InUse())
	}
	again, cancelAgain := context.WithTimeout(context.Background(), time.Second)
	defer cancelAgain()
	if _, err := g.Acquire(again); err != nil {
		t.Fatalf("expected slot after release: %v", err)
	}
}
