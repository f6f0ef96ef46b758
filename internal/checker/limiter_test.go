package checker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiter_BoundsSlots(t *testing.T) {
	l := NewLimiter(2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if l.InUse() != 2 {
		t.Errorf("expected 2 slots in use, got %d", l.InUse())
	}
	if l.TryAcquire() {
		t.Fatal("expected no third slot")
	}

	l.Release()
	if !l.TryAcquire() {
		t.Fatal("expected a slot after release")
	}
	l.Release()
	l.Release()
	if l.InUse() != 0 {
		t.Errorf("expected no slots in use, got %d", l.InUse())
	}
}

func TestLimiter_AcquireHonoursContext(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if l.InUse() != 1 {
		t.Errorf("a failed acquire must not hold a slot, got %d in use", l.InUse())
	}
}

func TestLimiter_WakesWaiter(t *testing.T) {
	l := NewLimiter(1)
	l.Acquire(context.Background())

	acquired := make(chan struct{})
	go func() {
		if err := l.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired a slot that was still held")
	case <-time.After(20 * time.Millisecond):
	}

	l.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken after release")
	}
}

func TestNewLimiter_MinimumSize(t *testing.T) {
	if got := NewLimiter(0).Size(); got != 1 {
		t.Errorf("expected size 1, got %d", got)
	}
}
