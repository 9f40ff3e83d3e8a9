package timedwindow

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquireAdmitsUpToLimit(t *testing.T) {
	w := New(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := w.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if w.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", w.Remaining())
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := w.Acquire(ctx); err == nil {
		t.Fatal("expected 4th acquire to block past the deadline")
	}
}

func TestSlotReleasesIndependentlyAfterWindow(t *testing.T) {
	w := New(1, 30*time.Millisecond)
	ctx := context.Background()

	if err := w.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if w.TryAcquire() {
		t.Fatal("second acquire should not succeed before the window elapses")
	}

	time.Sleep(50 * time.Millisecond)

	if !w.TryAcquire() {
		t.Fatal("slot should have released itself after its own window elapsed")
	}
}

func TestResetReturnsAllSlots(t *testing.T) {
	w := New(2, time.Hour)
	ctx := context.Background()
	_ = w.Acquire(ctx)
	_ = w.Acquire(ctx)

	w.Reset()

	if w.Remaining() != 2 {
		t.Fatalf("expected 2 remaining after reset, got %d", w.Remaining())
	}
}

func TestCloseWakesBlockedAcquires(t *testing.T) {
	w := New(1, time.Hour)
	ctx := context.Background()
	_ = w.Acquire(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		errCh <- w.Acquire(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	w.Close()
	wg.Wait()

	if err := <-errCh; err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBlockedAcquireWaitsForSlotRelease(t *testing.T) {
	w := New(1, 20*time.Millisecond)
	ctx := context.Background()
	_ = w.Acquire(ctx)

	start := time.Now()
	if err := w.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected second acquire to wait roughly a window, took %v", elapsed)
	}
}
