package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunProcessesAllItems(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}

	var mu sync.Mutex
	seen := make(map[int]bool)

	err := Run(context.Background(), items, 3, func(_ context.Context, n int) error {
		mu.Lock()
		seen[n] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(seen) != len(items) {
		t.Errorf("processed %d items, want %d", len(seen), len(items))
	}
}

func TestRunReturnsFirstError(t *testing.T) {
	wantErr := errors.New("bad item")

	err := Run(context.Background(), []int{1, 2, 3}, 1, func(_ context.Context, n int) error {
		if n == 2 {
			return wantErr
		}
		return nil
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestRunEmptyItems(t *testing.T) {
	called := false
	err := Run(context.Background(), nil, 4, func(_ context.Context, _ int) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if called {
		t.Error("fn should not run for empty input")
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var count atomic.Int32
	err := Run(ctx, []int{1, 2, 3, 4}, 2, func(_ context.Context, _ int) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if count.Load() != 0 {
		t.Errorf("processed %d items after cancellation, want 0", count.Load())
	}
}
