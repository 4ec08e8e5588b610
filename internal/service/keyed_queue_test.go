package service

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyedQueueRunsTurnsInReservationOrder(t *testing.T) {
	queue := NewKeyedQueue()
	turns := []*Turn{queue.Reserve("dest"), queue.Reserve("dest"), queue.Reserve("dest")}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	// Start in reverse so goroutine scheduling alone would get it wrong.
	for i := len(turns) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer turns[i].Done()
			if err := turns[i].Wait(context.Background()); err != nil {
				t.Errorf("wait turn %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("expected order [0 1 2], got %v", order)
		}
	}
	if len(queue.chains) != 0 {
		t.Fatalf("expected queue to be empty after all turns, got %d chains", len(queue.chains))
	}
}

func TestKeyedQueueWaitHonoursContext(t *testing.T) {
	queue := NewKeyedQueue()
	first := queue.Reserve("dest")
	second := queue.Reserve("dest")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := second.Wait(ctx); err == nil {
		t.Fatalf("expected cancelled wait to fail while first turn is open")
	}
	first.Done()
	second.Done()
}

func TestKeyedQueueKeysAreIndependent(t *testing.T) {
	queue := NewKeyedQueue()
	blocked := queue.Reserve("a")
	defer blocked.Done()
	queue.Reserve("a")

	other := queue.Reserve("b")
	defer other.Done()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := other.Wait(ctx); err != nil {
		t.Fatalf("expected key b to proceed while a is held, got %v", err)
	}
}
