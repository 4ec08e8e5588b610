package service

import (
	"context"
	"sync"
)

// KeyedQueue hands out turns per key in the order Reserve is called, so work
// reserved on one goroutine can run on many while still finishing in order.
type KeyedQueue struct {
	mu     sync.Mutex
	chains map[string]chan struct{}
}

type Turn struct {
	queue    *KeyedQueue
	key      string
	previous chan struct{}
	next     chan struct{}
	once     sync.Once
}

func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{chains: map[string]chan struct{}{}}
}

func (q *KeyedQueue) Reserve(key string) *Turn {
	q.mu.Lock()
	defer q.mu.Unlock()
	turn := &Turn{queue: q, key: key, previous: q.chains[key], next: make(chan struct{})}
	q.chains[key] = turn.next
	return turn
}

// Wait blocks until every earlier turn for the same key is done.
func (t *Turn) Wait(ctx context.Context) error {
	if t == nil || t.previous == nil {
		return nil
	}
	select {
	case <-t.previous:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Turn) Done() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		close(t.next)
		t.queue.mu.Lock()
		if t.queue.chains[t.key] == t.next {
			delete(t.queue.chains, t.key)
		}
		t.queue.mu.Unlock()
	})
}
