// Package blockqueue provides a bounded, blocking FIFO queue safe for use by
// many producers and consumers.
package blockqueue

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

var (
	ErrCapacity = errors.New("blockqueue: capacity must be positive")
)

type BlockQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    *queue.Queue
	capacity int
	closed   bool
}

func New[T any](capacity int) (*BlockQueue[T], error) {
	if capacity <= 0 {
		return nil, ErrCapacity
	}
	var q = &BlockQueue[T]{
		items:    queue.New(),
		capacity: capacity,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q, nil
}

// Push blocks while the queue is full. It returns false once the queue is
// closed.
func (q *BlockQueue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.items.Length() >= q.capacity {
		q.notFull.Wait()
	}
	if q.closed {
		return false
	}
	q.items.Add(item)
	q.notEmpty.Signal()
	return true
}

// TryPush never blocks; it reports false when the queue is full or closed.
func (q *BlockQueue[T]) TryPush(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.items.Length() >= q.capacity {
		return false
	}
	q.items.Add(item)
	q.notEmpty.Signal()
	return true
}

// Pop blocks until an item is available. After Close it keeps returning the
// remaining items and then reports false.
func (q *BlockQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.items.Length() == 0 {
		q.notEmpty.Wait()
	}
	return q.removeLocked()
}

func (q *BlockQueue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked()
}

func (q *BlockQueue[T]) Front() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.items.Length() == 0 {
		return zero, false
	}
	return q.items.Peek().(T), true
}

func (q *BlockQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *BlockQueue[T]) Cap() int {
	return q.capacity
}

func (q *BlockQueue[T]) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length() >= q.capacity
}

// Close wakes every blocked producer and consumer.
func (q *BlockQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

func (q *BlockQueue[T]) removeLocked() (T, bool) {
	var zero T
	if q.items.Length() == 0 {
		return zero, false
	}
	var item = q.items.Remove().(T)
	q.notFull.Signal()
	return item, true
}
