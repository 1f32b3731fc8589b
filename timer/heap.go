// Package timer implements the indexed min-heap that tracks connection
// expirations. Every entry carries a ClientData token whose Slot field is
// kept equal to the entry's current array position, so an arbitrary entry
// can be adjusted or deleted in O(log n) without searching.
package timer

import (
	"errors"
	"fmt"
	"time"
)

const (
	DEFAULT_HEAP_CAPACITY = 64
)

var (
	ErrCapacity = errors.New("timer: capacity smaller than size")
	ErrNilTimer = errors.New("timer: nil timer or client data")
)

// ClientData is the liveness token shared by a connection and its timer.
// Slot is 0 while the token is not in a heap.
type ClientData struct {
	Addr string
	Fd   int
	Slot int
	Data interface{}
}

// Callback is invoked with the token when a timer is retired. It must not
// add to or delete from the heap that is invoking it.
type Callback func(data *ClientData)

type HeapTimer struct {
	Expire   time.Time
	Callback Callback
	Data     *ClientData
}

func NewHeapTimer(expire time.Time, cb Callback, data *ClientData) *HeapTimer {
	return &HeapTimer{Expire: expire, Callback: cb, Data: data}
}

func (t *HeapTimer) fire() {
	if t.Callback != nil {
		t.Callback(t.Data)
	}
}

// TimerHeap is a 1-indexed binary min-heap ordered by Expire. array[0] is
// never used.
type TimerHeap struct {
	array    []*HeapTimer
	size     int
	capacity int
	renewal  time.Duration
}

// NewTimerHeap creates an empty heap. renewal is the increment applied by
// Adjust.
func NewTimerHeap(capacity int, renewal time.Duration) *TimerHeap {
	if capacity <= 0 {
		capacity = DEFAULT_HEAP_CAPACITY
	}
	return &TimerHeap{
		array:    make([]*HeapTimer, capacity+1),
		capacity: capacity,
		renewal:  renewal,
	}
}

// NewTimerHeapFrom builds a heap over an initial set of timers. It fails with
// ErrCapacity when capacity cannot hold them.
func NewTimerHeapFrom(timers []*HeapTimer, capacity int, renewal time.Duration) (*TimerHeap, error) {
	if capacity < len(timers) {
		return nil, fmt.Errorf("%w: capacity %d, size %d", ErrCapacity, capacity, len(timers))
	}
	if capacity <= 0 {
		capacity = DEFAULT_HEAP_CAPACITY
	}
	var h = &TimerHeap{
		array:    make([]*HeapTimer, capacity+1),
		size:     len(timers),
		capacity: capacity,
		renewal:  renewal,
	}
	for i, t := range timers {
		if t == nil || t.Data == nil {
			return nil, ErrNilTimer
		}
		h.array[i+1] = t
		t.Data.Slot = i + 1
	}
	for i := h.size / 2; i > 0; i-- {
		h.siftDown(i)
	}
	return h, nil
}

func (h *TimerHeap) Len() int {
	return h.size
}

func (h *TimerHeap) Cap() int {
	return h.capacity
}

func (h *TimerHeap) Renewal() time.Duration {
	return h.renewal
}

// At returns the timer stored at slot, or nil for an invalid slot.
func (h *TimerHeap) At(slot int) *HeapTimer {
	if slot <= 0 || slot > h.size {
		return nil
	}
	return h.array[slot]
}

// Add inserts t, doubling the capacity when the heap is full.
func (h *TimerHeap) Add(t *HeapTimer) error {
	if t == nil || t.Data == nil {
		return ErrNilTimer
	}
	if h.size >= h.capacity {
		h.grow()
	}
	h.size++
	h.array[h.size] = t
	t.Data.Slot = h.size
	h.siftUp(h.size)
	return nil
}

// Adjust pushes the timer at slot back by the renewal increment. The key only
// grows, so sifting down is enough.
func (h *TimerHeap) Adjust(slot int) {
	if slot <= 0 || slot > h.size {
		return
	}
	h.array[slot].Expire = h.array[slot].Expire.Add(h.renewal)
	h.siftDown(slot)
}

// Delete fires the timer at slot and removes it.
func (h *TimerHeap) Delete(slot int) {
	if slot <= 0 || slot > h.size {
		return
	}
	var t = h.array[slot]
	t.fire()
	h.removeAt(slot)
}

// PopMin fires the earliest timer and removes it.
func (h *TimerHeap) PopMin() {
	if h.size == 0 {
		return
	}
	var t = h.array[1]
	t.fire()
	h.removeAt(1)
}

// Sweep retires every timer whose expiry is not after now and returns how
// many were retired. A delayed or coalesced tick is caught up in one call.
func (h *TimerHeap) Sweep(now time.Time) int {
	var n int
	for h.size > 0 {
		if h.array[1].Expire.After(now) {
			break
		}
		h.PopMin()
		n++
	}
	return n
}

// Top returns the earliest timer without removing it.
func (h *TimerHeap) Top() *HeapTimer {
	if h.size == 0 {
		return nil
	}
	return h.array[1]
}

// NextDelay is the time from now until the earliest expiry, clamped to zero.
// ok is false for an empty heap.
func (h *TimerHeap) NextDelay(now time.Time) (d time.Duration, ok bool) {
	var t = h.Top()
	if t == nil {
		return 0, false
	}
	d = t.Expire.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Verify checks heap order and every back-pointer.
func (h *TimerHeap) Verify() error {
	for i := 1; i <= h.size; i++ {
		var t = h.array[i]
		if t.Data.Slot != i {
			return fmt.Errorf("timer: slot %d holds token pointing at %d", i, t.Data.Slot)
		}
		if i > 1 && t.Expire.Before(h.array[i/2].Expire) {
			return fmt.Errorf("timer: slot %d expires before parent %d", i, i/2)
		}
	}
	return nil
}

func (h *TimerHeap) removeAt(slot int) {
	var removed = h.array[slot]
	var last = h.array[h.size]
	h.array[h.size] = nil
	h.size--
	removed.Data.Slot = 0
	if slot > h.size {
		return
	}
	h.array[slot] = last
	last.Data.Slot = slot
	h.siftDown(slot)
	h.siftUp(last.Data.Slot)
}

func (h *TimerHeap) grow() {
	var capacity = h.capacity * 2
	if capacity == 0 {
		capacity = DEFAULT_HEAP_CAPACITY
	}
	var array = make([]*HeapTimer, capacity+1)
	copy(array, h.array[:h.size+1])
	h.array = array
	h.capacity = capacity
}

func (h *TimerHeap) siftUp(k int) {
	var t = h.array[k]
	for i := k / 2; i > 0; i /= 2 {
		if !t.Expire.Before(h.array[i].Expire) {
			break
		}
		h.array[k] = h.array[i]
		h.array[k].Data.Slot = k
		k = i
	}
	h.array[k] = t
	t.Data.Slot = k
}

func (h *TimerHeap) siftDown(k int) {
	var t = h.array[k]
	for i := 2 * k; i <= h.size; i *= 2 {
		if i < h.size && h.array[i+1].Expire.Before(h.array[i].Expire) {
			i++
		}
		if t.Expire.Before(h.array[i].Expire) {
			break
		}
		h.array[k] = h.array[i]
		h.array[k].Data.Slot = k
		k = i
	}
	h.array[k] = t
	t.Data.Slot = k
}
