package containers

// CountdownList holds values that each wait for a number of ticks before
// being released. Release order is not preserved.
type CountdownList[T any] struct {
	items  []T
	counts []uint32
}

func NewCountdownList[T any](capacity int) *CountdownList[T] {
	return &CountdownList[T]{
		items:  make([]T, 0, capacity),
		counts: make([]uint32, 0, capacity),
	}
}

// Push appends value with the given countdown.
func (cl *CountdownList[T]) Push(value T, countdown uint32) {
	cl.items = append(cl.items, value)
	cl.counts = append(cl.counts, countdown)
}

// Tick visits every entry once: entries at zero are handed to release and
// removed, the others are decremented. It returns the number released.
func (cl *CountdownList[T]) Tick(release func(T)) int {
	released := 0
	// Walk back to front so that a swap-remove only ever moves an entry that
	// has already been visited.
	for i := len(cl.items) - 1; i >= 0; i-- {
		if cl.counts[i] > 0 {
			cl.counts[i]--
			continue
		}
		release(cl.items[i])
		released++

		last := len(cl.items) - 1
		cl.items[i] = cl.items[last]
		cl.counts[i] = cl.counts[last]
		var zero T
		cl.items[last] = zero
		cl.items = cl.items[:last]
		cl.counts = cl.counts[:last]
	}
	return released
}

// Len returns the number of entries still waiting.
func (cl *CountdownList[T]) Len() int {
	return len(cl.items)
}

// IsEmpty checks if the list has no pending entries
func (cl *CountdownList[T]) IsEmpty() bool {
	return len(cl.items) == 0
}

// Countdowns returns a copy of the remaining countdowns, in storage order.
func (cl *CountdownList[T]) Countdowns() []uint32 {
	out := make([]uint32, len(cl.counts))
	copy(out, cl.counts)
	return out
}

// Reset drops every entry without releasing it.
func (cl *CountdownList[T]) Reset() {
	clear(cl.items)
	cl.items = cl.items[:0]
	cl.counts = cl.counts[:0]
}
