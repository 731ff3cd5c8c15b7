package pipeline

// Ring is a fixed-capacity sliding window of float64 values. Once full,
// every Push evicts exactly one element, the oldest.
//
// Ring is not safe for concurrent use; [Buffers] serialises access.
type Ring struct {
	data []float64
	head int // index of the oldest element
	size int
}

// NewRing returns an empty ring holding at most capacity values.
// It panics if capacity < 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		panic("pipeline: ring capacity must be positive")
	}
	return &Ring{data: make([]float64, capacity)}
}

// Push appends v, evicting the oldest value when the ring is full.
func (r *Ring) Push(v float64) {
	if r.size < len(r.data) {
		r.data[(r.head+r.size)%len(r.data)] = v
		r.size++
		return
	}
	r.data[r.head] = v
	r.head = (r.head + 1) % len(r.data)
}

// Len returns the number of values currently held.
func (r *Ring) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring) Cap() int { return len(r.data) }

// At returns the i-th value, oldest first. It panics if i is out of range.
func (r *Ring) At(i int) float64 {
	if i < 0 || i >= r.size {
		panic("pipeline: ring index out of range")
	}
	return r.data[(r.head+i)%len(r.data)]
}

// Values returns a copy of the contents, oldest first.
func (r *Ring) Values() []float64 {
	return r.Last(r.size)
}

// Last returns a copy of the newest n values, oldest first. If fewer than n
// values are held, all of them are returned.
func (r *Ring) Last(n int) []float64 {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	start := (r.head + r.size - n) % len(r.data)
	first := copy(out, r.data[start:min(start+n, len(r.data))])
	copy(out[first:], r.data[:n-first])
	return out
}

// Reset empties the ring without releasing its storage.
func (r *Ring) Reset() {
	r.head = 0
	r.size = 0
}
