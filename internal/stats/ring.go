package stats

// ring is a fixed-size FIFO buffer. Once full, each push evicts the oldest value.
type ring[T any] struct {
	data  []T
	head  int
	count int
}

func newRing[T any](size int) *ring[T] {
	return &ring[T]{data: make([]T, size)}
}

func (r *ring[T]) push(v T) {
	r.data[r.head] = v
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

func (r *ring[T]) len() int {
	return r.count
}

// values returns a copy of the buffered values, oldest first.
func (r *ring[T]) values() []T {
	out := make([]T, r.count)
	start := (r.head - r.count + len(r.data)) % len(r.data)
	for i := 0; i < r.count; i++ {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}
