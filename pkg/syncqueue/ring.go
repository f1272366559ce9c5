package syncqueue

const minRingCap = 8

// ring is a growable FIFO ring buffer. It is not safe for concurrent use.
type ring[T any] struct {
	buf  []T
	head int
	n    int
}

func (r *ring[T]) len() int { return r.n }

func (r *ring[T]) capacity() int { return len(r.buf) }

func (r *ring[T]) push(v T) {
	if r.n == len(r.buf) {
		r.resize(max(minRingCap, 2*len(r.buf)))
	}
	r.buf[(r.head+r.n)%len(r.buf)] = v
	r.n++
}

func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return v, true
}

// compact shrinks the backing storage to fit the current contents
func (r *ring[T]) compact() {
	if r.n == len(r.buf) {
		return
	}
	if r.n == 0 {
		r.buf, r.head = nil, 0
		return
	}
	r.resize(r.n)
}

// drain removes and returns every entry in FIFO order
func (r *ring[T]) drain() []T {
	out := make([]T, 0, r.n)
	for r.n > 0 {
		v, _ := r.pop()
		out = append(out, v)
	}
	r.buf, r.head = nil, 0
	return out
}

func (r *ring[T]) resize(size int) {
	buf := make([]T, size)
	for i := 0; i < r.n; i++ {
		buf[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.buf, r.head = buf, 0
}
