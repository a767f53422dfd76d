// Package iobuff queues complex samples between differently sized blocks.
package iobuff

// FIFO is a growable first-in first-out sample queue. It is not safe for
// concurrent use; channels guard it with their own lock.
type FIFO struct {
	data      []complex64
	head      int
	underruns uint64
}

func NewFIFO(capacity int) *FIFO {
	return &FIFO{data: make([]complex64, 0, capacity)}
}

// Len is the number of queued samples.
func (f *FIFO) Len() int {
	return len(f.data) - f.head
}

// Write queues all of samples.
func (f *FIFO) Write(samples []complex64) {
	if len(samples) == 0 {
		return
	}
	f.compact(len(samples))
	f.data = append(f.data, samples...)
}

// Prefill queues n zero samples.
func (f *FIFO) Prefill(n int) {
	if n <= 0 {
		return
	}
	f.compact(n)
	for i := 0; i < n; i++ {
		f.data = append(f.data, 0)
	}
}

// Read dequeues up to len(dst) samples into dst and returns the count. A
// short read counts as an underrun.
func (f *FIFO) Read(dst []complex64) int {
	n := copy(dst, f.data[f.head:])
	f.head += n
	if n < len(dst) {
		f.underruns++
	}
	if f.head == len(f.data) {
		f.data = f.data[:0]
		f.head = 0
	}
	return n
}

// Peek copies up to len(dst) queued samples into dst without dequeuing them.
func (f *FIFO) Peek(dst []complex64) int {
	return copy(dst, f.data[f.head:])
}

// Discard drops up to n samples and returns how many were dropped.
func (f *FIFO) Discard(n int) int {
	if n > f.Len() {
		n = f.Len()
	}
	f.head += n
	if f.head == len(f.data) {
		f.data = f.data[:0]
		f.head = 0
	}
	return n
}

// Reset empties the queue. Underrun counts are kept.
func (f *FIFO) Reset() {
	f.data = f.data[:0]
	f.head = 0
}

func (f *FIFO) Underruns() uint64 {
	return f.underruns
}

// compact slides queued samples to the front when the spare room at the tail
// cannot take n more without growing.
func (f *FIFO) compact(n int) {
	if f.head == 0 || cap(f.data)-len(f.data) >= n {
		return
	}
	live := copy(f.data, f.data[f.head:])
	f.data = f.data[:live]
	f.head = 0
}
