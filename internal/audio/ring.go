package audio

import "sync/atomic"

// RingBuffer is a lock-free single-producer, single-consumer float32 queue.
//
// The backing array holds capacity+1 slots; one is always left empty so that
// head == tail means empty and head+1 == tail (mod size) means full.
//
// Thread assignment:
//   - Write: producer only
//   - Read, Discard: consumer only
//   - Clear: consumer, or any goroutine while the consumer is paused
//   - Available: either side
type RingBuffer struct {
	head atomic.Uint64 // next write slot
	_    [56]byte
	tail atomic.Uint64 // next read slot
	_    [56]byte

	buf  []float32
	size uint64
}

// NewRingBuffer creates a ring that stores up to capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		buf:  make([]float32, capacity+1),
		size: uint64(capacity + 1),
	}
}

// Capacity returns the number of samples the ring can hold.
func (rb *RingBuffer) Capacity() int {
	return int(rb.size - 1)
}

// Write copies as many leading samples as fit and drops the rest.
// Returns the number of samples written. Never blocks.
func (rb *RingBuffer) Write(samples []float32) int {
	h := rb.head.Load()
	t := rb.tail.Load()

	free := rb.size - 1 - rb.used(h, t)
	n := uint64(len(samples))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	first := rb.size - h
	if first >= n {
		copy(rb.buf[h:h+n], samples[:n])
	} else {
		copy(rb.buf[h:], samples[:first])
		copy(rb.buf[:n-first], samples[first:n])
	}

	rb.head.Store((h + n) % rb.size)
	return int(n)
}

// Read drains up to len(out) samples into out and returns how many were
// copied. The remainder of out is left untouched.
func (rb *RingBuffer) Read(out []float32) int {
	t := rb.tail.Load()
	h := rb.head.Load()

	n := uint64(len(out))
	if avail := rb.used(h, t); n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}

	first := rb.size - t
	if first >= n {
		copy(out[:n], rb.buf[t:t+n])
	} else {
		copy(out[:first], rb.buf[t:])
		copy(out[first:n], rb.buf[:n-first])
	}

	rb.tail.Store((t + n) % rb.size)
	return int(n)
}

// Discard drops up to n of the oldest samples and returns how many were
// dropped.
func (rb *RingBuffer) Discard(n int) int {
	if n <= 0 {
		return 0
	}
	t := rb.tail.Load()
	h := rb.head.Load()
	k := uint64(n)
	if avail := rb.used(h, t); k > avail {
		k = avail
	}
	rb.tail.Store((t + k) % rb.size)
	return int(k)
}

// Available returns the number of buffered samples.
func (rb *RingBuffer) Available() int {
	return int(rb.used(rb.head.Load(), rb.tail.Load()))
}

// Clear empties the ring by moving the read cursor to the write cursor.
func (rb *RingBuffer) Clear() {
	rb.tail.Store(rb.head.Load())
}

func (rb *RingBuffer) used(h, t uint64) uint64 {
	return (h + rb.size - t) % rb.size
}
