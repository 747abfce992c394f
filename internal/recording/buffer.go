package recording

import "sync"

const DefaultMaxBufferedChunks = 500

// Buffer is a FIFO of audio chunks between the capture goroutine and the
// chunk reader. Push never blocks: once capacity is reached the oldest chunk
// is discarded, since a full buffer means the consumer has stalled.
type Buffer struct {
	mu      sync.Mutex
	chunks  [][]byte
	head    int
	n       int
	dropped uint64
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultMaxBufferedChunks
	}
	return &Buffer{chunks: make([][]byte, capacity)}
}

// Push appends a chunk and reports whether an older chunk had to be dropped.
func (b *Buffer) Push(chunk []byte) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.chunks)
	if b.n == capacity {
		b.chunks[b.head] = nil
		b.head = (b.head + 1) % capacity
		b.n--
		b.dropped++
		dropped = true
	}
	b.chunks[(b.head+b.n)%capacity] = chunk
	b.n++
	return dropped
}

// Pop returns the oldest chunk, or false when the buffer is empty.
func (b *Buffer) Pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.n == 0 {
		return nil, false
	}
	chunk := b.chunks[b.head]
	b.chunks[b.head] = nil
	b.head = (b.head + 1) % len(b.chunks)
	b.n--
	return chunk, true
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

func (b *Buffer) Cap() int {
	return len(b.chunks)
}

// Dropped returns the total number of chunks discarded on overflow.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
