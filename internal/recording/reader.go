package recording

import (
	"context"
	"time"
)

const DefaultPollInterval = 10 * time.Millisecond

// Reader pulls chunks from a Buffer, sleeping briefly while it is empty.
type Reader struct {
	buf      *Buffer
	interval time.Duration
}

func NewReader(buf *Buffer, interval time.Duration) *Reader {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Reader{buf: buf, interval: interval}
}

// Next blocks until a chunk is available or ctx is done.
func (r *Reader) Next(ctx context.Context) ([]byte, error) {
	for {
		if chunk, ok := r.buf.Pop(); ok {
			return chunk, nil
		}

		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
