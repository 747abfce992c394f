package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func chunkOf(i int) []byte {
	return []byte(fmt.Sprintf("chunk-%04d", i))
}

func TestBuffer_FIFO(t *testing.T) {
	buf := NewBuffer(16)

	// Interleave pushes and pops; pops must follow push order exactly once.
	next := 0
	var got []string
	for round := 0; round < 10; round++ {
		for i := 0; i < round%4+1; i++ {
			buf.Push(chunkOf(next))
			next++
		}
		for i := 0; i < round%3; i++ {
			if c, ok := buf.Pop(); ok {
				got = append(got, string(c))
			}
		}
	}
	for {
		c, ok := buf.Pop()
		if !ok {
			break
		}
		got = append(got, string(c))
	}

	if len(got) != next {
		t.Fatalf("popped %d chunks, pushed %d", len(got), next)
	}
	for i, c := range got {
		if c != string(chunkOf(i)) {
			t.Errorf("pop %d = %q, want %q", i, c, chunkOf(i))
		}
	}
}

func TestBuffer_PopEmpty(t *testing.T) {
	buf := NewBuffer(2)
	if _, ok := buf.Pop(); ok {
		t.Error("Pop() on empty buffer should report false")
	}
	if buf.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buf.Len())
	}
}

func TestBuffer_DropsOldestOnOverflow(t *testing.T) {
	buf := NewBuffer(3)

	for i := 0; i < 3; i++ {
		if buf.Push(chunkOf(i)) {
			t.Fatalf("Push(%d) should not drop below capacity", i)
		}
	}
	if !buf.Push(chunkOf(3)) {
		t.Error("Push over capacity should report a drop")
	}
	buf.Push(chunkOf(4))

	if buf.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", buf.Dropped())
	}
	if buf.Len() != 3 {
		t.Errorf("Len() = %d, want 3", buf.Len())
	}
	for _, want := range []int{2, 3, 4} {
		c, ok := buf.Pop()
		if !ok || string(c) != string(chunkOf(want)) {
			t.Errorf("Pop() = %q, %v; want %q", c, ok, chunkOf(want))
		}
	}
}

func TestBuffer_DefaultCapacity(t *testing.T) {
	if got := NewBuffer(0).Cap(); got != DefaultMaxBufferedChunks {
		t.Errorf("Cap() = %d, want %d", got, DefaultMaxBufferedChunks)
	}
}

func TestBuffer_ConcurrentProducerConsumer(t *testing.T) {
	buf := NewBuffer(10000)
	const total = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			buf.Push(chunkOf(i))
		}
	}()

	reader := NewReader(buf, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < total; i++ {
		c, err := reader.Next(ctx)
		if err != nil {
			t.Fatalf("Next() at %d error = %v", i, err)
		}
		if string(c) != string(chunkOf(i)) {
			t.Fatalf("chunk %d = %q, want %q", i, c, chunkOf(i))
		}
	}
	wg.Wait()

	if _, ok := buf.Pop(); ok {
		t.Error("no chunk should be returned twice")
	}
}

func TestReader_WaitsForData(t *testing.T) {
	buf := NewBuffer(4)
	reader := NewReader(buf, 5*time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		buf.Push([]byte("late"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := reader.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(c) != "late" {
		t.Errorf("Next() = %q, want %q", c, "late")
	}
}

func TestReader_Cancelled(t *testing.T) {
	reader := NewReader(NewBuffer(4), 0)
	if reader.interval != DefaultPollInterval {
		t.Errorf("interval = %v, want %v", reader.interval, DefaultPollInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := reader.Next(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Next() error = %v, want context.Canceled", err)
	}
}
