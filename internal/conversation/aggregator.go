package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const DefaultThreshold = 5

// FlushFunc receives every batch the aggregator cuts. It is called with the
// aggregator lock held so batches are handed off in order; it must not block.
type FlushFunc func(Batch)

type Options struct {
	Threshold int
	Log       *Log
	OnFlush   FlushFunc
	Logger    *log.Logger
}

// Aggregator accumulates labeled transcript lines from both channels and cuts
// them into batches once the threshold is reached.
type Aggregator struct {
	mu        sync.Mutex
	lines     []Line
	threshold int
	log       *Log
	onFlush   FlushFunc
	logger    *log.Logger
	now       func() time.Time

	flushed uint64
}

func NewAggregator(opts Options) *Aggregator {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Aggregator{
		threshold: opts.Threshold,
		log:       opts.Log,
		onFlush:   opts.OnFlush,
		logger:    opts.Logger.WithPrefix("aggregator"),
		now:       time.Now,
	}
}

// Add records one transcript segment. Whitespace-only text is dropped and
// Add reports false. The append, the log write and the threshold check form
// one critical section, so a line is never flushed twice or lost.
func (a *Aggregator) Add(label Label, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	line := Line{Label: label, Text: text, At: a.now()}
	a.lines = append(a.lines, line)

	if a.log != nil {
		if err := a.log.Write(line); err != nil {
			a.logger.Warn("conversation log write failed", "err", err)
		}
	}

	if len(a.lines) >= a.threshold {
		a.flushLocked(FlushThreshold)
	}
	return true
}

// Flush cuts whatever is buffered regardless of the threshold.
func (a *Aggregator) Flush(reason FlushReason) (Batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.lines) == 0 {
		return Batch{}, false
	}
	return a.flushLocked(reason), true
}

// FlushIfOlder flushes when the oldest buffered line has waited at least maxAge.
func (a *Aggregator) FlushIfOlder(maxAge time.Duration) (Batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.lines) == 0 || a.now().Sub(a.lines[0].At) < maxAge {
		return Batch{}, false
	}
	return a.flushLocked(FlushInterval), true
}

func (a *Aggregator) flushLocked(reason FlushReason) Batch {
	batch := Batch{
		ID:        uuid.NewString(),
		Lines:     a.lines,
		Reason:    reason,
		CreatedAt: a.now(),
	}
	a.lines = nil
	a.flushed++

	a.logger.Debug("batch cut", "id", batch.ID, "lines", batch.Len(), "reason", reason)
	if a.onFlush != nil {
		a.onFlush(batch)
	}
	return batch
}

// SetThreshold changes the flush threshold; it applies from the next Add.
func (a *Aggregator) SetThreshold(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.threshold = n
	a.mu.Unlock()
}

func (a *Aggregator) Threshold() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threshold
}

// Pending returns the number of buffered, not yet flushed lines.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lines)
}

// Flushed returns how many batches have been cut so far.
func (a *Aggregator) Flushed() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushed
}
