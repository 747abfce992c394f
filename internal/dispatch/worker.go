package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/leonardotrapani/callscribe/internal/conversation"
	"github.com/leonardotrapani/callscribe/internal/metrics"
)

const DefaultQueueSize = 16

// Observer is told about every dispatch outcome. Observers run on the worker
// goroutine, one batch at a time.
type Observer interface {
	Dispatched(batch conversation.Batch, result Result, err error, took time.Duration)
}

type WorkerOptions struct {
	QueueSize int
	Timeout   time.Duration
	Logger    *log.Logger
	Metrics   *metrics.Metrics
	Observers []Observer
}

type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Failed     uint64 `json:"failed"`
	Dropped    uint64 `json:"dropped"`
	Queued     int    `json:"queued"`
}

// Worker delivers batches one at a time, in enqueue order, on its own
// goroutine. Failed batches are reported and discarded.
type Worker struct {
	dispatcher Dispatcher
	opts       WorkerOptions
	logger     *log.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex // guards closed and sends on queue
	closed bool
	queue  chan conversation.Batch
	done   chan struct{}

	dispatched atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
}

func NewWorker(dispatcher Dispatcher, opts WorkerOptions) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	w := &Worker{
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.WithPrefix("dispatch"),
		metrics:    opts.Metrics,
		queue:      make(chan conversation.Batch, opts.QueueSize),
		done:       make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue hands a batch to the worker without blocking. It reports false
// when the queue is full or the worker is closed; the batch is then lost.
func (w *Worker) Enqueue(batch conversation.Batch) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		w.dropped.Add(1)
		w.logger.Warn("worker closed, batch dropped", "batch", batch.ID, "lines", batch.Len())
		return false
	}

	select {
	case w.queue <- batch:
		w.metrics.SetQueueDepth(len(w.queue))
		return true
	default:
		w.dropped.Add(1)
		w.metrics.DispatchQueueFull()
		w.logger.Warn("dispatch queue full, batch dropped", "batch", batch.ID, "lines", batch.Len())
		return false
	}
}

// Close stops accepting batches, delivers those already queued and waits
// for the worker to finish or ctx to expire.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) Stats() Stats {
	return Stats{
		Dispatched: w.dispatched.Load(),
		Failed:     w.failed.Load(),
		Dropped:    w.dropped.Load(),
		Queued:     len(w.queue),
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for batch := range w.queue {
		w.metrics.SetQueueDepth(len(w.queue))
		w.deliver(batch)
	}
}

func (w *Worker) deliver(batch conversation.Batch) {
	// Detached from pipeline shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.Timeout)
	defer cancel()

	start := time.Now()
	result, err := w.dispatcher.Dispatch(ctx, batch)
	took := time.Since(start)

	if err != nil {
		w.failed.Add(1)
		w.metrics.Dispatched("failed", took)
		w.logger.Error("batch not delivered", "batch", batch.ID, "lines", batch.Len(), "took", took, "err", err)
	} else {
		w.dispatched.Add(1)
		w.metrics.Dispatched("ok", took)
		w.logger.Info("batch delivered", "batch", batch.ID, "lines", batch.Len(), "took", took)
	}

	for _, o := range w.opts.Observers {
		o.Dispatched(batch, result, err, took)
	}
}
