package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/leonardotrapani/callscribe/internal/conversation"
	"github.com/leonardotrapani/callscribe/internal/metrics"
	"github.com/leonardotrapani/callscribe/internal/recording"
	"github.com/leonardotrapani/callscribe/internal/transcriber"
)

type Status string

const (
	Idle     Status = "idle"
	Starting Status = "starting"
	Running  Status = "running"
	Stopping Status = "stopping"
)

var ErrAlreadyRunning = errors.New("pipeline already running")

const DefaultFinishTimeout = 5 * time.Second

// Source is one capture device.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Errors() <-chan error
}

// ChunkReader yields the next captured chunk, waiting while none is buffered.
type ChunkReader interface {
	Next(ctx context.Context) ([]byte, error)
}

// Transcriber is one streaming transcription session.
type Transcriber interface {
	Label() conversation.Label
	Start(ctx context.Context) error
	Send(chunk []byte) error
	Events() <-chan transcriber.Event
	Finish(ctx context.Context) error
}

// Channel binds one speaker's capture, reader and session.
type Channel struct {
	Label   conversation.Label
	Source  Source
	Reader  ChunkReader
	Session Transcriber
	Buffer  *recording.Buffer // optional, for drop statistics
}

type Options struct {
	FinishTimeout   time.Duration
	FlushInterval   time.Duration
	FlushOnShutdown bool
	Logger          *log.Logger
	Metrics         *metrics.Metrics
}

type channelStats struct {
	chunks        atomic.Uint64
	sendErrors    atomic.Uint64
	transcripts   atomic.Uint64
	serviceErrors atomic.Uint64
}

// Pipeline runs the Agent and Customer channels side by side and feeds both
// transcript streams into one Aggregator.
type Pipeline struct {
	channels []Channel
	agg      *conversation.Aggregator
	opts     Options
	logger   *log.Logger
	metrics  *metrics.Metrics
	stats    map[conversation.Label]*channelStats

	mu     sync.Mutex
	status Status
	since  time.Time
}

func New(agent, customer Channel, agg *conversation.Aggregator, opts Options) *Pipeline {
	if opts.FinishTimeout <= 0 {
		opts.FinishTimeout = DefaultFinishTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		channels: []Channel{agent, customer},
		agg:      agg,
		opts:     opts,
		logger:   logger.WithPrefix("pipeline"),
		metrics:  opts.Metrics,
		stats: map[conversation.Label]*channelStats{
			agent.Label:    {},
			customer.Label: {},
		},
		status: Idle,
		since:  time.Now(),
	}
}

func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Pipeline) Aggregator() *conversation.Aggregator {
	return p.agg
}

// Flush cuts whatever transcript lines are buffered into a batch now.
func (p *Pipeline) Flush() (conversation.Batch, bool) {
	b, ok := p.agg.Flush(conversation.FlushManual)
	if ok {
		p.logger.Info("manual flush", "batch", b.ID, "lines", b.Len())
	}
	return b, ok
}

func (p *Pipeline) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.since = time.Now()
	p.mu.Unlock()
	p.metrics.SetRunning(s == Running)
}

// Run captures and transcribes both channels until ctx is cancelled or a
// device fails. Shutdown always finishes both sessions and then stops both
// sources. Run returns nil after cancellation, the device error after a
// device failure, and a startup error when either channel cannot start.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.status != Idle {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.status = Starting
	p.since = time.Now()
	p.mu.Unlock()
	defer p.setStatus(Idle)

	p.logger.Info("starting capture")
	for _, ch := range p.channels {
		if err := ch.Source.Start(ctx); err != nil {
			p.logger.Error("capture failed to start", "channel", ch.Label, "err", err)
			p.stopSources()
			return fmt.Errorf("start %s capture: %w", ch.Label, err)
		}
	}

	// Sessions must survive ctx cancellation long enough to be finished.
	sessCtx, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()

	var started []Channel
	for _, ch := range p.channels {
		if err := ch.Session.Start(sessCtx); err != nil {
			p.logger.Error("transcription failed to start", "channel", ch.Label, "err", err)
			p.finishSessions(started)
			p.stopSources()
			return fmt.Errorf("start %s transcription: %w", ch.Label, err)
		}
		started = append(started, ch)
	}

	p.setStatus(Running)
	p.logger.Info("pipeline running")

	loopDone := make(chan struct{})
	go p.eventLoop(loopDone)

	runErr := p.captureLoop(ctx)

	p.setStatus(Stopping)
	p.logger.Info("shutting down", "cause", shutdownCause(ctx, runErr))

	p.finishSessions(p.channels)
	p.stopSources()

	select {
	case <-loopDone:
	case <-time.After(p.opts.FinishTimeout):
		p.logger.Warn("event loop did not drain in time")
		cancelSessions()
		<-loopDone
	}

	if p.opts.FlushOnShutdown {
		if b, ok := p.agg.Flush(conversation.FlushShutdown); ok {
			p.logger.Info("flushed remainder", "batch", b.ID, "lines", b.Len())
		}
	}
	if n := p.agg.Pending(); n > 0 {
		p.logger.Info("unflushed lines discarded", "lines", n)
	}

	p.logger.Info("pipeline stopped")
	return runErr
}

func shutdownCause(ctx context.Context, err error) string {
	switch {
	case err != nil:
		return "device error"
	case ctx.Err() != nil:
		return "cancelled"
	default:
		return "stopped"
	}
}

// captureLoop reads one chunk from each channel per iteration, waiting for
// both, and forwards each chunk to its own session.
func (p *Pipeline) captureLoop(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once      sync.Once
		deviceErr error
		watchers  sync.WaitGroup
	)
	for _, ch := range p.channels {
		watchers.Add(1)
		go func(ch Channel) {
			defer watchers.Done()
			select {
			case err, ok := <-ch.Source.Errors():
				if !ok || err == nil {
					return
				}
				once.Do(func() {
					deviceErr = err
					p.logger.Error("capture device failed", "channel", ch.Label, "err", err)
					cancel()
				})
			case <-loopCtx.Done():
			}
		}(ch)
	}

	for {
		chunks, err := p.nextChunks(loopCtx)
		if err != nil {
			break
		}
		for i, ch := range p.channels {
			p.send(ch, chunks[i])
		}
	}

	cancel()
	watchers.Wait()
	return deviceErr
}

func (p *Pipeline) nextChunks(ctx context.Context) ([][]byte, error) {
	chunks := make([][]byte, len(p.channels))
	errs := make([]error, len(p.channels))

	var wg sync.WaitGroup
	for i, ch := range p.channels {
		wg.Add(1)
		go func(i int, r ChunkReader) {
			defer wg.Done()
			chunks[i], errs[i] = r.Next(ctx)
		}(i, ch.Reader)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (p *Pipeline) send(ch Channel, chunk []byte) {
	st := p.stats[ch.Label]
	if err := ch.Session.Send(chunk); err != nil {
		n := st.sendErrors.Add(1)
		p.metrics.SendFailed(ch.Label.String())
		if n == 1 || n%100 == 0 {
			p.logger.Warn("send failed", "channel", ch.Label, "err", err, "failures", n)
		}
		return
	}
	st.chunks.Add(1)
	p.metrics.ChunkSent(ch.Label.String())
	if ch.Buffer != nil {
		p.metrics.SetDropped(ch.Label.String(), ch.Buffer.Dropped())
	}
}

// eventLoop is the single consumer of both sessions' events. It returns once
// both event streams are closed.
func (p *Pipeline) eventLoop(done chan<- struct{}) {
	defer close(done)

	agentEvents := p.channels[0].Session.Events()
	customerEvents := p.channels[1].Session.Events()

	var tick <-chan time.Time
	if p.opts.FlushInterval > 0 {
		ticker := time.NewTicker(tickEvery(p.opts.FlushInterval))
		defer ticker.Stop()
		tick = ticker.C
	}

	for agentEvents != nil || customerEvents != nil {
		select {
		case ev, ok := <-agentEvents:
			if !ok {
				agentEvents = nil
				continue
			}
			p.handleEvent(ev)
		case ev, ok := <-customerEvents:
			if !ok {
				customerEvents = nil
				continue
			}
			p.handleEvent(ev)
		case <-tick:
			if b, ok := p.agg.FlushIfOlder(p.opts.FlushInterval); ok {
				p.logger.Info("interval flush", "batch", b.ID, "lines", b.Len())
			}
		}
	}
}

func tickEvery(interval time.Duration) time.Duration {
	every := interval / 4
	if every < 100*time.Millisecond {
		every = 100 * time.Millisecond
	}
	return every
}

func (p *Pipeline) handleEvent(ev transcriber.Event) {
	st, ok := p.stats[ev.Label]
	if !ok {
		p.logger.Warn("event for unknown channel", "channel", ev.Label)
		return
	}

	if ev.Err != nil {
		st.serviceErrors.Add(1)
		p.metrics.ServiceError(ev.Label.String())
		if transcriber.IsFatalTranscriptionError(ev.Err) {
			p.logger.Error("transcription connection lost", "channel", ev.Label, "err", ev.Err)
			return
		}
		p.logger.Warn("transcription service error", "channel", ev.Label, "err", ev.Err)
		return
	}

	if !p.agg.Add(ev.Label, ev.Text) {
		return
	}
	st.transcripts.Add(1)
	p.metrics.Transcript(ev.Label.String())
	p.logger.Debug("transcript", "channel", ev.Label, "text", ev.Text)
	p.metrics.SetPending(p.agg.Pending())
}

func (p *Pipeline) finishSessions(channels []Channel) {
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), p.opts.FinishTimeout)
			defer cancel()
			if err := ch.Session.Finish(ctx); err != nil {
				p.logger.Warn("finish transcription failed", "channel", ch.Label, "err", err)
			}
		}(ch)
	}
	wg.Wait()
}

func (p *Pipeline) stopSources() {
	for _, ch := range p.channels {
		if err := ch.Source.Stop(); err != nil {
			p.logger.Warn("stop capture failed", "channel", ch.Label, "err", err)
		}
	}
}
