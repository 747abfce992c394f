package transcriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/leonardotrapani/callscribe/internal/conversation"
)

// ErrSessionEnded is returned by Send once the connection is gone for good.
var ErrSessionEnded = errors.New("transcription session ended")

// Event is what a Session delivers: a finalized transcript segment, or a
// service error when Err is set.
type Event struct {
	Label conversation.Label
	Text  string
	Err   error
}

func (e Event) IsError() bool { return e.Err != nil }

// Session wraps a StreamingAdapter for one channel. Audio goes in through
// Send; finalized transcripts and service errors come out of Events.
type Session struct {
	label    conversation.Label
	adapter  StreamingAdapter
	language string
	logger   *log.Logger

	events chan Event
	ended  atomic.Bool

	mu       sync.Mutex
	started  bool
	finished bool
	ctx      context.Context
	cancel   context.CancelFunc
	pumpDone chan struct{}
}

func NewSession(label conversation.Label, adapter StreamingAdapter, language string, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		label:    label,
		adapter:  adapter,
		language: language,
		logger:   logger.WithPrefix("session").With("channel", label),
		events:   make(chan Event, 64),
		pumpDone: make(chan struct{}),
	}
}

func (s *Session) Label() conversation.Label { return s.label }

// Events is closed once the underlying connection has ended.
func (s *Session) Events() <-chan Event { return s.events }

// Start opens the connection. The session outlives ctx cancellation only
// until Finish is called, so callers that need a graceful finish should pass
// a context that is not cancelled by their shutdown signal.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("session already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.adapter.Start(s.ctx, s.language); err != nil {
		s.cancel()
		return fmt.Errorf("start %s transcription: %w", s.label, err)
	}
	s.started = true

	go s.pump()

	s.logger.Info("transcription session started")
	return nil
}

// Send forwards one chunk without waiting for any transcript.
func (s *Session) Send(chunk []byte) error {
	s.mu.Lock()
	ok := s.started && !s.finished
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s session not running", s.label)
	}
	if s.ended.Load() {
		return ErrSessionEnded
	}
	return s.adapter.SendChunk(chunk)
}

func (s *Session) pump() {
	defer close(s.pumpDone)
	defer close(s.events)
	defer s.ended.Store(true)

	for result := range s.adapter.Results() {
		var ev Event
		switch {
		case result.Error != nil:
			ev = Event{Label: s.label, Err: &ServiceError{Label: s.label, Err: result.Error}}
		case result.IsFinal && result.Text != "":
			ev = Event{Label: s.label, Text: result.Text}
		default:
			continue
		}

		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

// Finish signals end of audio, waits (bounded by ctx) for the last
// transcripts and closes the connection. The connection is closed on every
// path; calling Finish twice is a no-op.
func (s *Session) Finish(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.finished {
		s.mu.Unlock()
		return nil
	}
	s.finished = true
	s.mu.Unlock()

	var finalizeErr error
	defer func() {
		if err := s.adapter.Close(); err != nil {
			s.logger.Warn("close failed", "err", err)
		}
		select {
		case <-s.pumpDone:
		case <-ctx.Done():
			s.cancel()
			<-s.pumpDone
		}
		s.cancel()
		s.logger.Info("transcription session finished", "finalize_err", finalizeErr)
	}()

	finalizeErr = s.adapter.Finalize(ctx)
	if finalizeErr != nil {
		return fmt.Errorf("finish %s transcription: %w", s.label, finalizeErr)
	}
	return nil
}
