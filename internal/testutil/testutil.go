package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leonardotrapani/callscribe/internal/config"
	"github.com/leonardotrapani/callscribe/internal/conversation"
	"github.com/leonardotrapani/callscribe/internal/dispatch"
	"github.com/leonardotrapani/callscribe/internal/transcriber"
)

// TestConfig returns a valid configuration for testing
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Channels.Agent.Device = "agent-mic"
	cfg.Channels.Customer.Device = "customer-monitor"
	cfg.Providers = map[string]config.ProviderConfig{
		"deepgram": {APIKey: "test-api-key"},
	}
	cfg.Dispatch.Endpoint = "http://127.0.0.1:8000/process_conversation"
	cfg.Notifications.Type = "log"
	return cfg
}

// CreateTempConfigFile creates a temporary config file for testing
func CreateTempConfigFile(t *testing.T, configContent string) string {
	t.Helper()

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.toml")

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}

	return configPath
}

// TestContext returns a context with timeout for testing
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// WaitForCondition waits for a condition to be true or times out
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("Condition not met within %v", timeout)
		default:
			if condition() {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// MockStreamingAdapter implements transcriber.StreamingAdapter for testing.
// Results pushed with Emit are delivered on Results until Close or Fail.
type MockStreamingAdapter struct {
	StartError    error
	FinalizeError error

	// FinalizeResults are emitted by Finalize before it returns.
	FinalizeResults []transcriber.TranscriptionResult

	results chan transcriber.TranscriptionResult

	mu        sync.Mutex
	started   bool
	closed    bool
	language  string
	chunks    [][]byte
	finalized int
	closes    int
}

func NewMockStreamingAdapter() *MockStreamingAdapter {
	return &MockStreamingAdapter{
		results: make(chan transcriber.TranscriptionResult, 64),
	}
}

func (m *MockStreamingAdapter) Start(ctx context.Context, language string) error {
	if m.StartError != nil {
		return m.StartError
	}
	m.mu.Lock()
	m.started = true
	m.language = language
	m.mu.Unlock()
	return nil
}

func (m *MockStreamingAdapter) SendChunk(audio []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.closed {
		return transcriber.NewFatalTranscriptionError(context.Canceled)
	}
	m.chunks = append(m.chunks, audio)
	return nil
}

func (m *MockStreamingAdapter) Results() <-chan transcriber.TranscriptionResult {
	return m.results
}

func (m *MockStreamingAdapter) Finalize(ctx context.Context) error {
	m.mu.Lock()
	m.finalized++
	pending := m.FinalizeResults
	m.FinalizeResults = nil
	m.mu.Unlock()

	for _, r := range pending {
		m.Emit(r)
	}
	return m.FinalizeError
}

func (m *MockStreamingAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	if !m.closed {
		m.closed = true
		close(m.results)
	}
	return nil
}

// Emit delivers one result as if the service had sent it.
func (m *MockStreamingAdapter) Emit(r transcriber.TranscriptionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.results <- r
}

// Final is shorthand for emitting a finalized transcript.
func (m *MockStreamingAdapter) Final(text string) {
	m.Emit(transcriber.TranscriptionResult{Text: text, IsFinal: true})
}

// Fail ends the connection with a fatal error, as when reconnection is exhausted.
func (m *MockStreamingAdapter) Fail(err error) {
	m.Emit(transcriber.TranscriptionResult{Error: transcriber.NewFatalTranscriptionError(err)})
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.results)
	}
}

func (m *MockStreamingAdapter) Language() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.language
}

func (m *MockStreamingAdapter) Chunks() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.chunks))
	copy(out, m.chunks)
	return out
}

func (m *MockStreamingAdapter) Finalized() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalized
}

func (m *MockStreamingAdapter) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// CallLog records teardown calls across mocks in the order they happen.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) Record(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// MockSource implements a capture device for pipeline tests. When Log is
// set, Stop records "stop <Name>".
type MockSource struct {
	StartError error
	Name       string
	Log        *CallLog

	errCh   chan error
	started atomic.Bool
	starts  atomic.Int32
	stops   atomic.Int32
}

func NewMockSource() *MockSource {
	return &MockSource{errCh: make(chan error, 1)}
}

func (m *MockSource) Start(ctx context.Context) error {
	m.starts.Add(1)
	if m.StartError != nil {
		return m.StartError
	}
	m.started.Store(true)
	return nil
}

func (m *MockSource) Stop() error {
	m.Log.Record("stop " + m.Name)
	m.stops.Add(1)
	m.started.Store(false)
	return nil
}

func (m *MockSource) Errors() <-chan error { return m.errCh }

// Fail reports a device failure after a successful start.
func (m *MockSource) Fail(err error) {
	select {
	case m.errCh <- err:
	default:
	}
}

func (m *MockSource) Started() bool { return m.started.Load() }
func (m *MockSource) Starts() int   { return int(m.starts.Load()) }
func (m *MockSource) Stops() int    { return int(m.stops.Load()) }

// MockChunkReader yields chunks pushed with Push, blocking while none is queued.
type MockChunkReader struct {
	chunks chan []byte
	reads  atomic.Int32
}

func NewMockChunkReader() *MockChunkReader {
	return &MockChunkReader{chunks: make(chan []byte, 256)}
}

func (m *MockChunkReader) Push(chunks ...[]byte) {
	for _, c := range chunks {
		m.chunks <- c
	}
}

func (m *MockChunkReader) Next(ctx context.Context) ([]byte, error) {
	select {
	case c := <-m.chunks:
		m.reads.Add(1)
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MockChunkReader) Reads() int { return int(m.reads.Load()) }

// MockTranscriber implements a channel's transcription session for pipeline
// tests. Events pushed with Emit come out of Events until Finish. When Log
// is set, Finish records "finish <label>".
type MockTranscriber struct {
	StartError  error
	SendError   error
	FinishError error
	Log         *CallLog

	label  conversation.Label
	events chan transcriber.Event

	mu       sync.Mutex
	started  bool
	finished bool
	sent     [][]byte
	finishes int
}

func NewMockTranscriber(label conversation.Label) *MockTranscriber {
	return &MockTranscriber{
		label:  label,
		events: make(chan transcriber.Event, 64),
	}
}

func (m *MockTranscriber) Label() conversation.Label { return m.label }

func (m *MockTranscriber) Start(ctx context.Context) error {
	if m.StartError != nil {
		return m.StartError
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *MockTranscriber) Send(chunk []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendError != nil {
		return m.SendError
	}
	m.sent = append(m.sent, chunk)
	return nil
}

func (m *MockTranscriber) Events() <-chan transcriber.Event { return m.events }

func (m *MockTranscriber) Finish(ctx context.Context) error {
	m.Log.Record("finish " + m.label.String())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishes++
	if m.started && !m.finished {
		m.finished = true
		close(m.events)
	}
	return m.FinishError
}

// Emit delivers a transcript, or a service error when err is non-nil.
func (m *MockTranscriber) Emit(text string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished {
		return
	}
	ev := transcriber.Event{Label: m.label, Text: text}
	if err != nil {
		ev = transcriber.Event{Label: m.label, Err: &transcriber.ServiceError{Label: m.label, Err: err}}
	}
	m.events <- ev
}

func (m *MockTranscriber) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockTranscriber) Finishes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishes
}

func (m *MockTranscriber) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// MockDispatcher implements dispatch.Dispatcher for testing
type MockDispatcher struct {
	Response string
	Err      error

	mu      sync.Mutex
	batches []conversation.Batch
}

func NewMockDispatcher(response string) *MockDispatcher {
	return &MockDispatcher{Response: response}
}

func (m *MockDispatcher) Dispatch(ctx context.Context, batch conversation.Batch) (dispatch.Result, error) {
	m.mu.Lock()
	m.batches = append(m.batches, batch)
	m.mu.Unlock()
	if m.Err != nil {
		return dispatch.Result{}, m.Err
	}
	return dispatch.Result{Response: m.Response}, nil
}

func (m *MockDispatcher) Batches() []conversation.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]conversation.Batch, len(m.batches))
	copy(out, m.batches)
	return out
}
