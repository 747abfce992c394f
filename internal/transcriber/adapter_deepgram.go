package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const DefaultDeepgramEndpoint = "wss://api.deepgram.com/v1/listen"

var defaultRetryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// DeepgramConfig holds the fixed live-transcription options for one connection.
type DeepgramConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Language   string
	Keywords   []string
	SampleRate int
	Channels   int
	Punctuate  bool
}

// DeepgramAdapter implements StreamingAdapter for Deepgram real-time transcription.
// Only finalized segments are requested (interim_results=false).
type DeepgramAdapter struct {
	config    DeepgramConfig
	logger    *log.Logger
	conn      *websocket.Conn
	resultsCh chan TranscriptionResult
	mu        sync.Mutex // guards conn, started, closing and all writes
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
	closing   bool

	maxRetries  int
	retryDelays []time.Duration

	finalizeDone chan struct{}
}

// Wire messages of the live listen endpoint. Only the fields read here are
// declared.
type dgControl struct {
	Type string `json:"type"`
}

type dgMessage struct {
	Type        string      `json:"type"`
	Channel     *dgChannel  `json:"channel,omitempty"`
	Metadata    *dgMetadata `json:"metadata,omitempty"`
	Error       *dgError    `json:"error,omitempty"`
	IsFinal     bool        `json:"is_final,omitempty"`
	SpeechFinal bool        `json:"speech_final,omitempty"`
}

type dgChannel struct {
	Alternatives []dgAlternative `json:"alternatives,omitempty"`
}

type dgAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type dgMetadata struct {
	RequestID string `json:"request_id"`
	ModelInfo struct {
		Name string `json:"name"`
	} `json:"model_info"`
}

type dgError struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

func (m dgMessage) transcript() string {
	if m.Channel == nil || len(m.Channel.Alternatives) == 0 {
		return ""
	}
	return m.Channel.Alternatives[0].Transcript
}

func (e *dgError) Error() string {
	if e.Description == "" {
		return "deepgram: " + e.Message
	}
	return "deepgram: " + e.Message + ": " + e.Description
}

func NewDeepgramAdapter(config DeepgramConfig, logger *log.Logger) *DeepgramAdapter {
	if config.Endpoint == "" {
		config.Endpoint = DefaultDeepgramEndpoint
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DeepgramAdapter{
		config:       config,
		logger:       logger.WithPrefix("deepgram"),
		resultsCh:    make(chan TranscriptionResult, 100),
		maxRetries:   3,
		retryDelays:  defaultRetryDelays,
		finalizeDone: make(chan struct{}, 1),
	}
}

// Start dials the listen endpoint; lang overrides the configured language.
func (a *DeepgramAdapter) Start(ctx context.Context, lang string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("adapter already started")
	}

	if lang != "" {
		a.config.Language = lang
	}

	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.connectLocked(); err != nil {
		a.cancel()
		return err
	}
	a.started = true

	a.wg.Add(1)
	go a.readLoop()

	a.logger.Info("connected", "model", a.config.Model, "language", a.config.Language)
	return nil
}

// connectLocked dials with mu held.
func (a *DeepgramAdapter) connectLocked() error {
	wsURL, err := a.buildURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+a.config.APIKey)

	a.logger.Debug("dialing", "url", wsURL)
	conn, resp, err := websocket.DefaultDialer.DialContext(a.ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	a.conn = conn
	return nil
}

func (a *DeepgramAdapter) backoff(attempt int) time.Duration {
	if attempt == 0 || len(a.retryDelays) == 0 {
		return 0
	}
	return a.retryDelays[min(attempt-1, len(a.retryDelays)-1)]
}

// reconnect redials up to maxRetries times and reports whether a connection
// is up again. A successful redial is surfaced to the reader as a
// non-fatal error since audio sent in between is lost.
func (a *DeepgramAdapter) reconnect() bool {
	for attempt := range a.maxRetries {
		delay := a.backoff(attempt)
		a.logger.Info("reconnecting", "attempt", attempt+1, "max", a.maxRetries, "delay", delay)
		if delay > 0 {
			select {
			case <-a.ctx.Done():
				return false
			case <-time.After(delay):
			}
		}

		a.mu.Lock()
		if a.closing || a.ctx.Err() != nil {
			a.mu.Unlock()
			return false
		}
		if a.conn != nil {
			a.conn.Close()
			a.conn = nil
		}
		err := a.connectLocked()
		a.mu.Unlock()

		if err != nil {
			a.logger.Warn("reconnect failed", "err", err)
			continue
		}
		a.logger.Info("reconnected")
		a.emit(TranscriptionResult{Error: fmt.Errorf("connection interrupted, reconnected")})
		return true
	}
	return false
}

func (a *DeepgramAdapter) buildURL() (string, error) {
	u, err := url.Parse(a.config.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	sampleRate := a.config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 32000
	}
	channels := a.config.Channels
	if channels <= 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("model", a.config.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("interim_results", "false")
	q.Set("punctuate", strconv.FormatBool(a.config.Punctuate))

	if lang := normalizeDeepgramLanguage(a.config.Language); lang != "" {
		q.Set("language", lang)
	}
	if len(a.config.Keywords) > 0 {
		q.Set("keywords", strings.Join(a.config.Keywords, ","))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// emit delivers a result unless the adapter is shutting down.
func (a *DeepgramAdapter) emit(result TranscriptionResult) {
	select {
	case a.resultsCh <- result:
	case <-a.ctx.Done():
	}
}

func (a *DeepgramAdapter) signalFinalized() {
	select {
	case a.finalizeDone <- struct{}{}:
	default:
	}
}

func (a *DeepgramAdapter) isClosing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closing
}

func (a *DeepgramAdapter) currentConn() *websocket.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func (a *DeepgramAdapter) readLoop() {
	defer a.wg.Done()
	defer close(a.resultsCh)

	for a.ctx.Err() == nil {
		conn := a.currentConn()
		if conn == nil {
			if !a.reconnect() {
				a.emit(TranscriptionResult{Error: NewFatalTranscriptionError(
					fmt.Errorf("connection lost, reconnection failed after %d attempts", a.maxRetries))})
				return
			}
			continue
		}

		_, payload, err := conn.ReadMessage()
		switch {
		case err == nil:
			a.handleMessage(payload)
		case a.ctx.Err() != nil:
			return
		case a.isClosing():
			// the server closes the socket once CloseStream has been processed
			a.signalFinalized()
			return
		default:
			a.logger.Warn("read failed", "err", err)
			if !a.reconnect() {
				a.emit(TranscriptionResult{Error: NewFatalTranscriptionError(
					fmt.Errorf("websocket read: %w, reconnection failed", err))})
				return
			}
		}
	}
}

func (a *DeepgramAdapter) handleMessage(payload []byte) {
	var msg dgMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		a.logger.Warn("unparseable message", "err", err)
		return
	}

	switch msg.Type {
	case "Results":
		text := msg.transcript()
		if text == "" {
			return
		}
		final := msg.IsFinal || msg.SpeechFinal
		a.logger.Debug("result", "final", final, "text", text)
		a.emit(TranscriptionResult{Text: text, IsFinal: final})
	case "Metadata":
		if msg.Metadata != nil {
			a.logger.Debug("metadata", "request_id", msg.Metadata.RequestID, "model", msg.Metadata.ModelInfo.Name)
		}
		// final metadata follows the last result after CloseStream
		if a.isClosing() {
			a.signalFinalized()
		}
	case "Error":
		if msg.Error != nil {
			a.emit(TranscriptionResult{Error: msg.Error})
		}
	default:
		a.logger.Debug("ignored message", "type", msg.Type)
	}
}

// SendChunk writes one binary PCM frame. A failed write is returned as is;
// reconnection is left to the read loop so the caller never blocks on the
// retry backoff.
func (a *DeepgramAdapter) SendChunk(audio []byte) error {
	return a.write(audio)
}

func (a *DeepgramAdapter) write(audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case !a.started:
		return fmt.Errorf("adapter not started")
	case a.ctx.Err() != nil:
		return a.ctx.Err()
	case a.conn == nil:
		return fmt.Errorf("no connection")
	}
	if err := a.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (a *DeepgramAdapter) Results() <-chan TranscriptionResult {
	return a.resultsCh
}

// Finalize sends CloseStream and waits until Deepgram has flushed its last
// result (final metadata or socket close) or ctx expires.
func (a *DeepgramAdapter) Finalize(ctx context.Context) error {
	a.mu.Lock()
	if !a.started || a.conn == nil {
		a.mu.Unlock()
		return nil
	}

	select {
	case <-a.finalizeDone:
	default:
	}

	a.closing = true
	err := a.conn.WriteJSON(dgControl{Type: "CloseStream"})
	a.mu.Unlock()

	if err != nil {
		return fmt.Errorf("finalize write: %w", err)
	}

	a.logger.Debug("sent CloseStream, waiting for final transcript")

	select {
	case <-a.finalizeDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("finalize: %w", ctx.Err())
	case <-a.ctx.Done():
		return a.ctx.Err()
	}
}

// Close sends a normal close frame, drops the connection and waits for the
// reader to exit.
func (a *DeepgramAdapter) Close() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}

	a.cancel()
	conn := a.conn
	a.started = false
	a.closing = true

	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	a.mu.Unlock()

	// close outside of lock, readLoop may be blocked on read
	if conn != nil {
		conn.Close()
	}

	a.wg.Wait()

	a.logger.Debug("closed")
	return nil
}
