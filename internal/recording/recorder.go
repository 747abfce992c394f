package recording

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const stderrTailLines = 8

type Config struct {
	SampleRate        int
	Channels          int
	Format            string
	FramesPerChunk    int
	Device            string
	MaxBufferedChunks int
	PollInterval      time.Duration
	StartGrace        time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:        32000,
		Channels:          1,
		Format:            "s16",
		FramesPerChunk:    4000,
		Device:            "",
		MaxBufferedChunks: DefaultMaxBufferedChunks,
		PollInterval:      DefaultPollInterval,
		StartGrace:        300 * time.Millisecond,
	}
}

// ChunkBytes is the size of one chunk: frames x channels x 2 bytes (s16).
func (c Config) ChunkBytes() int {
	return c.FramesPerChunk * c.Channels * 2
}

// Recorder captures one PipeWire input with pw-record and pushes fixed-size
// PCM chunks into its Buffer from a dedicated goroutine.
type Recorder struct {
	config    Config
	buf       *Buffer
	logger    *log.Logger
	recording atomic.Bool

	mu     sync.Mutex // guards cancel and stderr
	cancel context.CancelFunc
	stderr []string

	errCh chan error
	wg    sync.WaitGroup

	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
	lookPath func(file string) (string, error)
}

func NewRecorder(config Config, buf *Buffer, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{
		config:   config,
		buf:      buf,
		logger:   logger.WithPrefix("recording").With("device", deviceName(config.Device)),
		errCh:    make(chan error, 1),
		command:  exec.CommandContext,
		lookPath: exec.LookPath,
	}
}

func (r *Recorder) IsRecording() bool {
	return r.recording.Load()
}

// Errors delivers a DeviceError if capture dies after a successful Start.
func (r *Recorder) Errors() <-chan error {
	return r.errCh
}

// Start opens the device. It fails with a *DeviceError when the capture
// process cannot be spawned or exits within the startup grace period.
// Cancelling ctx after Start has returned does not release the device.
func (r *Recorder) Start(ctx context.Context) error {
	if r.recording.Load() {
		return fmt.Errorf("already recording")
	}

	if err := r.validateConfig(); err != nil {
		return r.deviceErr(err)
	}

	if _, err := r.lookPath("pw-record"); err != nil {
		return r.deviceErr(fmt.Errorf("pw-record not found: %w (install pipewire-tools)", err))
	}

	// ctx bounds the startup wait only; the device stays open until Stop.
	captureCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := r.command(captureCtx, "pw-record", r.buildPwRecordArgs()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return r.deviceErr(fmt.Errorf("create stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return r.deviceErr(fmt.Errorf("create stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return r.deviceErr(fmt.Errorf("start pw-record: %w", err))
	}

	r.mu.Lock()
	r.cancel = cancel
	r.stderr = nil
	r.mu.Unlock()
	r.recording.Store(true)

	stderrDone := make(chan struct{})
	go r.collectStderr(stderr, stderrDone)

	exited := make(chan error, 1)
	r.wg.Add(1)
	go r.captureLoop(captureCtx, cmd, stdout, stderrDone, exited)

	grace := time.NewTimer(r.config.StartGrace)
	defer grace.Stop()

	select {
	case err := <-exited:
		r.abortStart()
		if err == nil {
			err = errors.New("capture stopped during startup")
		}
		return r.deviceErr(r.withStderr(err))
	case <-ctx.Done():
		r.abortStart()
		return ctx.Err()
	case <-grace.C:
	}

	r.wg.Add(1)
	go r.watch(exited)

	r.logger.Info("capture started", "rate", r.config.SampleRate, "chunk_bytes", r.config.ChunkBytes())
	return nil
}

// Stop releases the device and waits for the capture goroutine. It is safe
// to call more than once and after a failed Start.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	if cancel != nil {
		r.logger.Info("capture stopped", "dropped", r.buf.Dropped())
	}
	return nil
}

func (r *Recorder) abortStart() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Recorder) captureLoop(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, stderrDone <-chan struct{}, exited chan<- error) {
	defer r.wg.Done()

	readErr := r.readChunks(stdout)
	<-stderrDone
	waitErr := cmd.Wait()
	r.recording.Store(false)

	switch {
	case ctx.Err() != nil:
		exited <- nil
	case readErr != nil:
		exited <- readErr
	case waitErr != nil:
		exited <- fmt.Errorf("pw-record exited: %w", waitErr)
	default:
		exited <- errors.New("pw-record exited unexpectedly")
	}
}

func (r *Recorder) readChunks(stdout io.Reader) error {
	size := r.config.ChunkBytes()
	var dropped int
	lastDropLog := time.Now()

	for {
		chunk := make([]byte, size)
		if _, err := io.ReadFull(stdout, chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read audio: %w", err)
		}

		if r.buf.Push(chunk) {
			dropped++
			if time.Since(lastDropLog) > time.Second {
				r.logger.Warn("buffer full, dropped oldest chunks", "dropped", dropped)
				lastDropLog = time.Now()
				dropped = 0
			}
		}
	}
}

func (r *Recorder) watch(exited <-chan error) {
	defer r.wg.Done()

	err := <-exited
	if err == nil {
		return
	}

	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	de := r.deviceErr(r.withStderr(err))
	r.logger.Error("capture failed", "err", de)
	select {
	case r.errCh <- de:
	default:
	}
}

func (r *Recorder) collectStderr(stderr io.Reader, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		r.logger.Debug("pw-record stderr", "line", line)

		r.mu.Lock()
		r.stderr = append(r.stderr, line)
		if len(r.stderr) > stderrTailLines {
			r.stderr = r.stderr[len(r.stderr)-stderrTailLines:]
		}
		r.mu.Unlock()
	}
}

func (r *Recorder) withStderr(err error) error {
	r.mu.Lock()
	tail := strings.Join(r.stderr, "; ")
	r.mu.Unlock()
	if tail == "" {
		return err
	}
	return fmt.Errorf("%w (stderr: %s)", err, tail)
}

func (r *Recorder) deviceErr(err error) error {
	return &DeviceError{Device: r.config.Device, Err: err}
}

func (r *Recorder) buildPwRecordArgs() []string {
	args := []string{
		"--format", r.config.Format,
		"--rate", strconv.Itoa(r.config.SampleRate),
		"--channels", strconv.Itoa(r.config.Channels),
	}
	if r.config.Device != "" {
		args = append(args, "--target", r.config.Device)
	}
	return append(args, "-")
}

func (r *Recorder) validateConfig() error {
	if r.config.SampleRate <= 0 {
		return fmt.Errorf("invalid SampleRate: %d", r.config.SampleRate)
	}
	if r.config.Channels <= 0 {
		return fmt.Errorf("invalid Channels: %d", r.config.Channels)
	}
	if r.config.FramesPerChunk <= 0 {
		return fmt.Errorf("invalid FramesPerChunk: %d", r.config.FramesPerChunk)
	}
	if r.config.Format != "s16" {
		return fmt.Errorf("unsupported Format: %q (only s16 is supported)", r.config.Format)
	}
	if r.config.StartGrace <= 0 {
		return fmt.Errorf("invalid StartGrace: %v", r.config.StartGrace)
	}
	if r.buf == nil {
		return fmt.Errorf("no buffer attached")
	}
	return nil
}

func deviceName(device string) string {
	if device == "" {
		return "default"
	}
	return device
}
