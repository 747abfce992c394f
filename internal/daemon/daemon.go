package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/leonardotrapani/callscribe/internal/archive"
	"github.com/leonardotrapani/callscribe/internal/bus"
	"github.com/leonardotrapani/callscribe/internal/config"
	"github.com/leonardotrapani/callscribe/internal/console"
	"github.com/leonardotrapani/callscribe/internal/conversation"
	"github.com/leonardotrapani/callscribe/internal/dispatch"
	"github.com/leonardotrapani/callscribe/internal/metrics"
	"github.com/leonardotrapani/callscribe/internal/notify"
	"github.com/leonardotrapani/callscribe/internal/pipeline"
	"github.com/leonardotrapani/callscribe/internal/server"
)

const shutdownTimeout = 10 * time.Second

// PipelineFactory builds the capture pipeline for a configuration.
type PipelineFactory func(cfg *config.Config, agg *conversation.Aggregator, opts pipeline.Options) (*pipeline.Pipeline, error)

type Options struct {
	Manager  *config.Manager
	Logger   *log.Logger
	Notifier notify.Notifier // built from config when nil
	Version  string

	// Socket and pid file; the per-user cache directory when empty.
	SockPath string
	PidPath  string

	// Stdout receives every dispatched batch and its response.
	Stdout io.Writer

	NewPipeline PipelineFactory
	Dispatcher  dispatch.Dispatcher // built from config when nil
}

// Daemon owns one pipeline run and answers control commands on a unix socket.
type Daemon struct {
	opts     Options
	logger   *log.Logger
	notifier notify.Notifier

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	pipeline *pipeline.Pipeline
	worker   *dispatch.Worker
}

func New(opts Options) (*Daemon, error) {
	if opts.Manager == nil {
		return nil, errors.New("config manager required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.NewPipeline == nil {
		opts.NewPipeline = pipeline.FromConfig
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.SockPath == "" {
		p, err := bus.SockPath()
		if err != nil {
			return nil, err
		}
		opts.SockPath = p
	}
	if opts.PidPath == "" {
		p, err := bus.PidPath()
		if err != nil {
			return nil, err
		}
		opts.PidPath = p
	}

	cfg := opts.Manager.GetConfig()
	n := opts.Notifier
	if n == nil {
		n = notify.New(cfg.NotifierType(), cfg.NotifierMessages(), opts.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		opts:     opts,
		logger:   opts.Logger.WithPrefix("daemon"),
		notifier: n,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Stop asks a running daemon to shut down.
func (d *Daemon) Stop() {
	d.cancel()
}

// Run starts the pipeline and serves control commands until a quit command,
// SIGINT/SIGTERM, or a device failure. It returns the pipeline's error.
func (d *Daemon) Run() error {
	defer d.cancel()

	pidFile := bus.NewPidFile(d.opts.PidPath)
	if err := pidFile.CheckExisting(); err != nil {
		return err
	}

	ln, err := bus.Listen(d.opts.SockPath)
	if err != nil {
		return err
	}
	defer ln.Close()

	if err := pidFile.Create(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer pidFile.Remove()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			d.logger.Info("received signal, shutting down", "signal", sig)
			d.cancel()
		case <-d.ctx.Done():
		}
	}()

	cfg := d.opts.Manager.GetConfig()
	d.opts.Logger.SetLevel(cfg.LogLevel())

	rt, err := d.setup(cfg)
	if err != nil {
		return err
	}
	defer rt.close(d.logger)

	d.subscribe(rt)
	if err := d.opts.Manager.StartWatching(d.ctx); err != nil {
		d.logger.Warn("config hot reload disabled", "err", err)
	}
	defer d.opts.Manager.Stop()

	pipeErr := make(chan error, 1)
	go func() {
		err := rt.pipeline.Run(d.ctx)
		if err != nil {
			d.logger.Error("pipeline stopped", "err", err)
			d.notifier.Send(notify.DeviceFailed, err.Error())
		}
		pipeErr <- err
		d.cancel()
	}()
	go d.notifier.Send(notify.PipelineStarted, "")

	if cfg.Server.Listen != "" {
		srv := server.New(rt.pipeline, rt.worker.Stats, rt.metrics, d.opts.Logger)
		rt.serverDone = make(chan error, 1)
		go func() {
			rt.serverDone <- srv.ListenAndServe(d.ctx, cfg.Server.Listen)
		}()
	}

	// Close the listener when context is done
	go func() {
		<-d.ctx.Done()
		ln.Close()
	}()

	d.logger.Info("daemon started", "socket", d.opts.SockPath)

	var acceptErr error
	for {
		c, err := ln.Accept()
		if err != nil {
			if d.ctx.Err() == nil {
				acceptErr = fmt.Errorf("accept failed: %w", err)
				d.logger.Error("accept error", "err", err)
				d.cancel()
			}
			break
		}
		go d.handle(c)
	}

	d.logger.Info("shutdown requested")
	err = <-pipeErr
	d.notifier.Send(notify.PipelineStopped, "")
	if err != nil {
		return err
	}
	return acceptErr
}

// runtime holds everything one Run owns besides the control socket.
type runtime struct {
	metrics    *metrics.Metrics
	worker     *dispatch.Worker
	convLog    *conversation.Log
	archive    *archive.Store
	pipeline   *pipeline.Pipeline
	serverDone chan error
}

func (d *Daemon) setup(cfg *config.Config) (*runtime, error) {
	rt := &runtime{metrics: metrics.New()}
	logger := d.opts.Logger

	dispatcher := d.opts.Dispatcher
	if dispatcher == nil {
		var err error
		dispatcher, err = dispatch.New(cfg.ToDispatchConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
	}

	observers := []dispatch.Observer{
		console.NewPrinter(d.opts.Stdout),
		dispatchAlert{notifier: d.notifier},
	}
	if cfg.Archive.Path != "" {
		store, err := archive.Open(cfg.Archive.Path, logger)
		if err != nil {
			return nil, err
		}
		rt.archive = store
		observers = append(observers, store)
	}

	rt.worker = dispatch.NewWorker(dispatcher, dispatch.WorkerOptions{
		QueueSize: cfg.Dispatch.QueueSize,
		Timeout:   cfg.Dispatch.Timeout,
		Logger:    logger,
		Metrics:   rt.metrics,
		Observers: observers,
	})

	convLog, err := conversation.OpenLog(cfg.Conversation.LogFile)
	if err != nil {
		rt.close(d.logger)
		return nil, err
	}
	rt.convLog = convLog

	agg := conversation.NewAggregator(conversation.Options{
		Threshold: cfg.Conversation.Threshold,
		Log:       convLog,
		Logger:    logger,
		OnFlush: func(b conversation.Batch) {
			rt.metrics.Flushed(string(b.Reason), 0)
			rt.worker.Enqueue(b)
		},
	})

	p, err := d.opts.NewPipeline(cfg, agg, pipeline.Options{
		Logger:  logger,
		Metrics: rt.metrics,
	})
	if err != nil {
		rt.close(d.logger)
		return nil, err
	}
	rt.pipeline = p

	d.mu.Lock()
	d.pipeline = p
	d.worker = rt.worker
	d.mu.Unlock()

	d.logger.Info("conversation log", "path", convLog.Path(), "threshold", agg.Threshold())
	return rt, nil
}

func (rt *runtime) close(logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if rt.worker != nil {
		if err := rt.worker.Close(ctx); err != nil {
			logger.Warn("dispatch queue not drained", "err", err)
		}
	}
	if rt.serverDone != nil {
		if err := <-rt.serverDone; err != nil {
			logger.Warn("status server", "err", err)
		}
	}
	if rt.convLog != nil {
		if err := rt.convLog.Close(); err != nil {
			logger.Warn("close conversation log", "err", err)
		}
	}
	if rt.archive != nil {
		if err := rt.archive.Close(); err != nil {
			logger.Warn("close archive", "err", err)
		}
	}
}

func (d *Daemon) subscribe(rt *runtime) {
	d.opts.Manager.Subscribe(func(prev, next *config.Config) {
		agg := rt.pipeline.Aggregator()
		if prev.Conversation.Threshold != next.Conversation.Threshold {
			agg.SetThreshold(next.Conversation.Threshold)
			d.logger.Info("flush threshold changed", "threshold", agg.Threshold())
		}
		d.opts.Logger.SetLevel(next.LogLevel())
		d.notifier.Send(notify.ConfigReloaded, "")
	})
}

func (d *Daemon) handle(c net.Conn) {
	defer c.Close()

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		d.logger.Warn("client read error", "err", err)
		fmt.Fprintf(c, "ERR read_error: %v\n", err)
		return
	}
	if len(line) == 0 {
		fmt.Fprint(c, "ERR empty\n")
		return
	}
	cmd := line[0]

	switch cmd {
	case bus.CmdStatus:
		body, err := json.Marshal(d.statusResponse())
		if err != nil {
			fmt.Fprintf(c, "ERR status: %v\n", err)
			return
		}
		fmt.Fprintf(c, "STATUS %s\n", body)
	case bus.CmdFlush:
		d.mu.RLock()
		p := d.pipeline
		d.mu.RUnlock()
		if p == nil {
			fmt.Fprint(c, "ERR not_running\n")
			return
		}
		if b, ok := p.Flush(); ok {
			fmt.Fprintf(c, "OK flushed lines=%d batch=%s\n", b.Len(), b.ID)
		} else {
			fmt.Fprint(c, "OK nothing_pending\n")
		}
	case bus.CmdVersion:
		fmt.Fprintf(c, "STATUS proto=%s version=%s\n", bus.ProtoVer, d.opts.Version)
	case bus.CmdQuit:
		fmt.Fprint(c, "OK quitting\n")
		d.cancel()
	default:
		d.logger.Warn("unknown command", "cmd", string(cmd))
		fmt.Fprintf(c, "ERR unknown=%q\n", cmd)
	}
}

func (d *Daemon) statusResponse() server.StatusResponse {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var resp server.StatusResponse
	if d.pipeline != nil {
		resp.Pipeline = d.pipeline.Snapshot()
	} else {
		resp.Pipeline.Status = pipeline.Idle
	}
	if d.worker != nil {
		resp.Dispatch = d.worker.Stats()
	}
	return resp
}

// dispatchAlert raises a notification for every batch that was not delivered.
type dispatchAlert struct {
	notifier notify.Notifier
}

func (a dispatchAlert) Dispatched(batch conversation.Batch, result dispatch.Result, err error, took time.Duration) {
	if err != nil {
		a.notifier.Send(notify.DispatchFailed, err.Error())
	}
}
