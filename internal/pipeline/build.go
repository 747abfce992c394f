package pipeline

import (
	"fmt"

	"github.com/leonardotrapani/callscribe/internal/config"
	"github.com/leonardotrapani/callscribe/internal/conversation"
	"github.com/leonardotrapani/callscribe/internal/recording"
	"github.com/leonardotrapani/callscribe/internal/transcriber"
)

// FromConfig wires a capture device, buffer, reader and Deepgram session for
// each speaker. Each channel gets its own connection.
func FromConfig(cfg *config.Config, agg *conversation.Aggregator, opts Options) (*Pipeline, error) {
	if opts.FinishTimeout <= 0 {
		opts.FinishTimeout = cfg.Transcription.FinishTimeout
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = cfg.Conversation.FlushInterval
	}
	opts.FlushOnShutdown = opts.FlushOnShutdown || cfg.Conversation.FlushOnShutdown

	agent, err := buildChannel(cfg, conversation.Agent, opts)
	if err != nil {
		return nil, err
	}
	customer, err := buildChannel(cfg, conversation.Customer, opts)
	if err != nil {
		return nil, err
	}
	return New(agent, customer, agg, opts), nil
}

func buildChannel(cfg *config.Config, label conversation.Label, opts Options) (Channel, error) {
	logger := opts.Logger
	recCfg := cfg.ToRecordingConfig(label)
	buf := recording.NewBuffer(recCfg.MaxBufferedChunks)

	chLogger := logger
	if chLogger != nil {
		chLogger = chLogger.With("channel", label)
	}

	tcfg := cfg.ToTranscriberConfig()
	adapter, err := transcriber.NewAdapter(tcfg, chLogger)
	if err != nil {
		return Channel{}, fmt.Errorf("%s transcription: %w", label, err)
	}

	return Channel{
		Label:   label,
		Source:  recording.NewRecorder(recCfg, buf, chLogger),
		Reader:  recording.NewReader(buf, recCfg.PollInterval),
		Session: transcriber.NewSession(label, adapter, tcfg.Language, logger),
		Buffer:  buf,
	}, nil
}
