package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/leonardotrapani/callscribe/internal/conversation"
)

// Config selects and configures the sink that receives conversation batches.
type Config struct {
	Sink         string // "http", "openai" or "none"
	Endpoint     string
	Timeout      time.Duration
	QueueSize    int
	APIKey       string
	Model        string
	SystemPrompt string
}

// Result is what the sink answered for one batch.
type Result struct {
	Response string
}

// Dispatcher delivers one batch to the processing sink.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch conversation.Batch) (Result, error)
}

func New(config Config, logger *log.Logger) (Dispatcher, error) {
	switch config.Sink {
	case "http", "":
		return NewHTTPDispatcher(config.Endpoint, config.Timeout, logger), nil
	case "openai":
		if config.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required for the openai sink")
		}
		return NewOpenAIDispatcher(OpenAIConfig{
			APIKey:       config.APIKey,
			Model:        config.Model,
			SystemPrompt: config.SystemPrompt,
		}, logger), nil
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("unsupported dispatch sink: %s", config.Sink)
	}
}

// Discard accepts every batch and answers nothing.
type Discard struct{}

func (Discard) Dispatch(ctx context.Context, batch conversation.Batch) (Result, error) {
	return Result{}, nil
}
