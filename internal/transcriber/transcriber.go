package transcriber

import (
	"fmt"

	"github.com/charmbracelet/log"
)

// Config for the streaming transcription backend shared by both channels.
type Config struct {
	Provider   string
	APIKey     string
	Endpoint   string
	Model      string
	Language   string
	Keywords   []string
	SampleRate int
	Channels   int
	Punctuate  bool
}

// NewAdapter creates a fresh streaming connection for one channel.
func NewAdapter(config Config, logger *log.Logger) (StreamingAdapter, error) {
	switch config.Provider {
	case "deepgram":
		if config.APIKey == "" {
			return nil, fmt.Errorf("Deepgram API key required")
		}
		return NewDeepgramAdapter(DeepgramConfig{
			Endpoint:   config.Endpoint,
			APIKey:     config.APIKey,
			Model:      config.Model,
			Language:   config.Language,
			Keywords:   config.Keywords,
			SampleRate: config.SampleRate,
			Channels:   config.Channels,
			Punctuate:  config.Punctuate,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
}
