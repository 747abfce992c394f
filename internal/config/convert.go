package config

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/leonardotrapani/callscribe/internal/conversation"
	"github.com/leonardotrapani/callscribe/internal/dispatch"
	"github.com/leonardotrapani/callscribe/internal/notify"
	"github.com/leonardotrapani/callscribe/internal/recording"
	"github.com/leonardotrapani/callscribe/internal/transcriber"
)

var providerEnvVars = map[string]string{
	"deepgram": "DEEPGRAM_API_KEY",
	"openai":   "OPENAI_API_KEY",
}

// ToRecordingConfig returns the capture settings of one channel.
func (c *Config) ToRecordingConfig(label conversation.Label) recording.Config {
	device := c.Channels.Agent.Device
	if label == conversation.Customer {
		device = c.Channels.Customer.Device
	}
	return recording.Config{
		SampleRate:        c.Audio.SampleRate,
		Channels:          c.Audio.Channels,
		Format:            c.Audio.Format,
		FramesPerChunk:    c.Audio.FramesPerChunk,
		Device:            device,
		MaxBufferedChunks: c.Audio.MaxBufferedChunks,
		PollInterval:      c.Audio.PollInterval,
		StartGrace:        c.Audio.StartGrace,
	}
}

func (c *Config) ToTranscriberConfig() transcriber.Config {
	return transcriber.Config{
		Provider:   c.Transcription.Provider,
		APIKey:     c.resolveAPIKeyForProvider(c.Transcription.Provider),
		Endpoint:   c.Transcription.Endpoint,
		Model:      c.Transcription.Model,
		Language:   c.Transcription.Language,
		Keywords:   c.Keywords,
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
		Punctuate:  c.Transcription.Punctuate,
	}
}

func (c *Config) ToDispatchConfig() dispatch.Config {
	return dispatch.Config{
		Sink:         c.Dispatch.Sink,
		Endpoint:     c.Dispatch.Endpoint,
		Timeout:      c.Dispatch.Timeout,
		QueueSize:    c.Dispatch.QueueSize,
		APIKey:       c.resolveAPIKeyForProvider("openai"),
		Model:        c.Dispatch.Model,
		SystemPrompt: c.Dispatch.SystemPrompt,
	}
}

// NotifierType is the notifier kind to build, "none" when disabled.
func (c *Config) NotifierType() string {
	if !c.Notifications.Enabled {
		return "none"
	}
	return c.Notifications.Type
}

func (c *Config) NotifierMessages() map[notify.MessageType]notify.Message {
	return c.Notifications.Messages.Resolve()
}

// LogLevel parses log.level, falling back to info.
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// resolveAPIKeyForProvider returns the API key for a provider from config or env
func (c *Config) resolveAPIKeyForProvider(providerName string) string {
	if c.Providers != nil {
		if pc, ok := c.Providers[providerName]; ok && pc.APIKey != "" {
			return pc.APIKey
		}
	}
	if envVar, ok := providerEnvVars[providerName]; ok {
		return strings.TrimSpace(os.Getenv(envVar))
	}
	return ""
}
