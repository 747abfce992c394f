package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/leonardotrapani/callscribe/internal/transcriber"
)

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("invalid audio.sample_rate: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("invalid audio.channels: %d", c.Audio.Channels)
	}
	if c.Audio.Format != "s16" {
		return fmt.Errorf("invalid audio.format: %q (only s16 is supported)", c.Audio.Format)
	}
	if c.Audio.FramesPerChunk <= 0 {
		return fmt.Errorf("invalid audio.frames_per_chunk: %d", c.Audio.FramesPerChunk)
	}
	if c.Audio.MaxBufferedChunks <= 0 {
		return fmt.Errorf("invalid audio.max_buffered_chunks: %d", c.Audio.MaxBufferedChunks)
	}
	if c.Audio.PollInterval <= 0 {
		return fmt.Errorf("invalid audio.poll_interval: %v", c.Audio.PollInterval)
	}
	if c.Audio.StartGrace <= 0 {
		return fmt.Errorf("invalid audio.start_grace: %v", c.Audio.StartGrace)
	}

	switch c.Transcription.Provider {
	case "deepgram":
		if c.resolveAPIKeyForProvider("deepgram") == "" {
			return fmt.Errorf("Deepgram API key required: not found in config (providers.deepgram.api_key) or environment variable (DEEPGRAM_API_KEY)")
		}
	case "":
		return fmt.Errorf("invalid transcription.provider: empty")
	default:
		return fmt.Errorf("invalid transcription.provider: %s (must be deepgram)", c.Transcription.Provider)
	}
	if c.Transcription.Model == "" {
		return fmt.Errorf("invalid transcription.model: empty")
	}
	if m, ok := transcriber.LookupDeepgramModel(c.Transcription.Model); ok && !m.Supports(c.Transcription.Language) {
		return fmt.Errorf("invalid transcription.language: %q (not supported by %s)", c.Transcription.Language, m.ID)
	}
	if c.Transcription.Endpoint != "" {
		if err := validateURL(c.Transcription.Endpoint, "ws", "wss"); err != nil {
			return fmt.Errorf("invalid transcription.endpoint: %w", err)
		}
	}
	if c.Transcription.FinishTimeout <= 0 {
		return fmt.Errorf("invalid transcription.finish_timeout: %v", c.Transcription.FinishTimeout)
	}

	if c.Conversation.Threshold <= 0 {
		return fmt.Errorf("invalid conversation.threshold: %d", c.Conversation.Threshold)
	}
	if strings.TrimSpace(c.Conversation.LogFile) == "" {
		return fmt.Errorf("invalid conversation.log_file: empty")
	}
	if c.Conversation.FlushInterval < 0 {
		return fmt.Errorf("invalid conversation.flush_interval: %v", c.Conversation.FlushInterval)
	}

	switch c.Dispatch.Sink {
	case "http":
		if err := validateURL(c.Dispatch.Endpoint, "http", "https"); err != nil {
			return fmt.Errorf("invalid dispatch.endpoint: %w", err)
		}
	case "openai":
		if c.resolveAPIKeyForProvider("openai") == "" {
			return fmt.Errorf("OpenAI API key required: not found in config (providers.openai.api_key) or environment variable (OPENAI_API_KEY)")
		}
		if c.Dispatch.Model == "" {
			return fmt.Errorf("invalid dispatch.model: empty")
		}
	case "none":
	default:
		return fmt.Errorf("invalid dispatch.sink: %q (must be http, openai or none)", c.Dispatch.Sink)
	}
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("invalid dispatch.timeout: %v", c.Dispatch.Timeout)
	}
	if c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("invalid dispatch.queue_size: %d", c.Dispatch.QueueSize)
	}

	if c.Notifications.Enabled {
		switch c.Notifications.Type {
		case "desktop", "log", "none":
		default:
			return fmt.Errorf("invalid notifications.type: %q (must be desktop, log or none)", c.Notifications.Type)
		}
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q (scheme must be %s)", raw, strings.Join(schemes, " or "))
}
