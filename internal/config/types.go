package config

import (
	"reflect"
	"time"

	"github.com/leonardotrapani/callscribe/internal/notify"
)

type Config struct {
	Log           LogConfig                 `toml:"log"`
	Audio         AudioConfig               `toml:"audio"`
	Channels      ChannelsConfig            `toml:"channels"`
	Transcription TranscriptionConfig       `toml:"transcription"`
	Conversation  ConversationConfig        `toml:"conversation"`
	Dispatch      DispatchConfig            `toml:"dispatch"`
	Providers     map[string]ProviderConfig `toml:"providers"`
	Server        ServerConfig              `toml:"server"`
	Archive       ArchiveConfig             `toml:"archive"`
	Notifications NotificationsConfig       `toml:"notifications"`
	Keywords      []string                  `toml:"keywords"`
}

type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// AudioConfig is shared by both capture channels.
type AudioConfig struct {
	SampleRate        int           `toml:"sample_rate"`
	Channels          int           `toml:"channels"`
	Format            string        `toml:"format"`
	FramesPerChunk    int           `toml:"frames_per_chunk"`
	MaxBufferedChunks int           `toml:"max_buffered_chunks"`
	PollInterval      time.Duration `toml:"poll_interval"`
	StartGrace        time.Duration `toml:"start_grace"`
}

type ChannelsConfig struct {
	Agent    ChannelConfig `toml:"agent"`
	Customer ChannelConfig `toml:"customer"`
}

type ChannelConfig struct {
	Device string `toml:"device"` // PipeWire target; empty means the default source
}

// ProviderConfig holds API key for a provider
type ProviderConfig struct {
	APIKey string `toml:"api_key"`
}

type TranscriptionConfig struct {
	Provider      string        `toml:"provider"`
	Model         string        `toml:"model"`
	Language      string        `toml:"language"`
	Endpoint      string        `toml:"endpoint"`
	Punctuate     bool          `toml:"punctuate"`
	FinishTimeout time.Duration `toml:"finish_timeout"`
}

type ConversationConfig struct {
	Threshold       int           `toml:"threshold"`
	LogFile         string        `toml:"log_file"`
	FlushInterval   time.Duration `toml:"flush_interval"` // 0 disables the interval flush
	FlushOnShutdown bool          `toml:"flush_on_shutdown"`
}

type DispatchConfig struct {
	Sink         string        `toml:"sink"` // "http", "openai" or "none"
	Endpoint     string        `toml:"endpoint"`
	Timeout      time.Duration `toml:"timeout"`
	QueueSize    int           `toml:"queue_size"`
	Model        string        `toml:"model"`         // openai sink only
	SystemPrompt string        `toml:"system_prompt"` // openai sink only
}

type ServerConfig struct {
	Listen string `toml:"listen"` // empty disables the status server
}

type ArchiveConfig struct {
	Path string `toml:"path"` // empty disables the batch archive
}

type NotificationsConfig struct {
	Enabled  bool           `toml:"enabled"`
	Type     string         `toml:"type"` // "desktop", "log", "none"
	Messages MessagesConfig `toml:"messages"`
}

type MessageConfig struct {
	Title string `toml:"title"`
	Body  string `toml:"body"`
}

type MessagesConfig struct {
	PipelineStarted MessageConfig `toml:"pipeline_started"`
	PipelineStopped MessageConfig `toml:"pipeline_stopped"`
	DeviceFailed    MessageConfig `toml:"device_failed"`
	DispatchFailed  MessageConfig `toml:"dispatch_failed"`
	ConfigReloaded  MessageConfig `toml:"config_reloaded"`
}

// Resolve merges user config with defaults from MessageDefs
func (m *MessagesConfig) Resolve() map[notify.MessageType]notify.Message {
	result := make(map[notify.MessageType]notify.Message)

	v := reflect.ValueOf(m).Elem()
	t := v.Type()
	tagToField := make(map[string]int)
	for i := 0; i < t.NumField(); i++ {
		tagToField[t.Field(i).Tag.Get("toml")] = i
	}

	for _, def := range notify.MessageDefs {
		msg := notify.Message{
			Title:   def.DefaultTitle,
			Body:    def.DefaultBody,
			IsError: def.IsError,
		}
		if idx, ok := tagToField[def.ConfigKey]; ok {
			userMsg := v.Field(idx).Interface().(MessageConfig)
			if userMsg.Title != "" {
				msg.Title = userMsg.Title
			}
			if userMsg.Body != "" {
				msg.Body = userMsg.Body
			}
		}
		result[def.Type] = msg
	}
	return result
}
