package config

import "time"

const (
	DefaultDispatchEndpoint = "http://127.0.0.1:5000/process_conversation"
	DefaultLogFile          = "conversation_log.txt"
	DefaultSystemPrompt     = "You are an assistant supporting a customer service agent. " +
		"Given the latest part of a call transcript, reply with a short, actionable suggestion for the agent."
)

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Audio: AudioConfig{
			SampleRate:        32000,
			Channels:          1,
			Format:            "s16",
			FramesPerChunk:    4000,
			MaxBufferedChunks: 500,
			PollInterval:      10 * time.Millisecond,
			StartGrace:        300 * time.Millisecond,
		},
		Transcription: TranscriptionConfig{
			Provider:      "deepgram",
			Model:         "nova-2",
			Punctuate:     true,
			FinishTimeout: 5 * time.Second,
		},
		Conversation: ConversationConfig{
			Threshold: 5,
			LogFile:   DefaultLogFile,
		},
		Dispatch: DispatchConfig{
			Sink:         "http",
			Endpoint:     DefaultDispatchEndpoint,
			Timeout:      30 * time.Second,
			QueueSize:    16,
			Model:        "gpt-4o-mini",
			SystemPrompt: DefaultSystemPrompt,
		},
		Providers: make(map[string]ProviderConfig),
		Notifications: NotificationsConfig{
			Enabled: false,
			Type:    "log",
		},
	}
}
