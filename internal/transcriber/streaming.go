package transcriber

import "context"

// TranscriptionResult represents a single transcription result from a streaming adapter
type TranscriptionResult struct {
	Text    string // the transcription text
	IsFinal bool   // true once the service will not revise the segment
	Error   error  // non-nil if the service reported an error
}

// StreamingAdapter interface for streaming transcription backends (send audio in real-time)
type StreamingAdapter interface {
	// Start initiates the streaming connection with the given language setting
	Start(ctx context.Context, language string) error

	// SendChunk sends a chunk of audio data to the transcription service
	SendChunk(audio []byte) error

	// Results returns a channel that receives transcription results.
	// It is closed when the connection ends.
	Results() <-chan TranscriptionResult

	// Finalize signals end of audio input and waits for final transcription results.
	// The ctx bounds the wait.
	Finalize(ctx context.Context) error

	// Close gracefully closes the streaming connection
	Close() error
}
