package transcriber

import (
	"errors"
	"fmt"

	"github.com/leonardotrapani/callscribe/internal/conversation"
)

// FatalTranscriptionError marks an error after which the connection is gone
// for good (reconnection exhausted).
type FatalTranscriptionError struct {
	Err error
}

func (e *FatalTranscriptionError) Error() string {
	if e == nil || e.Err == nil {
		return "fatal transcription error"
	}
	return e.Err.Error()
}

func (e *FatalTranscriptionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewFatalTranscriptionError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalTranscriptionError{Err: err}
}

func IsFatalTranscriptionError(err error) bool {
	var fatal *FatalTranscriptionError
	return errors.As(err, &fatal)
}

// ServiceError is an error notification from the speech-to-text service on
// one channel. It never tears the session down.
type ServiceError struct {
	Label conversation.Label
	Err   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s transcription: %v", e.Label, e.Err)
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
