package conversation

import (
	"fmt"
	"strings"
	"time"
)

// FlushReason records what caused a batch to be cut.
type FlushReason string

const (
	FlushThreshold FlushReason = "threshold"
	FlushInterval  FlushReason = "interval"
	FlushManual    FlushReason = "manual"
	FlushShutdown  FlushReason = "shutdown"
)

// Line is one finalized transcript segment attributed to a speaker.
type Line struct {
	Label Label
	Text  string
	At    time.Time
}

func (l Line) String() string {
	return fmt.Sprintf("%s: %s", l.Label, l.Text)
}

// Batch is a flushed run of conversation lines. A line belongs to exactly one batch.
type Batch struct {
	ID        string
	Lines     []Line
	Reason    FlushReason
	CreatedAt time.Time
}

// Text joins the batch lines with newlines, the form sent downstream.
func (b Batch) Text() string {
	parts := make([]string, len(b.Lines))
	for i, line := range b.Lines {
		parts[i] = line.String()
	}
	return strings.Join(parts, "\n")
}

func (b Batch) Len() int { return len(b.Lines) }
