package conversation

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const logTimeLayout = "2006-01-02 15:04:05"

// Log is the append-only conversation audit trail. It is never read back.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func OpenLog(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open conversation log %s: %w", path, err)
	}
	return &Log{path: path, file: f}, nil
}

func (l *Log) Path() string { return l.path }

// Write appends one "[timestamp] Label: text" entry.
func (l *Log) Write(line Line) error {
	entry := fmt.Sprintf("[%s] %s: %s\n", line.At.Format(logTimeLayout), line.Label, line.Text)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("conversation log closed")
	}
	_, err := l.file.WriteString(entry)
	return err
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
