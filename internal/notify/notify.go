package notify

import (
	"fmt"
	"os/exec"

	"github.com/charmbracelet/log"
)

const appName = "callscribe"

type MessageType int

const (
	PipelineStarted MessageType = iota
	PipelineStopped
	DeviceFailed
	DispatchFailed
	ConfigReloaded
)

type Message struct {
	Title   string
	Body    string
	IsError bool
}

// MessageDef describes a notification and the config key that can override it.
type MessageDef struct {
	Type         MessageType
	ConfigKey    string
	DefaultTitle string
	DefaultBody  string
	IsError      bool
}

var MessageDefs = []MessageDef{
	{PipelineStarted, "pipeline_started", "Callscribe", "Capturing Agent and Customer", false},
	{PipelineStopped, "pipeline_stopped", "Callscribe", "Capture stopped", false},
	{DeviceFailed, "device_failed", "Callscribe Error", "Audio device failed", true},
	{DispatchFailed, "dispatch_failed", "Callscribe Error", "Conversation batch was not delivered", true},
	{ConfigReloaded, "config_reloaded", "Callscribe", "Configuration reloaded", false},
}

// DefaultMessages returns every message with its built-in text.
func DefaultMessages() map[MessageType]Message {
	msgs := make(map[MessageType]Message, len(MessageDefs))
	for _, def := range MessageDefs {
		msgs[def.Type] = Message{Title: def.DefaultTitle, Body: def.DefaultBody, IsError: def.IsError}
	}
	return msgs
}

type Notifier interface {
	// Send shows the message for t; detail, when set, is appended to the body.
	Send(t MessageType, detail string)
	Error(msg string)
}

// New returns the notifier for kind: "desktop", "log" or anything else for Nop.
func New(kind string, messages map[MessageType]Message, logger *log.Logger) Notifier {
	if messages == nil {
		messages = DefaultMessages()
	}
	if logger == nil {
		logger = log.Default()
	}
	switch kind {
	case "desktop":
		return &Desktop{Messages: messages, logger: logger.WithPrefix("notify"), command: exec.Command}
	case "log":
		return &Log{Messages: messages, logger: logger.WithPrefix("notify")}
	default:
		return Nop{}
	}
}

func render(messages map[MessageType]Message, t MessageType, detail string) Message {
	msg, ok := messages[t]
	if !ok {
		msg = DefaultMessages()[t]
	}
	if detail != "" {
		if msg.Body == "" {
			msg.Body = detail
		} else {
			msg.Body = fmt.Sprintf("%s: %s", msg.Body, detail)
		}
	}
	return msg
}

// Desktop sends notifications through notify-send.
type Desktop struct {
	Messages map[MessageType]Message
	logger   *log.Logger
	command  func(name string, args ...string) *exec.Cmd
}

func (d *Desktop) Send(t MessageType, detail string) {
	msg := render(d.Messages, t, detail)
	d.run(d.args(msg)...)
}

func (d *Desktop) Error(msg string) {
	d.run(d.args(Message{Title: "Callscribe Error", Body: msg, IsError: true})...)
}

func (d *Desktop) args(msg Message) []string {
	args := []string{"-a", appName}
	if msg.IsError {
		args = append(args, "-u", "critical")
	}
	args = append(args, msg.Title)
	if msg.Body != "" {
		args = append(args, msg.Body)
	}
	return args
}

func (d *Desktop) run(args ...string) {
	cmd := d.command("notify-send", args...)
	if err := cmd.Run(); err != nil {
		d.logger.Warn("failed to send notification", "err", err)
	}
}

// Log writes notifications to the logger instead of the desktop.
type Log struct {
	Messages map[MessageType]Message
	logger   *log.Logger
}

func (l *Log) Send(t MessageType, detail string) {
	msg := render(l.Messages, t, detail)
	if msg.IsError {
		l.logger.Error(msg.Title, "body", msg.Body)
		return
	}
	l.logger.Info(msg.Title, "body", msg.Body)
}

func (l *Log) Error(msg string) {
	l.logger.Error("Callscribe Error", "body", msg)
}

// Nop is a Notifier that does absolutely nothing.
// Useful in unit tests or headless builds.
type Nop struct{}

func (Nop) Send(t MessageType, detail string) {}
func (Nop) Error(msg string)                  {}
