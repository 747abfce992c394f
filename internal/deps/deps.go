package deps

import (
	"os/exec"
	"strings"
)

// Status represents the installation status of a dependency
type Status struct {
	Installed bool
	Path      string
	Version   string
}

// Tool is an external program callscribe shells out to.
type Tool struct {
	Name        string
	VersionFlag string
	Purpose     string
	Required    bool
}

var (
	PwRecord   = Tool{Name: "pw-record", VersionFlag: "--version", Purpose: "audio capture (pipewire-tools)", Required: true}
	NotifySend = Tool{Name: "notify-send", VersionFlag: "--version", Purpose: "desktop notifications (libnotify)"}
)

// Tools lists every external program, required ones first. NotifySend is
// only listed when desktop notifications are enabled.
func Tools(desktopNotifications bool) []Tool {
	tools := []Tool{PwRecord}
	if desktopNotifications {
		tools = append(tools, NotifySend)
	}
	return tools
}

type Checker struct {
	lookPath func(string) (string, error)
	output   func(name string, args ...string) ([]byte, error)
}

func NewChecker() *Checker {
	return &Checker{
		lookPath: exec.LookPath,
		output: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
	}
}

// Check reports whether tool is on PATH and, if so, the first line of its
// version output.
func (c *Checker) Check(tool Tool) Status {
	path, err := c.lookPath(tool.Name)
	if err != nil {
		return Status{Installed: false}
	}

	status := Status{
		Installed: true,
		Path:      path,
	}
	if tool.VersionFlag == "" {
		return status
	}

	output, err := c.output(path, tool.VersionFlag)
	if err == nil {
		lines := strings.Split(strings.TrimSpace(string(output)), "\n")
		if len(lines) > 0 {
			status.Version = strings.TrimSpace(lines[0])
		}
	}

	return status
}

// Missing returns the required tools that are not installed.
func (c *Checker) Missing(tools []Tool) []Tool {
	var missing []Tool
	for _, t := range tools {
		if t.Required && !c.Check(t).Installed {
			missing = append(missing, t)
		}
	}
	return missing
}
