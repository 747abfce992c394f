package bus

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const SockName = "control.sock"
const PidName = "callscribe.pid"
const ProtoVer = "0.1"

// Single-byte commands understood by the daemon.
const (
	CmdStatus  byte = 's'
	CmdFlush   byte = 'f'
	CmdVersion byte = 'v'
	CmdQuit    byte = 'q'
)

const dialTimeout = 2 * time.Second

// ~/.cache/callscribe
func runtimeDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "callscribe"), nil
}

// ~/.cache/callscribe/control.sock
func SockPath() (string, error) {
	dir, err := runtimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SockName), nil
}

// ~/.cache/callscribe/callscribe.pid
func PidPath() (string, error) {
	dir, err := runtimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, PidName), nil
}

func Listen(sockPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(sockPath), 0o700); err != nil {
		return nil, err
	}
	_ = os.Remove(sockPath) // stale socket from last run
	return net.Listen("unix", sockPath)
}

func Dial(sockPath string) (net.Conn, error) {
	return net.DialTimeout("unix", sockPath, dialTimeout)
}

// SendCommand sends one command to the daemon listening on sockPath and
// returns its single-line reply without the trailing newline.
func SendCommand(sockPath string, cmd byte) (string, error) {
	c, err := Dial(sockPath)
	if err != nil {
		return "", err
	}
	defer c.Close()

	_, err = c.Write([]byte{cmd, '\n'})
	if err != nil {
		return "", err
	}

	resp, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(resp, "\n"), nil
}

// Reply splits a daemon reply into its kind (OK, STATUS, ERR) and payload.
// An ERR reply is returned as an error.
func Reply(resp string) (kind, payload string, err error) {
	kind, payload, _ = strings.Cut(resp, " ")
	if kind == "ERR" {
		return kind, payload, fmt.Errorf("daemon: %s", payload)
	}
	return kind, payload, nil
}

// PidFile guards against two daemons running at once.
type PidFile struct {
	path string
}

func NewPidFile(path string) *PidFile {
	return &PidFile{path: path}
}

func (p *PidFile) Path() string { return p.path }

// CheckExisting fails when the pid file names a live process. Stale or
// unreadable pid files are removed.
func (p *PidFile) CheckExisting() error {
	pidData, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil // no existing daemon
	}
	if err != nil {
		return err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil || pid <= 0 {
		_ = os.Remove(p.path)
		return nil // invalid pid file, assume stale
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		_ = os.Remove(p.path)
		return nil
	}

	// Signal 0 only checks that the process exists.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(p.path)
		return nil
	}

	return fmt.Errorf("daemon already running with PID %d", pid)
}

func (p *PidFile) Create() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

func (p *PidFile) Remove() error {
	err := os.Remove(p.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
