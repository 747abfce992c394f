package bus

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPidFileBasics(t *testing.T) {
	pf := NewPidFile(filepath.Join(t.TempDir(), PidName))

	t.Run("create and remove PID file", func(t *testing.T) {
		if err := pf.Create(); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		pidData, err := os.ReadFile(pf.Path())
		if err != nil {
			t.Fatalf("failed to read PID file: %v", err)
		}
		if string(pidData) != strconv.Itoa(os.Getpid()) {
			t.Errorf("PID file contains %q, expected %d", pidData, os.Getpid())
		}

		if err := pf.Remove(); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if _, err := os.Stat(pf.Path()); !os.IsNotExist(err) {
			t.Error("PID file should not exist after removal")
		}
		if err := pf.Remove(); err != nil {
			t.Errorf("second Remove should be a no-op: %v", err)
		}
	})

	t.Run("CheckExisting with no PID file", func(t *testing.T) {
		if err := pf.CheckExisting(); err != nil {
			t.Errorf("CheckExisting should not error when no PID file exists: %v", err)
		}
	})

	t.Run("CheckExisting with current process", func(t *testing.T) {
		if err := pf.Create(); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer pf.Remove()

		if err := pf.CheckExisting(); err == nil {
			t.Error("CheckExisting should fail when process is running")
		}
	})

	stale := []struct {
		name    string
		content string
	}{
		{"stale PID", "99999999"},
		{"invalid PID", "invalid"},
		{"negative PID", "-4"},
	}
	for _, tt := range stale {
		t.Run("CheckExisting with "+tt.name, func(t *testing.T) {
			if err := os.WriteFile(pf.Path(), []byte(tt.content), 0o600); err != nil {
				t.Fatalf("failed to write PID file: %v", err)
			}
			if err := pf.CheckExisting(); err != nil {
				t.Errorf("CheckExisting should succeed: %v", err)
			}
			if _, err := os.Stat(pf.Path()); !os.IsNotExist(err) {
				t.Error("stale PID file should be removed")
			}
		})
	}
}

func serveReplies(t *testing.T, sockPath string) net.Listener {
	t.Helper()
	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 2)
				if n, err := c.Read(buf); err != nil || n != 2 {
					return
				}
				switch buf[0] {
				case CmdStatus:
					fmt.Fprint(c, "STATUS {\"status\":\"running\"}\n")
				case CmdFlush:
					fmt.Fprint(c, "OK flushed lines=3\n")
				case CmdVersion:
					fmt.Fprintf(c, "STATUS proto=%s\n", ProtoVer)
				case CmdQuit:
					fmt.Fprint(c, "OK quitting\n")
				default:
					fmt.Fprintf(c, "ERR unknown=%q\n", buf[0])
				}
			}(conn)
		}
	}()
	return ln
}

func TestSendCommand(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), SockName)
	ln := serveReplies(t, sockPath)
	defer ln.Close()

	tests := []struct {
		cmd      byte
		expected string
	}{
		{CmdStatus, `STATUS {"status":"running"}`},
		{CmdFlush, "OK flushed lines=3"},
		{CmdVersion, "STATUS proto=" + ProtoVer},
		{CmdQuit, "OK quitting"},
		{'x', "ERR unknown='x'"},
	}

	for _, tt := range tests {
		t.Run(string(tt.cmd), func(t *testing.T) {
			resp, err := SendCommand(sockPath, tt.cmd)
			if err != nil {
				t.Fatalf("SendCommand(%c) failed: %v", tt.cmd, err)
			}
			if resp != tt.expected {
				t.Errorf("got %q, expected %q", resp, tt.expected)
			}
		})
	}
}

func TestSendCommandWithoutDaemon(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), SockName)
	if _, err := SendCommand(sockPath, CmdStatus); err == nil {
		t.Error("SendCommand should fail when no daemon is listening")
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "nested", SockName)
	if err := os.MkdirAll(filepath.Dir(sockPath), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sockPath, []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}

	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen over a stale socket failed: %v", err)
	}
	ln.Close()
}

func TestReply(t *testing.T) {
	tests := []struct {
		resp        string
		kind        string
		payload     string
		expectError bool
	}{
		{"OK quitting", "OK", "quitting", false},
		{`STATUS {"a":1}`, "STATUS", `{"a":1}`, false},
		{"ERR unknown='x'", "ERR", "unknown='x'", true},
		{"OK", "OK", "", false},
	}

	for _, tt := range tests {
		kind, payload, err := Reply(tt.resp)
		if kind != tt.kind || payload != tt.payload {
			t.Errorf("Reply(%q) = %q, %q", tt.resp, kind, payload)
		}
		if (err != nil) != tt.expectError {
			t.Errorf("Reply(%q) error = %v, expectError %v", tt.resp, err, tt.expectError)
		}
	}
}

func TestPathFunctions(t *testing.T) {
	sp, err := SockPath()
	if err != nil {
		t.Fatalf("SockPath failed: %v", err)
	}
	if !filepath.IsAbs(sp) || filepath.Base(sp) != SockName {
		t.Errorf("SockPath = %s", sp)
	}

	pp, err := PidPath()
	if err != nil {
		t.Fatalf("PidPath failed: %v", err)
	}
	if filepath.Base(pp) != PidName || filepath.Dir(pp) != filepath.Dir(sp) {
		t.Errorf("PidPath = %s, want %s next to the socket", pp, PidName)
	}
}
