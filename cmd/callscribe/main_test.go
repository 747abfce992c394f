package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leonardotrapani/callscribe/internal/archive"
	"github.com/leonardotrapani/callscribe/internal/config"
	"github.com/leonardotrapani/callscribe/internal/deps"
	"github.com/leonardotrapani/callscribe/internal/pipeline"
	"github.com/leonardotrapani/callscribe/internal/server"
)

func TestPrintStatus(t *testing.T) {
	body, err := json.Marshal(server.StatusResponse{
		Pipeline: pipeline.Snapshot{
			Status:    pipeline.Running,
			Since:     time.Now(),
			Pending:   3,
			Threshold: 5,
			Channels: []pipeline.ChannelSnapshot{
				{Label: "Agent", Chunks: 120, Transcripts: 4},
				{Label: "Customer", Chunks: 120, Transcripts: 2, ServiceErrors: 1},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := printStatus(&out, "STATUS "+string(body), false); err != nil {
		t.Fatalf("printStatus() error = %v", err)
	}
	for _, want := range []string{"running", "Agent", "Customer", "service_errors=1", "pending 3/5"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("status output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := printStatus(&out, "STATUS "+string(body), true); err != nil {
		t.Fatalf("printStatus(raw) error = %v", err)
	}
	if strings.TrimSpace(out.String()) != string(body) {
		t.Errorf("raw output = %q", out.String())
	}

	if err := printStatus(&out, "ERR read_error: EOF", false); err == nil {
		t.Error("printStatus() should surface daemon errors")
	}
}

func TestRunConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callscribe", "config.toml")

	var out bytes.Buffer
	if err := runConfig(&out, path, true); err != nil {
		t.Fatalf("runConfig(write) error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if err := runConfig(&out, path, true); err == nil {
		t.Error("runConfig(write) should refuse to overwrite")
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Providers["deepgram"] = config.ProviderConfig{APIKey: "dg-secret"}
	if err := config.Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := runConfig(&out, path, false); err != nil {
		t.Fatalf("runConfig() error = %v", err)
	}
	if strings.Contains(out.String(), "dg-secret") {
		t.Error("printed config must not leak API keys")
	}
	if !strings.Contains(out.String(), "threshold = 5") {
		t.Errorf("printed config missing threshold:\n%s", out.String())
	}
}

func TestRunHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batches.db")

	var out bytes.Buffer
	if err := runHistory(context.Background(), &out, path, 5); err != nil {
		t.Fatalf("runHistory() error = %v", err)
	}
	if !strings.Contains(out.String(), "No batches") {
		t.Errorf("empty archive output = %q", out.String())
	}

	store, err := archive.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Insert(context.Background(), archive.Record{
		BatchID:   "b-1",
		CreatedAt: time.Now(),
		Reason:    "threshold",
		Lines:     2,
		Text:      "Agent: hello\nCustomer: my order is late",
		Status:    archive.StatusDelivered,
		Response:  "Offer a refund",
	})
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	out.Reset()
	if err := runHistory(context.Background(), &out, path, 5); err != nil {
		t.Fatalf("runHistory() error = %v", err)
	}
	for _, want := range []string{"delivered", "Customer: my order is late", "response: Offer a refund"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("history output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunDoctor(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	cfg := config.DefaultConfig()

	var out bytes.Buffer
	err := runDoctor(&out, deps.NewChecker(), cfg)
	if err == nil || !strings.Contains(err.Error(), "configuration invalid") {
		t.Errorf("runDoctor() error = %v, want invalid configuration", err)
	}
	if !strings.Contains(out.String(), "pw-record") {
		t.Errorf("doctor output should list pw-record:\n%s", out.String())
	}
	if strings.Contains(out.String(), "notify-send") {
		t.Error("notify-send is only checked when desktop notifications are on")
	}
}
