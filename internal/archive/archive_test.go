package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/leonardotrapani/callscribe/internal/conversation"
	"github.com/leonardotrapani/callscribe/internal/dispatch"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "archive.db"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_InsertAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, status := range []string{StatusDelivered, StatusFailed} {
		_, err := s.Insert(ctx, Record{
			BatchID:   []string{"first", "second"}[i],
			CreatedAt: created.Add(time.Duration(i) * time.Minute),
			Reason:    "threshold",
			Lines:     5,
			Text:      "Agent: hi",
			Status:    status,
		})
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	records, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].BatchID != "second" || records[1].BatchID != "first" {
		t.Errorf("order = %s, %s; want newest first", records[0].BatchID, records[1].BatchID)
	}
	if !records[1].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", records[1].CreatedAt, created)
	}
}

func TestStore_DispatchedRecordsOutcome(t *testing.T) {
	s := openTestStore(t)

	batch := conversation.Batch{
		ID:        "b-1",
		Reason:    conversation.FlushManual,
		CreatedAt: time.Now(),
		Lines: []conversation.Line{
			{Label: conversation.Agent, Text: "Hello"},
			{Label: conversation.Customer, Text: "Hi, I need help"},
		},
	}

	s.Dispatched(batch, dispatch.Result{Response: "Greet and ask for the order number."}, nil, 1500*time.Millisecond)
	s.Dispatched(batch, dispatch.Result{}, &dispatch.DispatchError{StatusCode: 502}, 20*time.Millisecond)

	records, err := s.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	failed, delivered := records[0], records[1]
	if delivered.Status != StatusDelivered || delivered.Response != "Greet and ask for the order number." {
		t.Errorf("delivered record = %+v", delivered)
	}
	if delivered.Text != "Agent: Hello\nCustomer: Hi, I need help" || delivered.Lines != 2 {
		t.Errorf("delivered text = %q (%d lines)", delivered.Text, delivered.Lines)
	}
	if delivered.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", delivered.DurationMs)
	}
	if failed.Status != StatusFailed || failed.Error != "dispatch: status 502" {
		t.Errorf("failed record = %+v", failed)
	}
}

func TestStore_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.Insert(context.Background(), Record{BatchID: "kept", CreatedAt: time.Now(), Reason: "shutdown", Text: "x", Status: StatusDelivered})
	s.Close()

	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	records, err := s.Recent(context.Background(), 5)
	if err != nil || len(records) != 1 || records[0].BatchID != "kept" {
		t.Errorf("Recent() = %v, %v; want the kept record", records, err)
	}
}

func TestStore_RecentRejectsBadTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (batch_id, created_at, reason, lines, text, status, duration_ms)
		VALUES ('broken', 'yesterday', 'threshold', 1, 'Agent: hi', ?, 0)`, StatusDelivered)
	if err != nil {
		t.Fatalf("raw insert error = %v", err)
	}

	if _, err := s.Recent(ctx, 5); err == nil {
		t.Error("Recent() should fail on an unparseable created_at")
	}
}

func TestStore_InsertAfterClose(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "a.db"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.Close()

	_, err = s.Insert(context.Background(), Record{BatchID: "late", CreatedAt: time.Now()})
	if err == nil {
		t.Fatal("Insert() after Close() should fail")
	}
}
