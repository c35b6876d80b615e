package db

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "events.db")
	database, err := Open(path)
	if err != nil {
		t.Fatalf("open with missing parent: %v", err)
	}
	database.Close()
}

func TestLogAndQueryProcessEvents(t *testing.T) {
	database := openTestDB(t)

	events := []struct {
		id    int
		typ   string
		extra string
	}{
		{1, "launched", "pid 4242"},
		{1, "socket_bound", ""},
		{2, "adopted", "pid 555"},
		{1, "exited", "code 0"},
	}
	for _, e := range events {
		if err := database.LogProcessEvent(e.id, e.typ, e.extra); err != nil {
			t.Fatalf("log %s: %v", e.typ, err)
		}
	}

	got, err := database.RecentProcessEvents(1, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events for process 1, want 3", len(got))
	}
	// Newest first.
	if got[0].EventType != "exited" {
		t.Errorf("newest event is %q, want exited", got[0].EventType)
	}
	if got[2].EventType != "launched" || got[2].Details != "pid 4242" {
		t.Errorf("oldest event %q/%q", got[2].EventType, got[2].Details)
	}
	for _, e := range got {
		if e.ProcessID != 1 {
			t.Errorf("event for process %d leaked into query", e.ProcessID)
		}
		if e.Timestamp.IsZero() {
			t.Error("timestamp not recorded")
		}
	}
}

func TestRecentProcessEvents_Limit(t *testing.T) {
	database := openTestDB(t)

	for i := 0; i < 10; i++ {
		if err := database.LogProcessEvent(1, "tick", ""); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	got, err := database.RecentProcessEvents(1, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d events, want 3", len(got))
	}
}

func TestRecentProcessEvents_Empty(t *testing.T) {
	database := openTestDB(t)

	got, err := database.RecentProcessEvents(99, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no events, got %v", got)
	}
}

func TestLogDaemonEvent(t *testing.T) {
	database := openTestDB(t)

	if err := database.LogDaemonEvent("started", "port 40111"); err != nil {
		t.Fatalf("log daemon event: %v", err)
	}
	if err := database.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	database, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := database.LogProcessEvent(1, "launched", ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	database, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer database.Close()

	got, err := database.RecentProcessEvents(1, 10)
	if err != nil {
		t.Fatalf("query after reopen: %v", err)
	}
	if len(got) != 1 || got[0].EventType != "launched" {
		t.Errorf("events lost across reopen: %v", got)
	}
}
