package auditlog

import "testing"

func TestRecordAndRecent(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	store.RecordSessionEvent("sess-1", "created", "cwd=/tmp/sess-1")
	store.RecordError("sess-1", "timeout", "execution exceeded deadline")

	entries, err := store.Recent("sess-1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Event != "error" || entries[0].Code != "timeout" {
		t.Fatalf("expected most recent entry to be the error, got %+v", entries[0])
	}
}

func TestRecentEmptyForUnknownSession(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	entries, err := store.Recent("missing", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected 0 entries, got %d", len(entries))
	}
}
