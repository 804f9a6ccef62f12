package store

import (
	"path/filepath"
	"testing"
)

func TestOpenRunsMigrationsAndRecordsEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "replay.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.RecordFrameEvent(1, 42, "captured", 1000); err != nil {
		t.Fatalf("RecordFrameEvent: %v", err)
	}
	if err := s.RecordBootstrapEvent(1, 2000); err != nil {
		t.Fatalf("RecordBootstrapEvent: %v", err)
	}
	if err := s.RecordDelaySlotEvent(7, 0, "claim", 3000); err != nil {
		t.Fatalf("RecordDelaySlotEvent: %v", err)
	}
}

func TestOpenIsIdempotentOnAnExistingDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "replay.db")

	s1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close first handle: %v", err)
	}

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	if err := s2.RecordFrameEvent(1, 1, "start", 0); err != nil {
		t.Fatalf("RecordFrameEvent after reopen: %v", err)
	}
}
