package msgsink

import (
	"path/filepath"
	"testing"
)

func TestAppendAndQuery(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(filepath.Join(dir, "messages.log"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer s.Close()

	s.Append(1700000000, 0, "ccd1", 2, "exposure started")
	s.Append(1700000001, 0, "filterd", 1, "wheel homed")

	msgs, err := s.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
}

func TestQueryFiltersByOriginAndMinType(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(filepath.Join(dir, "messages.log"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer s.Close()

	s.Append(1700000000, 0, "ccd1", 0, "debug noise")
	s.Append(1700000001, 0, "ccd1", 3, "error condition")
	s.Append(1700000002, 0, "filterd", 3, "unrelated error")

	msgs, err := s.Query(Filter{Origin: "ccd1", MinType: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "error condition" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestQueryMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := &FileSink{path: filepath.Join(dir, "nope.log")}
	msgs, err := s.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty result, got %v", msgs)
	}
}

func TestRotationCreatesBackup(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(filepath.Join(dir, "messages.log"), RotationConfig{MaxSize: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer s.Close()

	s.Append(1700000000, 0, "ccd1", 2, "first")
	s.Append(1700000001, 0, "ccd1", 2, "second")

	matches, _ := filepath.Glob(filepath.Join(dir, "messages.log.*"))
	if len(matches) == 0 {
		t.Error("expected at least one rotated backup file")
	}
}
