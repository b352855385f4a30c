package resume

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/admitly/viva/internal/store"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	rec := Record{
		SessionID:    "sess-1",
		TargetID:     "target-1",
		Status:       store.StateInterrupted,
		LastSequence: 42,
	}
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load("target-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load reported no record")
	}
	if got.SessionID != "sess-1" || got.LastSequence != 42 || got.Status != store.StateInterrupted {
		t.Errorf("loaded record = %+v", got)
	}
	if got.SavedAt.IsZero() {
		t.Error("SavedAt not stamped")
	}
}

func TestLoadMissingTarget(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, ok, err := s.Load("never-saved")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("Load reported a record for an unknown target")
	}
}

func TestLoadExpiredRecordIsPurged(t *testing.T) {
	dir := t.TempDir()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewStore(dir, WithClock(func() time.Time { return current }))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := s.Save(Record{SessionID: "sess-1", TargetID: "t1", Status: store.StateInterrupted}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Just inside the window the record is still there.
	current = current.Add(DefaultTTL - time.Minute)
	if _, ok, _ := s.Load("t1"); !ok {
		t.Fatal("record expired before the retention window")
	}

	current = current.Add(2 * time.Minute)
	if _, ok, _ := s.Load("t1"); ok {
		t.Error("record survived past the retention window")
	}
	if _, err := os.Stat(filepath.Join(dir, "t1.json")); !os.IsNotExist(err) {
		t.Error("expired record file not purged")
	}
}

func TestLoadCorruptRecordIsDropped(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "t1.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.Load("t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("Load reported a record from a corrupt file")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Save(Record{SessionID: "s", TargetID: "t1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("t1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if _, ok, _ := s.Load("t1"); ok {
		t.Error("record still loadable after Delete")
	}
}

func TestPathSanitisesTargetID(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Save(Record{SessionID: "s", TargetID: "../weird/../id"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok, err := s.Load("../weird/../id"); err != nil || !ok {
		t.Errorf("Load(sanitised) = ok=%v err=%v, want record", ok, err)
	}
}
