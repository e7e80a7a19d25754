package logstore

import (
	"log/slog"
	"testing"
	"time"
)

func newTestBadger(t *testing.T) *Badger {
	t.Helper()
	cfg := DefaultBadgerConfig(t.TempDir())
	cfg.GCInterval = time.Hour // disable auto GC during tests

	b, err := NewBadger(cfg, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBadger_AppendAndGet(t *testing.T) {
	b := newTestBadger(t)

	if err := b.Append([]Entry{e(1, 1), e(1, 2)}); err != nil {
		t.Fatal(err)
	}

	entry, ok, err := b.Get(2)
	if err != nil || !ok {
		t.Fatalf("Get(2) = %+v, %v, %v", entry, ok, err)
	}
	if entry.Term != 1 {
		t.Errorf("entry.Term = %d, want 1", entry.Term)
	}
	if b.LastIndex() != 2 {
		t.Errorf("LastIndex() = %d, want 2", b.LastIndex())
	}
}

func TestBadger_AppendGapFails(t *testing.T) {
	b := newTestBadger(t)
	if err := b.Append([]Entry{e(1, 1)}); err != nil {
		t.Fatal(err)
	}
	if err := b.Append([]Entry{e(1, 3)}); err != ErrLogNotFound {
		t.Errorf("Append with gap = %v, want ErrLogNotFound", err)
	}
}

func TestBadger_AppendOverlapTruncates(t *testing.T) {
	b := newTestBadger(t)
	if err := b.Append([]Entry{e(1, 1), e(1, 2), e(2, 3)}); err != nil {
		t.Fatal(err)
	}
	if err := b.Append([]Entry{e(3, 2)}); err != nil {
		t.Fatal(err)
	}

	if b.LastIndex() != 2 {
		t.Errorf("LastIndex() = %d, want 2", b.LastIndex())
	}
	if _, ok, _ := b.Get(3); ok {
		t.Error("expected index 3 gone after truncation")
	}
}

func TestBadger_CommitMonotonic(t *testing.T) {
	b := newTestBadger(t)
	_ = b.Append([]Entry{e(1, 1), e(1, 2), e(1, 3)})

	if err := b.Commit(2); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(1); err != ErrInvalidCommit {
		t.Errorf("Commit backwards = %v, want ErrInvalidCommit", err)
	}
	if b.CommittedIndex() != 2 {
		t.Errorf("CommittedIndex() = %d, want 2", b.CommittedIndex())
	}
}

func TestBadger_SnapshotAndRestore(t *testing.T) {
	b := newTestBadger(t)
	_ = b.Append([]Entry{e(1, 1), e(1, 2), e(2, 3)})
	_ = b.Commit(2)

	meta, err := b.Snapshot([]byte("state"))
	if err != nil {
		t.Fatal(err)
	}
	if meta.LastIndex != 2 || meta.LastTerm != 1 {
		t.Errorf("meta = %+v, want LastIndex=2 LastTerm=1", meta)
	}
	if _, ok, _ := b.Get(1); ok {
		t.Error("expected index 1 compacted away")
	}
	if _, ok, _ := b.Get(3); !ok {
		t.Error("expected index 3 to remain live")
	}

	loadedMeta, data, ok, err := b.LoadSnapshot()
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot() = %+v, %v, %v", loadedMeta, ok, err)
	}
	if string(data) != "state" {
		t.Errorf("LoadSnapshot() data = %q, want %q", data, "state")
	}

	stale := SnapshotMetadata{LastIndex: 1, LastTerm: 1}
	if err := b.RestoreSnapshot(stale, nil); err != ErrStaleSnapshot {
		t.Errorf("restoring stale snapshot = %v, want ErrStaleSnapshot", err)
	}
}

func TestBadger_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultBadgerConfig(dir)
	cfg.GCInterval = time.Hour

	b1, err := NewBadger(cfg, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := b1.Append([]Entry{e(1, 1), e(1, 2)}); err != nil {
		t.Fatal(err)
	}
	if err := b1.Commit(2); err != nil {
		t.Fatal(err)
	}
	if err := b1.Close(); err != nil {
		t.Fatal(err)
	}

	b2, err := NewBadger(cfg, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()

	if got := b2.LastIndex(); got != 2 {
		t.Errorf("LastIndex() after reopen = %d, want 2", got)
	}
	if got := b2.CommittedIndex(); got != 2 {
		t.Errorf("CommittedIndex() after reopen = %d, want 2", got)
	}
	entry, ok, err := b2.Get(1)
	if err != nil || !ok || entry.Term != 1 {
		t.Errorf("Get(1) after reopen = %+v, %v, %v", entry, ok, err)
	}
}
