package logstore

import "testing"

func e(term, index uint64) Entry {
	return Entry{Term: term, Index: index, Data: []byte("x")}
}

func TestMemory_AppendContiguous(t *testing.T) {
	s := NewMemory()

	if err := s.Append([]Entry{e(1, 1), e(1, 2)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := s.LastIndex(); got != 2 {
		t.Errorf("LastIndex() = %d, want 2", got)
	}
	if got := s.LastTerm(); got != 1 {
		t.Errorf("LastTerm() = %d, want 1", got)
	}
}

func TestMemory_AppendGapFails(t *testing.T) {
	s := NewMemory()
	if err := s.Append([]Entry{e(1, 1)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append([]Entry{e(1, 3)}); err != ErrLogNotFound {
		t.Errorf("Append with gap = %v, want ErrLogNotFound", err)
	}
}

func TestMemory_AppendOverlapTruncates(t *testing.T) {
	s := NewMemory()
	if err := s.Append([]Entry{e(1, 1), e(1, 2), e(2, 3)}); err != nil {
		t.Fatal(err)
	}

	// A new leader overwrites from index 2 onward with a higher term.
	if err := s.Append([]Entry{e(3, 2)}); err != nil {
		t.Fatal(err)
	}

	if got := s.LastIndex(); got != 2 {
		t.Errorf("LastIndex() = %d, want 2", got)
	}
	entry, ok, err := s.Get(2)
	if err != nil || !ok {
		t.Fatalf("Get(2): %v, %v, %v", entry, ok, err)
	}
	if entry.Term != 3 {
		t.Errorf("entry.Term = %d, want 3", entry.Term)
	}
	if _, ok, _ := s.Get(3); ok {
		t.Error("expected index 3 to be gone after truncation")
	}
}

func TestMemory_GetZeroIsAbsent(t *testing.T) {
	s := NewMemory()
	_ = s.Append([]Entry{e(1, 1)})
	if _, ok, _ := s.Get(0); ok {
		t.Error("Get(0) should always be absent")
	}
}

func TestMemory_CommitMonotonic(t *testing.T) {
	s := NewMemory()
	_ = s.Append([]Entry{e(1, 1), e(1, 2), e(1, 3)})

	if err := s.Commit(2); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(1); err != ErrInvalidCommit {
		t.Errorf("Commit backwards = %v, want ErrInvalidCommit", err)
	}
	if err := s.Commit(10); err != ErrInvalidCommit {
		t.Errorf("Commit beyond last index = %v, want ErrInvalidCommit", err)
	}
	if got := s.CommittedIndex(); got != 2 {
		t.Errorf("CommittedIndex() = %d, want 2", got)
	}
}

func TestMemory_SnapshotCompactsAndRestores(t *testing.T) {
	s := NewMemory()
	_ = s.Append([]Entry{e(1, 1), e(1, 2), e(2, 3)})
	_ = s.Commit(2)

	meta, err := s.Snapshot([]byte("state"))
	if err != nil {
		t.Fatal(err)
	}
	if meta.LastIndex != 2 || meta.LastTerm != 1 {
		t.Errorf("meta = %+v, want LastIndex=2 LastTerm=1", meta)
	}

	// Entry 1 and 2 are compacted away; 3 remains live.
	if _, ok, _ := s.Get(1); ok {
		t.Error("expected index 1 compacted away")
	}
	if _, ok, _ := s.Get(3); !ok {
		t.Error("expected index 3 to remain")
	}

	other := NewMemory()
	if err := other.RestoreSnapshot(meta, []byte("state")); err != nil {
		t.Fatal(err)
	}
	if other.LastIndex() != meta.LastIndex {
		t.Errorf("after restore LastIndex() = %d, want %d", other.LastIndex(), meta.LastIndex)
	}

	stale := SnapshotMetadata{LastIndex: 1, LastTerm: 1}
	if err := other.RestoreSnapshot(stale, nil); err != ErrStaleSnapshot {
		t.Errorf("restoring stale snapshot = %v, want ErrStaleSnapshot", err)
	}
}

func TestMemory_GetRange(t *testing.T) {
	s := NewMemory()
	_ = s.Append([]Entry{e(1, 1), e(1, 2), e(1, 3), e(1, 4)})

	got, err := s.GetRange(2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Index != 2 || got[1].Index != 3 {
		t.Errorf("GetRange(2,3) = %+v", got)
	}
}
