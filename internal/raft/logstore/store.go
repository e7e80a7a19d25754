// Package logstore implements the Raft log store abstraction: an
// append-only, 1-based indexed log with a commit pointer and snapshot
// persistence. Two backends are provided: an in-memory store for tests
// and single-node operation, and a Badger-backed store whose entries and
// snapshots survive process restart.
package logstore

import (
	"errors"
	"time"
)

// Errors returned by Store implementations.
var (
	// ErrLogNotFound is returned by Append when the first new entry's
	// index leaves a gap after the current tail. Get reports an index
	// that has been compacted away or never existed with ok=false and a
	// nil error, not with this error.
	ErrLogNotFound = errors.New("logstore: log not found")

	// ErrInvalidCommit is returned by Commit when the requested index
	// is not within [committed_index, last_index].
	ErrInvalidCommit = errors.New("logstore: invalid commit index")

	// ErrStaleSnapshot is returned by RestoreSnapshot when the incoming
	// snapshot is not newer than the one currently held.
	ErrStaleSnapshot = errors.New("logstore: snapshot is not newer than current")
)

// Entry is a single Raft log record.
type Entry struct {
	Term      uint64
	Index     uint64
	Data      []byte
	Timestamp time.Time
}

// SnapshotMetadata describes a persisted snapshot.
type SnapshotMetadata struct {
	LastIndex uint64
	LastTerm  uint64
	Timestamp time.Time
}

// Store is the Raft log store contract shared by every backend.
//
// Indexing is 1-based; Get(0) is defined to be absent. Append enforces
// contiguity with the existing tail, truncating on overlap from a new
// leader and failing with ErrLogNotFound on a genuine gap. Commit is a
// local bookkeeping operation: it records that a majority has persisted
// up to a given index, and must be monotonically non-decreasing.
type Store interface {
	// Append appends entries to the log. If the first entry's index is
	// <= the current last index, the tail is truncated from that index
	// first (handling a new leader overwriting uncommitted entries). If
	// the first entry's index is > last_index+1, it fails with
	// ErrLogNotFound.
	Append(entries []Entry) error

	// Get returns the entry at index, or ok=false if absent (including
	// index 0, by convention).
	Get(index uint64) (entry Entry, ok bool, err error)

	// GetRange returns entries with index in [start, end], inclusive.
	GetRange(start, end uint64) ([]Entry, error)

	// DeleteFrom drops all entries with index >= index.
	DeleteFrom(index uint64) error

	// LastIndex returns the index of the last entry, or 0 if empty.
	LastIndex() uint64

	// LastTerm returns the term of the last entry, or 0 if empty.
	LastTerm() uint64

	// Commit advances the committed index. index must satisfy
	// committed_index <= index <= LastIndex(), else ErrInvalidCommit.
	Commit(index uint64) error

	// CommittedIndex returns the current commit pointer.
	CommittedIndex() uint64

	// Snapshot serializes the committed prefix, persists it alongside
	// data, and compacts the in-memory/on-disk log: entries up to and
	// including meta.LastIndex are dropped, and the log continues at
	// LastIndex+1.
	Snapshot(data []byte) (meta SnapshotMetadata, err error)

	// RestoreSnapshot replaces the log and commit pointer from a
	// persisted snapshot. Refuses (ErrStaleSnapshot) if meta is not
	// newer than the snapshot currently held.
	RestoreSnapshot(meta SnapshotMetadata, data []byte) error

	// LoadSnapshot returns the most recently persisted snapshot, if any.
	LoadSnapshot() (meta SnapshotMetadata, data []byte, ok bool, err error)

	// Close releases any resources (file handles, background loops).
	Close() error
}
