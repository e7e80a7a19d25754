package logstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// Key prefixes. Log entries are stored under entryPrefix + big-endian
// uint64 index so that Badger's LSM iterator visits them in index order;
// everything else is bookkeeping under fixed keys.
var (
	entryPrefix  = []byte("e:")
	keyCommitted = []byte("m:committed")
	keyBase      = []byte("m:base")
	keySnapMeta  = []byte("m:snapshot:meta")
	keySnapData  = []byte("m:snapshot:data")
)

// BadgerConfig tunes the on-disk log store.
type BadgerConfig struct {
	// Dir is the storage directory.
	Dir string

	// GCInterval is the interval between automatic value-log GC runs.
	GCInterval time.Duration

	// GCThreshold is the discard ratio passed to RunValueLogGC.
	GCThreshold float64

	SyncWrites bool
}

// DefaultBadgerConfig returns sane defaults for a log store.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:         dir,
		GCInterval:  10 * time.Minute,
		GCThreshold: 0.5,
		SyncWrites:  true,
	}
}

// Badger is a Store implementation backed by a Badger key-value database.
// Entries and the most recent snapshot survive process restart; the
// committed index and compaction base are persisted alongside them so a
// restarted node resumes exactly where it left off.
type Badger struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBadger opens (or creates) a Badger-backed log store at cfg.Dir.
func NewBadger(cfg BadgerConfig, logger *slog.Logger) (*Badger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("logstore: badger dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: logger}
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("logstore: open badger: %w", err)
	}

	b := &Badger{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go b.gcLoop()

	logger.Info("raft log store opened", "dir", cfg.Dir)
	return b, nil
}

func entryKey(index uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], index)
	return key
}

func decodeEntryIndex(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(entryPrefix):])
}

type entryRecord struct {
	Term      uint64    `json:"term"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type baseRecord struct {
	Index uint64 `json:"index"`
	Term  uint64 `json:"term"`
}

func (b *Badger) getUint64(txn *badger.Txn, key []byte) (uint64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, true, err
}

func setUint64(txn *badger.Txn, key []byte, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return txn.Set(key, buf)
}

func (b *Badger) getBase(txn *badger.Txn) (baseRecord, error) {
	item, err := txn.Get(keyBase)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return baseRecord{}, nil
	}
	if err != nil {
		return baseRecord{}, err
	}
	var rec baseRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func setBase(txn *badger.Txn, rec baseRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(keyBase, buf)
}

func (b *Badger) lastIndexTxn(txn *badger.Txn, base baseRecord) (uint64, uint64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = entryPrefix
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte(nil), entryPrefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	it.Seek(seek)
	if !it.ValidForPrefix(entryPrefix) {
		return base.Index, base.Term, nil
	}

	item := it.Item()
	index := decodeEntryIndex(item.KeyCopy(nil))
	var rec entryRecord
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return 0, 0, err
	}
	return index, rec.Term, nil
}

func (b *Badger) Append(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	return b.db.Update(func(txn *badger.Txn) error {
		base, err := b.getBase(txn)
		if err != nil {
			return err
		}
		lastIndex, _, err := b.lastIndexTxn(txn, base)
		if err != nil {
			return err
		}

		first := entries[0].Index
		switch {
		case first == lastIndex+1:
		case first <= lastIndex:
			if err := b.deleteFromTxn(txn, first); err != nil {
				return err
			}
			committed, ok, err := b.getUint64(txn, keyCommitted)
			if err != nil {
				return err
			}
			if ok && committed >= first {
				newLast, _, err := b.lastIndexTxn(txn, base)
				if err != nil {
					return err
				}
				if err := setUint64(txn, keyCommitted, newLast); err != nil {
					return err
				}
			}
		default:
			return ErrLogNotFound
		}

		for _, e := range entries {
			rec := entryRecord{Term: e.Term, Data: e.Data, Timestamp: e.Timestamp}
			buf, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(entryKey(e.Index), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) deleteFromTxn(txn *badger.Txn, index uint64) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = entryPrefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var toDelete [][]byte
	for it.Seek(entryKey(index)); it.ValidForPrefix(entryPrefix); it.Next() {
		toDelete = append(toDelete, it.Item().KeyCopy(nil))
	}
	for _, key := range toDelete {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (b *Badger) Get(index uint64) (Entry, bool, error) {
	if index == 0 {
		return Entry{}, false, nil
	}

	var out Entry
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(index))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var rec entryRecord
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
			return err
		}
		out = Entry{Index: index, Term: rec.Term, Data: rec.Data, Timestamp: rec.Timestamp}
		found = true
		return nil
	})
	return out, found, err
}

func (b *Badger) GetRange(start, end uint64) ([]Entry, error) {
	if end < start {
		return nil, nil
	}

	var out []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(entryKey(start)); it.ValidForPrefix(entryPrefix); it.Next() {
			item := it.Item()
			index := decodeEntryIndex(item.KeyCopy(nil))
			if index > end {
				break
			}
			var rec entryRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			out = append(out, Entry{Index: index, Term: rec.Term, Data: rec.Data, Timestamp: rec.Timestamp})
		}
		return nil
	})
	return out, err
}

func (b *Badger) DeleteFrom(index uint64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := b.deleteFromTxn(txn, index); err != nil {
			return err
		}
		committed, ok, err := b.getUint64(txn, keyCommitted)
		if err != nil {
			return err
		}
		if ok && committed >= index {
			base, err := b.getBase(txn)
			if err != nil {
				return err
			}
			newLast, _, err := b.lastIndexTxn(txn, base)
			if err != nil {
				return err
			}
			return setUint64(txn, keyCommitted, newLast)
		}
		return nil
	})
}

func (b *Badger) LastIndex() uint64 {
	idx, _ := b.lastIndexAndTerm()
	return idx
}

func (b *Badger) LastTerm() uint64 {
	_, term := b.lastIndexAndTerm()
	return term
}

func (b *Badger) lastIndexAndTerm() (uint64, uint64) {
	var index, term uint64
	_ = b.db.View(func(txn *badger.Txn) error {
		base, err := b.getBase(txn)
		if err != nil {
			return err
		}
		index, term, err = b.lastIndexTxn(txn, base)
		return err
	})
	return index, term
}

func (b *Badger) Commit(index uint64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		committed, _, err := b.getUint64(txn, keyCommitted)
		if err != nil {
			return err
		}
		base, err := b.getBase(txn)
		if err != nil {
			return err
		}
		last, _, err := b.lastIndexTxn(txn, base)
		if err != nil {
			return err
		}
		if index < committed || index > last {
			return ErrInvalidCommit
		}
		return setUint64(txn, keyCommitted, index)
	})
}

func (b *Badger) CommittedIndex() uint64 {
	var committed uint64
	_ = b.db.View(func(txn *badger.Txn) error {
		v, _, err := b.getUint64(txn, keyCommitted)
		committed = v
		return err
	})
	return committed
}

func (b *Badger) Snapshot(data []byte) (SnapshotMetadata, error) {
	var meta SnapshotMetadata

	err := b.db.Update(func(txn *badger.Txn) error {
		lastIndex, _, err := b.getUint64(txn, keyCommitted)
		if err != nil {
			return err
		}

		base, err := b.getBase(txn)
		if err != nil {
			return err
		}

		var lastTerm uint64
		if lastIndex == base.Index {
			lastTerm = base.Term
		} else {
			item, err := txn.Get(entryKey(lastIndex))
			if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err == nil {
				var rec entryRecord
				if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
					return err
				}
				lastTerm = rec.Term
			}
		}

		meta = SnapshotMetadata{LastIndex: lastIndex, LastTerm: lastTerm, Timestamp: time.Now()}

		if err := b.deleteUpToTxn(txn, lastIndex); err != nil {
			return err
		}
		if err := setBase(txn, baseRecord{Index: lastIndex, Term: lastTerm}); err != nil {
			return err
		}

		metaBuf, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := txn.Set(keySnapMeta, metaBuf); err != nil {
			return err
		}
		return txn.Set(keySnapData, append([]byte(nil), data...))
	})

	return meta, err
}

func (b *Badger) deleteUpToTxn(txn *badger.Txn, upTo uint64) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = entryPrefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var toDelete [][]byte
	for it.Rewind(); it.ValidForPrefix(entryPrefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		if decodeEntryIndex(key) > upTo {
			break
		}
		toDelete = append(toDelete, key)
	}
	for _, key := range toDelete {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (b *Badger) RestoreSnapshot(meta SnapshotMetadata, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keySnapMeta)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err == nil {
			var current SnapshotMetadata
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &current) }); err != nil {
				return err
			}
			if meta.LastIndex <= current.LastIndex {
				return ErrStaleSnapshot
			}
		}

		if err := b.deleteUpToTxn(txn, ^uint64(0)); err != nil {
			return err
		}
		if err := setBase(txn, baseRecord{Index: meta.LastIndex, Term: meta.LastTerm}); err != nil {
			return err
		}
		if err := setUint64(txn, keyCommitted, meta.LastIndex); err != nil {
			return err
		}

		metaBuf, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := txn.Set(keySnapMeta, metaBuf); err != nil {
			return err
		}
		return txn.Set(keySnapData, append([]byte(nil), data...))
	})
}

func (b *Badger) LoadSnapshot() (SnapshotMetadata, []byte, bool, error) {
	var meta SnapshotMetadata
	var data []byte
	var ok bool

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySnapMeta)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
			return err
		}

		dataItem, err := txn.Get(keySnapData)
		if err != nil {
			return err
		}
		data, err = dataItem.ValueCopy(nil)
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	return meta, data, ok, err
}

func (b *Badger) Close() error {
	b.logger.Info("closing raft log store")
	close(b.stopCh)
	<-b.doneCh
	return b.db.Close()
}

// gcLoop periodically reclaims Badger value-log space. This keeps disk
// usage bounded on a long-lived node whose log gets truncated and
// compacted frequently but whose value log files are only reclaimed on
// an explicit GC pass.
func (b *Badger) gcLoop() {
	defer close(b.doneCh)

	interval := b.cfg.GCInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				err := b.db.RunValueLogGC(b.cfg.GCThreshold)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						b.logger.Error("raft log store gc failed", "error", err)
					}
					break
				}
			}
		case <-b.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
