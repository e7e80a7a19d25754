// Package storage implements the key-value storage engine: copy-on-write
// string and list tables, a nested transaction overlay stack, and a TTL
// cache sitting in front of the string table.
//
// @req RQ-0101
// @design DS-0102
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tokvault/tokvaultd/internal/cache"
	"github.com/tokvault/tokvaultd/internal/storage/snapshot"
)

// Default configuration values.
const (
	DefaultSnapshotInterval = 5 * time.Minute
	DefaultCacheCapacity    = 10000
	DefaultCacheTTL         = 30 * time.Second
)

// ErrNoActiveTransaction is returned by Commit/Rollback when the
// transaction stack is empty.
var ErrNoActiveTransaction = errors.New("storage: no active transaction")

// Config configures the storage engine.
type Config struct {
	// SnapshotPath is the file the engine periodically dumps its base
	// tables to, and loads from on Recover. Empty disables persistence.
	SnapshotPath string

	// SnapshotInterval is the interval between automatic snapshots.
	SnapshotInterval time.Duration

	// CacheCapacity bounds the string-table TTL cache.
	CacheCapacity int

	// CacheTTL is the freshness window for cached string values.
	CacheTTL time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() Config {
	return Config{
		SnapshotInterval: DefaultSnapshotInterval,
		CacheCapacity:    DefaultCacheCapacity,
		CacheTTL:         DefaultCacheTTL,
		Logger:           slog.Default(),
	}
}

// stringTable is a shared, copy-on-write snapshot of string keys. It is
// cloned on first mutation after being marked shared (e.g. handed to a
// background snapshot writer).
type stringTable struct {
	data   map[string]string
	shared bool
}

func newStringTable() *stringTable {
	return &stringTable{data: make(map[string]string)}
}

// listTable is the list-table analogue of stringTable.
type listTable struct {
	data   map[string][]string
	shared bool
}

func newListTable() *listTable {
	return &listTable{data: make(map[string][]string)}
}

// overlayString is a pending string mutation in a transaction layer.
type overlayString struct {
	value     string
	tombstone bool
}

// overlayList is a pending list mutation in a transaction layer.
type overlayList struct {
	value     []string
	tombstone bool
}

// txLayer is one level of the nested transaction overlay stack. Order
// slices record the sequence in which keys were first touched, so commit
// results can be emitted in a stable, specified order (strings before
// lists, insertion order within each) instead of Go's randomized map
// iteration order.
type txLayer struct {
	strings     map[string]*overlayString
	stringOrder []string
	lists       map[string]*overlayList
	listOrder   []string
}

func newTxLayer() *txLayer {
	return &txLayer{
		strings: make(map[string]*overlayString),
		lists:   make(map[string]*overlayList),
	}
}

func (l *txLayer) touchString(key string) *overlayString {
	e, ok := l.strings[key]
	if !ok {
		e = &overlayString{}
		l.strings[key] = e
		l.stringOrder = append(l.stringOrder, key)
	}
	return e
}

func (l *txLayer) touchList(key string) *overlayList {
	e, ok := l.lists[key]
	if !ok {
		e = &overlayList{}
		l.lists[key] = e
		l.listOrder = append(l.listOrder, key)
	}
	return e
}

// mergeInto folds l's entries into dst, preserving dst's existing order
// for keys dst already knows about and appending new keys in l's order.
func (l *txLayer) mergeInto(dst *txLayer) {
	for _, key := range l.stringOrder {
		if _, exists := dst.strings[key]; !exists {
			dst.stringOrder = append(dst.stringOrder, key)
		}
		dst.strings[key] = l.strings[key]
	}
	for _, key := range l.listOrder {
		if _, exists := dst.lists[key]; !exists {
			dst.listOrder = append(dst.listOrder, key)
		}
		dst.lists[key] = l.lists[key]
	}
}

// entryCount is the number of distinct entries touched in this layer,
// used to size the QUEUED result vector on a non-terminal commit.
func (l *txLayer) entryCount() int {
	return len(l.stringOrder) + len(l.listOrder)
}

// Engine is the key-value storage engine.
type Engine struct {
	mu sync.Mutex

	strings *stringTable
	lists   *listTable
	txStack []*txLayer
	cache   *cache.Tree

	cfg    Config
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a storage engine. Call Recover to load a persisted
// snapshot before serving traffic.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}

	e := &Engine{
		strings: newStringTable(),
		lists:   newListTable(),
		cache:   cache.New(cfg.CacheCapacity, cfg.CacheTTL),
		cfg:     cfg,
		logger:  cfg.Logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go e.backgroundLoop()
	return e, nil
}

// Recover loads the base tables from the configured snapshot path, if
// one exists. Call once at startup before serving traffic.
func (e *Engine) Recover(ctx context.Context) error {
	if e.cfg.SnapshotPath == "" {
		return nil
	}

	start := time.Now()
	strs, lists, ok, err := snapshot.ReadFile(e.cfg.SnapshotPath)
	if err != nil {
		return fmt.Errorf("storage: recover: %w", err)
	}
	if !ok {
		e.logger.Info("no snapshot found, starting with empty store")
		return nil
	}

	e.mu.Lock()
	e.strings = &stringTable{data: strs}
	e.lists = &listTable{data: lists}
	e.mu.Unlock()

	e.logger.Info("storage recovered from snapshot",
		"strings", len(strs), "lists", len(lists), "elapsed", time.Since(start))
	return nil
}

// uniqueStrings returns the string table cloned if it is currently
// shared with a background reader (e.g. a snapshot in progress).
func (e *Engine) uniqueStrings() *stringTable {
	if !e.strings.shared {
		return e.strings
	}
	clone := make(map[string]string, len(e.strings.data))
	for k, v := range e.strings.data {
		clone[k] = v
	}
	e.strings = &stringTable{data: clone}
	return e.strings
}

func (e *Engine) uniqueLists() *listTable {
	if !e.lists.shared {
		return e.lists
	}
	clone := make(map[string][]string, len(e.lists.data))
	for k, v := range e.lists.data {
		clone[k] = append([]string(nil), v...)
	}
	e.lists = &listTable{data: clone}
	return e.lists
}

func (e *Engine) topLayer() *txLayer {
	if len(e.txStack) == 0 {
		return nil
	}
	return e.txStack[len(e.txStack)-1]
}

// Set stores key=value.
func (e *Engine) Set(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if top := e.topLayer(); top != nil {
		top.touchString(key).value = value
		top.strings[key].tombstone = false
	} else {
		e.uniqueStrings().data[key] = value
	}
	e.cache.Remove(key)
}

// Get returns the value for key per the overlay-then-cache-then-base
// lookup order.
func (e *Engine) Get(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getStringLocked(key)
}

func (e *Engine) getStringLocked(key string) (string, bool) {
	for i := len(e.txStack) - 1; i >= 0; i-- {
		if entry, ok := e.txStack[i].strings[key]; ok {
			if entry.tombstone {
				return "", false
			}
			return entry.value, true
		}
	}

	if v, ok := e.cache.Get(key); ok {
		return v, true
	}
	if v, ok := e.strings.data[key]; ok {
		e.cache.Put(key, v)
		return v, true
	}
	return "", false
}

// Del removes key from both the string and list tables. Inside a
// transaction it unconditionally stages tombstones and reports success;
// outside one it reports whether either table actually held the key.
func (e *Engine) Del(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if top := e.topLayer(); top != nil {
		top.touchString(key).tombstone = true
		top.strings[key].value = ""
		top.touchList(key).tombstone = true
		top.lists[key].value = nil
		e.cache.Remove(key)
		return true
	}

	_, hadString := e.strings.data[key]
	if hadString {
		delete(e.uniqueStrings().data, key)
	}
	_, hadList := e.lists.data[key]
	if hadList {
		delete(e.uniqueLists().data, key)
	}
	e.cache.Remove(key)
	return hadString || hadList
}

// Incr adds 1 to the integer value at key (default 0 on absence or
// parse failure) and returns the new value.
func (e *Engine) Incr(key string) string {
	return e.addDelta(key, 1)
}

// Decr subtracts 1 from the integer value at key.
func (e *Engine) Decr(key string) string {
	return e.addDelta(key, -1)
}

func (e *Engine) addDelta(key string, delta int64) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, _ := e.getStringLocked(key)
	n, err := strconv.ParseInt(current, 10, 64)
	if err != nil {
		n = 0
	}
	n += delta
	result := strconv.FormatInt(n, 10)

	if top := e.topLayer(); top != nil {
		top.touchString(key).value = result
		top.strings[key].tombstone = false
	} else {
		e.uniqueStrings().data[key] = result
	}
	e.cache.Remove(key)

	return result
}

// materializeListLocked returns the list for key in the top overlay
// layer, copying it in from a lower overlay or the base table on first
// touch.
func (e *Engine) materializeListLocked(top *txLayer, key string) *overlayList {
	if entry, ok := top.lists[key]; ok {
		return entry
	}

	var source []string
	for i := len(e.txStack) - 2; i >= 0; i-- {
		if entry, ok := e.txStack[i].lists[key]; ok {
			if !entry.tombstone {
				source = append([]string(nil), entry.value...)
			}
			break
		}
	}
	if source == nil {
		if base, ok := e.lists.data[key]; ok {
			source = append([]string(nil), base...)
		}
	}

	entry := top.touchList(key)
	entry.value = source
	entry.tombstone = false
	return entry
}

// LPush prepends value to the list at key and returns the new length.
func (e *Engine) LPush(key, value string) int {
	return e.push(key, value, true)
}

// RPush appends value to the list at key and returns the new length.
func (e *Engine) RPush(key, value string) int {
	return e.push(key, value, false)
}

func (e *Engine) push(key, value string, front bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if top := e.topLayer(); top != nil {
		entry := e.materializeListLocked(top, key)
		if front {
			entry.value = append([]string{value}, entry.value...)
		} else {
			entry.value = append(entry.value, value)
		}
		return len(entry.value)
	}

	list := e.uniqueLists()
	cur := list.data[key]
	if front {
		cur = append([]string{value}, cur...)
	} else {
		cur = append(cur, value)
	}
	list.data[key] = cur
	return len(cur)
}

// LPop removes and returns the front element of the list at key.
func (e *Engine) LPop(key string) (string, bool) {
	return e.pop(key, true)
}

// RPop removes and returns the back element of the list at key.
func (e *Engine) RPop(key string) (string, bool) {
	return e.pop(key, false)
}

func (e *Engine) pop(key string, front bool) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if top := e.topLayer(); top != nil {
		entry := e.materializeListLocked(top, key)
		if len(entry.value) == 0 {
			return "", false
		}
		var v string
		if front {
			v = entry.value[0]
			entry.value = entry.value[1:]
		} else {
			v = entry.value[len(entry.value)-1]
			entry.value = entry.value[:len(entry.value)-1]
		}
		return v, true
	}

	list := e.uniqueLists()
	cur := list.data[key]
	if len(cur) == 0 {
		return "", false
	}
	var v string
	if front {
		v = cur[0]
		cur = cur[1:]
	} else {
		v = cur[len(cur)-1]
		cur = cur[:len(cur)-1]
	}
	list.data[key] = cur
	return v, true
}

// LLen returns the length of the list at key, consulting the nearest
// overlay that mentions it before falling back to the base table.
func (e *Engine) LLen(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := len(e.txStack) - 1; i >= 0; i-- {
		if entry, ok := e.txStack[i].lists[key]; ok {
			if entry.tombstone {
				return 0
			}
			return len(entry.value)
		}
	}
	return len(e.lists.data[key])
}

// Begin pushes a new transaction layer.
func (e *Engine) Begin() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txStack = append(e.txStack, newTxLayer())
}

// Rollback discards the top transaction layer.
func (e *Engine) Rollback() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.txStack) == 0 {
		return ErrNoActiveTransaction
	}
	e.txStack = e.txStack[:len(e.txStack)-1]
	e.cache.Clear()
	return nil
}

// Commit folds the top transaction layer into its parent (or the base
// tables, if this was the outermost transaction) and returns one result
// token per folded entry: strings first, then lists, in the order they
// were first touched.
func (e *Engine) Commit() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.txStack) == 0 {
		return nil, ErrNoActiveTransaction
	}

	popped := e.txStack[len(e.txStack)-1]
	e.txStack = e.txStack[:len(e.txStack)-1]
	defer e.cache.Clear()

	if len(e.txStack) == 0 {
		return e.foldIntoBaseLocked(popped), nil
	}

	parent := e.txStack[len(e.txStack)-1]
	results := make([]string, 0, popped.entryCount())
	for range popped.stringOrder {
		results = append(results, "QUEUED")
	}
	for range popped.listOrder {
		results = append(results, "QUEUED")
	}
	popped.mergeInto(parent)
	return results, nil
}

func (e *Engine) foldIntoBaseLocked(layer *txLayer) []string {
	results := make([]string, 0, layer.entryCount())

	strs := e.uniqueStrings()
	for _, key := range layer.stringOrder {
		entry := layer.strings[key]
		if entry.tombstone {
			delete(strs.data, key)
		} else {
			strs.data[key] = entry.value
		}
		results = append(results, "OK")
	}

	lists := e.uniqueLists()
	for _, key := range layer.listOrder {
		entry := layer.lists[key]
		if entry.tombstone {
			delete(lists.data, key)
			results = append(results, "OK")
		} else {
			lists.data[key] = entry.value
			results = append(results, strconv.Itoa(len(entry.value)))
		}
	}

	return results
}

// InTransaction reports whether a transaction is currently active.
func (e *Engine) InTransaction() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.txStack) > 0
}

// DropTransaction discards the entire transaction stack, as if every
// open layer were rolled back. Used when a connection disconnects
// mid-transaction.
func (e *Engine) DropTransaction() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.txStack) > 0 {
		e.txStack = nil
		e.cache.Clear()
	}
}

// Dump returns copy-on-write snapshots of the base tables, suitable for
// serializing without holding the engine lock for the duration of I/O.
func (e *Engine) Dump() (map[string]string, map[string][]string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.strings.shared = true
	e.lists.shared = true
	return e.strings.data, e.lists.data
}

// LoadTables replaces the base string and list tables wholesale and
// discards any open transaction layers. Used to install a Raft
// snapshot's restored state, so callers must hold off client traffic (or
// otherwise tolerate a torn view) while the load loop feeds it in.
func (e *Engine) LoadTables(strs map[string]string, lists map[string][]string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if strs == nil {
		strs = make(map[string]string)
	}
	if lists == nil {
		lists = make(map[string][]string)
	}
	e.strings = &stringTable{data: strs}
	e.lists = &listTable{data: lists}
	e.txStack = nil
	e.cache.Clear()
}

// TriggerSnapshot writes the current base tables to the configured
// snapshot path.
func (e *Engine) TriggerSnapshot() error {
	if e.cfg.SnapshotPath == "" {
		return nil
	}

	strs, lists := e.Dump()
	if err := snapshot.WriteFile(e.cfg.SnapshotPath, strs, lists); err != nil {
		return fmt.Errorf("storage: snapshot: %w", err)
	}
	e.logger.Info("storage snapshot written",
		"path", e.cfg.SnapshotPath, "strings", len(strs), "lists", len(lists))
	return nil
}

func (e *Engine) backgroundLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.TriggerSnapshot(); err != nil {
				e.logger.Error("auto snapshot failed", "error", err)
			}
		case <-e.stopCh:
			return
		}
	}
}

// Close stops the background snapshot loop, taking a final snapshot
// first if persistence is configured.
func (e *Engine) Close() error {
	close(e.stopCh)
	<-e.doneCh

	if e.cfg.SnapshotPath != "" {
		if err := e.TriggerSnapshot(); err != nil {
			e.logger.Error("final snapshot failed", "error", err)
			return err
		}
	}
	return nil
}
