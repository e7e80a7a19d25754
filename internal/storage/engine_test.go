package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SnapshotInterval = time.Hour
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_BasicRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	e.Set("foo", "bar")
	if v, ok := e.Get("foo"); !ok || v != "bar" {
		t.Fatalf("Get(foo) = %q, %v, want bar, true", v, ok)
	}

	if !e.Del("foo") {
		t.Error("Del(foo) = false, want true")
	}
	if _, ok := e.Get("foo"); ok {
		t.Error("expected foo absent after Del")
	}
}

func TestEngine_Counter(t *testing.T) {
	e := newTestEngine(t)

	if v := e.Incr("c"); v != "1" {
		t.Errorf("Incr(c) = %q, want 1", v)
	}
	if v := e.Incr("c"); v != "2" {
		t.Errorf("Incr(c) = %q, want 2", v)
	}

	e.Set("c", "abc")
	if v := e.Incr("c"); v != "1" {
		t.Errorf("Incr(c) after non-numeric set = %q, want 1 (reset to 0 then +1)", v)
	}
}

func TestEngine_ListSemantics(t *testing.T) {
	e := newTestEngine(t)

	if n := e.LPush("L", "a"); n != 1 {
		t.Errorf("LPush = %d, want 1", n)
	}
	if n := e.RPush("L", "b"); n != 2 {
		t.Errorf("RPush = %d, want 2", n)
	}
	if n := e.LPush("L", "c"); n != 3 {
		t.Errorf("LPush = %d, want 3", n)
	}

	if v, ok := e.LPop("L"); !ok || v != "c" {
		t.Errorf("LPop = %q, %v, want c, true", v, ok)
	}
	if v, ok := e.RPop("L"); !ok || v != "b" {
		t.Errorf("RPop = %q, %v, want b, true", v, ok)
	}
	if n := e.LLen("L"); n != 1 {
		t.Errorf("LLen = %d, want 1", n)
	}
}

func TestEngine_NestedTransactionCommit(t *testing.T) {
	e := newTestEngine(t)

	e.Begin()
	e.Set("k1", "v1")
	e.Begin()
	e.Set("k2", "v2")

	innerResults, err := e.Commit()
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range innerResults {
		if r != "QUEUED" {
			t.Errorf("inner commit result = %q, want QUEUED", r)
		}
	}

	outerResults, err := e.Commit()
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range outerResults {
		if r != "OK" {
			t.Errorf("outer commit result = %q, want OK", r)
		}
	}

	if v, ok := e.Get("k1"); !ok || v != "v1" {
		t.Errorf("Get(k1) = %q, %v, want v1, true", v, ok)
	}
	if v, ok := e.Get("k2"); !ok || v != "v2" {
		t.Errorf("Get(k2) = %q, %v, want v2, true", v, ok)
	}
}

func TestEngine_TransactionDiscard(t *testing.T) {
	e := newTestEngine(t)

	e.Begin()
	e.Set("k", "v")
	if err := e.Rollback(); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Get("k"); ok {
		t.Error("expected k absent after rollback")
	}
}

func TestEngine_CommitWithoutTransaction(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Commit(); err != ErrNoActiveTransaction {
		t.Errorf("Commit() without tx = %v, want ErrNoActiveTransaction", err)
	}
}

func TestEngine_RollbackWithoutTransaction(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Rollback(); err != ErrNoActiveTransaction {
		t.Errorf("Rollback() without tx = %v, want ErrNoActiveTransaction", err)
	}
}

func TestEngine_CacheTTLExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotInterval = time.Hour
	cfg.CacheTTL = 50 * time.Millisecond
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	e.Set("k", "1")
	if v, ok := e.Get("k"); !ok || v != "1" {
		t.Fatalf("Get(k) = %q, %v, want 1, true", v, ok)
	}

	time.Sleep(150 * time.Millisecond)
	if v, ok := e.Get("k"); !ok || v != "1" {
		t.Fatalf("Get(k) after expiry = %q, %v, want 1, true (served from base after cache miss)", v, ok)
	}
}

func TestEngine_TransactionMergingAtDepth(t *testing.T) {
	e := newTestEngine(t)

	e.Begin()
	e.Set("a", "1")
	e.Begin()
	e.Set("b", "2")
	e.Set("a", "override")

	results, err := e.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("commit results = %v, want 2 entries", results)
	}

	// Still inside the outer transaction: "a" must reflect the inner
	// layer's override once merged, and "b" must be visible too.
	if v, ok := e.Get("a"); !ok || v != "override" {
		t.Errorf("Get(a) after merge = %q, %v, want override, true", v, ok)
	}
	if v, ok := e.Get("b"); !ok || v != "2" {
		t.Errorf("Get(b) after merge = %q, %v, want 2, true", v, ok)
	}

	if _, err := e.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_DelInsideTransactionIsUnconditional(t *testing.T) {
	e := newTestEngine(t)

	e.Begin()
	if !e.Del("never-existed") {
		t.Error("Del inside transaction must report success unconditionally")
	}
	if err := e.Rollback(); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_DelOutsideTransactionReportsExistence(t *testing.T) {
	e := newTestEngine(t)
	if e.Del("absent") {
		t.Error("Del(absent) outside a transaction should report false")
	}
	e.Set("present", "v")
	if !e.Del("present") {
		t.Error("Del(present) outside a transaction should report true")
	}
}

func TestEngine_DropTransactionActsLikeRollback(t *testing.T) {
	e := newTestEngine(t)
	e.Begin()
	e.Set("k", "v")
	e.Begin()
	e.Set("k2", "v2")

	e.DropTransaction()

	if e.InTransaction() {
		t.Error("expected no active transaction after DropTransaction")
	}
	if _, ok := e.Get("k"); ok {
		t.Error("expected k absent after dropping the transaction stack")
	}
}

func TestEngine_SnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.SnapshotInterval = time.Hour
	cfg.SnapshotPath = filepath.Join(dir, "engine.snap")

	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.Set("foo", "bar")
	e.RPush("L", "a")
	e.RPush("L", "b")

	if err := e.TriggerSnapshot(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()

	if err := e2.Recover(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v, ok := e2.Get("foo"); !ok || v != "bar" {
		t.Errorf("Get(foo) after recover = %q, %v, want bar, true", v, ok)
	}
	if n := e2.LLen("L"); n != 2 {
		t.Errorf("LLen(L) after recover = %d, want 2", n)
	}
}
