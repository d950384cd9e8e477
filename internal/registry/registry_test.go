package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logx "gatebot/pkg/logx"
)

// countingStore records Replace calls so tests can assert write-through
// behavior precisely.
type countingStore struct {
	replaces int
	last     []int64
}

func (s *countingStore) Load(ctx context.Context) ([]int64, bool, error) { return nil, false, nil }
func (s *countingStore) Replace(ctx context.Context, ids []int64) error {
	s.replaces++
	s.last = append([]int64(nil), ids...)
	return nil
}
func (s *countingStore) Close() error { return nil }

func TestRecordIdempotent(t *testing.T) {
	st := &countingStore{}
	r := New(st, logx.Nop())
	r.Load(context.Background())

	added, err := r.Record(context.Background(), 1001)
	if err != nil || !added {
		t.Fatalf("first record: added=%v err=%v", added, err)
	}
	added, err = r.Record(context.Background(), 1001)
	if err != nil || added {
		t.Fatalf("second record: added=%v err=%v", added, err)
	}
	if st.replaces != 1 {
		t.Fatalf("expected exactly one durable write, got %d", st.replaces)
	}
	if r.Count() != 1 {
		t.Fatalf("expected count 1, got %d", r.Count())
	}
}

func TestNoDuplicateMembership(t *testing.T) {
	st := &countingStore{}
	r := New(st, logx.Nop())
	r.Load(context.Background())

	seq := []int64{1, 2, 3, 2, 1, 4, 4, 4}
	for _, id := range seq {
		if _, err := r.Record(context.Background(), id); err != nil {
			t.Fatalf("record %d: %v", id, err)
		}
	}
	if r.Count() != 4 {
		t.Fatalf("expected 4 distinct users, got %d", r.Count())
	}
}

func TestRemoveBatching(t *testing.T) {
	st := &countingStore{}
	r := New(st, logx.Nop())
	r.Load(context.Background())
	for _, id := range []int64{1001, 1002, 1003} {
		_, _ = r.Record(context.Background(), id)
	}
	writes := st.replaces

	if err := r.Remove(context.Background(), []int64{1001, 1002}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if st.replaces != writes+1 {
		t.Fatalf("expected one write for batch remove, got %d", st.replaces-writes)
	}
	if r.Contains(1001) || r.Contains(1002) {
		t.Fatalf("removed users still present: %v", r.Snapshot())
	}
	if !r.Contains(1003) {
		t.Fatalf("unrelated user evicted")
	}
}

func TestRemoveEmptyIsNoop(t *testing.T) {
	st := &countingStore{}
	r := New(st, logx.Nop())
	r.Load(context.Background())
	_, _ = r.Record(context.Background(), 7)
	writes := st.replaces

	if err := r.Remove(context.Background(), nil); err != nil {
		t.Fatalf("remove nil: %v", err)
	}
	if err := r.Remove(context.Background(), []int64{999}); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
	if st.replaces != writes {
		t.Fatalf("no-op removes must not write, got %d extra", st.replaces-writes)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	r := New(st, logx.Nop())
	r.Load(context.Background())
	for _, id := range []int64{5, 3, 9} {
		if _, err := r.Record(context.Background(), id); err != nil {
			t.Fatalf("record %d: %v", id, err)
		}
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	r2 := New(st2, logx.Nop())
	r2.Load(context.Background())
	got := r2.Snapshot()
	want := []int64{3, 5, 9}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestFileStoreAbsentIsFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ids, found, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found || len(ids) != 0 {
		t.Fatalf("expected absent store, got found=%v ids=%v", found, ids)
	}
}

func TestFileStoreCorruptRecovers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r := New(st, logx.Nop())
	r.Load(context.Background())
	if r.Count() != 0 {
		t.Fatalf("corrupt store must yield empty set, got %d", r.Count())
	}

	// The next mutation overwrites the broken artifact.
	if _, err := r.Record(context.Background(), 42); err != nil {
		t.Fatalf("record after corruption: %v", err)
	}
	r2 := New(st, logx.Nop())
	r2.Load(context.Background())
	if !r2.Contains(42) {
		t.Fatalf("registry not recovered after rewrite")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if err := st.Replace(context.Background(), []int64{1, 2, 3}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := st.Replace(context.Background(), []int64{2, 3}); err != nil {
		t.Fatalf("replace again: %v", err)
	}
	ids, found, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found || len(ids) != 2 {
		t.Fatalf("expected 2 users, got found=%v ids=%v", found, ids)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
