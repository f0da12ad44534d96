package kv_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/kvns/storage/kv"
	"github.com/jrife/kvns/storage/kv/plugins"
	"go.uber.org/zap/zaptest"
)

type tempStoreBuilder func(t *testing.T) *kv.Store

func builder(plugin kv.Plugin) tempStoreBuilder {
	return func(t *testing.T) *kv.Store {
		store, err := kv.New(kv.StoreConfig{
			Backend: plugin.NewBackend(),
			Options: kv.Options{"path": filepath.Join(t.TempDir(), plugin.Name())},
			Logger:  zaptest.NewLogger(t),
		})

		if err != nil {
			t.Fatalf("Could not build a %s store: %s", plugin.Name(), err.Error())
		}

		t.Cleanup(func() {
			if err := store.Fini(); err != nil {
				t.Errorf("Could not finalize %s store: %s", plugin.Name(), err.Error())
			}
		})

		return store
	}
}

func createIndex(t *testing.T, store *kv.Store) kv.Index {
	fid, err := store.GenFID()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	index, err := store.IndexCreate(fid)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	return index
}

func mustSet(t *testing.T, store *kv.Store, index kv.Index, key, value string) {
	if err := store.Set(index, []byte(key), []byte(value)); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}
}

func get(store *kv.Store, index kv.Index, key string) (string, error) {
	value, err := store.Get(index, []byte(key))

	if err != nil {
		return "", err
	}

	defer store.Free(value)

	return string(value), nil
}

// scan collects all entries under prefix, copying them out
// of the iterator's borrowed buffers.
func scan(t *testing.T, store *kv.Store, index kv.Index, prefix []byte) []string {
	iter, err := store.Find(index, prefix)
	defer iter.Finalize()

	entries := []string{}

	for err == nil {
		key, value := iter.Current()
		entries = append(entries, fmt.Sprintf("%s=%s", key, value))
		err = iter.Next()
	}

	if !errors.Is(err, kv.ErrNoMoreEntries) {
		t.Fatalf("expected ErrNoMoreEntries, got %#v", err)
	}

	return entries
}

func TestDrivers(t *testing.T) {
	for _, plugin := range plugins.Plugins() {
		t.Run(plugin.Name(), driverTest(builder(plugin)))
	}
}

func driverTest(builder tempStoreBuilder) func(t *testing.T) {
	return func(t *testing.T) {
		testDriver(builder, t)
	}
}

func testDriver(builder tempStoreBuilder, t *testing.T) {
	t.Run("get-set-delete", func(t *testing.T) { testGetSetDelete(builder, t) })
	t.Run("empty-vs-absent", func(t *testing.T) { testEmptyVsAbsent(builder, t) })
	t.Run("indexes", func(t *testing.T) { testIndexes(builder, t) })
	t.Run("transactions", func(t *testing.T) { testTransactions(builder, t) })
	t.Run("iterators", func(t *testing.T) { testIterators(builder, t) })
}

func testGetSetDelete(builder tempStoreBuilder, t *testing.T) {
	store := builder(t)
	index := createIndex(t, store)

	mustSet(t, store, index, "a", "1")
	mustSet(t, store, index, "a", "2")
	mustSet(t, store, index, "b", "3")

	if value, err := get(store, index, "a"); err != nil || value != "2" {
		t.Fatalf("expected a=2, got %q %#v", value, err)
	}

	if err := store.Delete(index, []byte("a")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := get(store, index, "a"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %#v", err)
	}

	if err := store.Delete(index, []byte("missing")); err != nil {
		t.Fatalf("expected deleting a missing key to succeed, got %#v", err)
	}

	if err := store.Set(index, nil, []byte("x")); !errors.Is(err, kv.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %#v", err)
	}

	if _, err := store.Get(index, []byte{}); !errors.Is(err, kv.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %#v", err)
	}
}

func testEmptyVsAbsent(builder tempStoreBuilder, t *testing.T) {
	store := builder(t)
	index := createIndex(t, store)

	if err := store.Set(index, []byte("empty"), nil); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	value, err := store.Get(index, []byte("empty"))

	if err != nil {
		t.Fatalf("expected an empty value to be found, got %#v", err)
	}

	if len(value) != 0 {
		t.Fatalf("expected empty value, got %#v", value)
	}

	store.Free(value)

	if _, err := store.Get(index, []byte("absent")); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %#v", err)
	}
}

func testIndexes(builder tempStoreBuilder, t *testing.T) {
	store := builder(t)
	fid := kv.FID{Hi: 0x7800000000000001, Lo: 0x10}

	if _, err := store.IndexOpen(fid); !errors.Is(err, kv.ErrNoSuchIndex) {
		t.Fatalf("expected ErrNoSuchIndex, got %#v", err)
	}

	a, err := store.IndexCreate(fid)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if a.FID() != fid {
		t.Fatalf("expected handle for %s, got %s", fid, a.FID())
	}

	if _, err := store.IndexCreate(fid); !errors.Is(err, kv.ErrIndexExists) {
		t.Fatalf("expected ErrIndexExists, got %#v", err)
	}

	b, err := store.IndexCreate(kv.FID{Hi: fid.Hi, Lo: 0x11})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	mustSet(t, store, a, "k", "in-a")
	mustSet(t, store, b, "k", "in-b")

	reopened, err := store.IndexOpen(fid)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if value, err := get(store, reopened, "k"); err != nil || value != "in-a" {
		t.Fatalf("expected k=in-a, got %q %#v", value, err)
	}

	if err := store.IndexClose(reopened); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := store.IndexDelete(fid); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := store.IndexDelete(fid); !errors.Is(err, kv.ErrNoSuchIndex) {
		t.Fatalf("expected ErrNoSuchIndex, got %#v", err)
	}

	if _, err := get(store, a, "k"); !errors.Is(err, kv.ErrNoSuchIndex) {
		t.Fatalf("expected ErrNoSuchIndex, got %#v", err)
	}

	if err := store.IndexClose(a); err != nil {
		t.Fatalf("expected closing a deleted index to succeed, got %#v", err)
	}

	if value, err := get(store, b, "k"); err != nil || value != "in-b" {
		t.Fatalf("expected k=in-b, got %q %#v", value, err)
	}

	// An index recreated under the same fid starts empty
	recreated, err := store.IndexCreate(fid)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := get(store, recreated, "k"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %#v", err)
	}
}

func testTransactions(builder tempStoreBuilder, t *testing.T) {
	store := builder(t)
	index := createIndex(t, store)

	mustSet(t, store, index, "committed", "yes")

	if err := store.EndTransaction(index); !errors.Is(err, kv.ErrNoTransaction) {
		t.Fatalf("expected ErrNoTransaction, got %#v", err)
	}

	if err := store.DiscardTransaction(index); !errors.Is(err, kv.ErrNoTransaction) {
		t.Fatalf("expected ErrNoTransaction, got %#v", err)
	}

	// discard
	if err := store.BeginTransaction(index); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := store.BeginTransaction(index); !errors.Is(err, kv.ErrTransactionInProgress) {
		t.Fatalf("expected ErrTransactionInProgress, got %#v", err)
	}

	mustSet(t, store, index, "discarded", "yes")

	if value, err := get(store, index, "discarded"); err != nil || value != "yes" {
		t.Fatalf("expected the transaction to see its own write, got %q %#v", value, err)
	}

	if err := store.DiscardTransaction(index); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := get(store, index, "discarded"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %#v", err)
	}

	// commit
	if err := store.BeginTransaction(index); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	mustSet(t, store, index, "ended", "yes")

	if err := store.Delete(index, []byte("committed")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := store.EndTransaction(index); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if value, err := get(store, index, "ended"); err != nil || value != "yes" {
		t.Fatalf("expected ended=yes, got %q %#v", value, err)
	}

	if _, err := get(store, index, "committed"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %#v", err)
	}

	// Update
	errAbort := errors.New("abort")

	err := store.Update(index, func() error {
		mustSet(t, store, index, "aborted", "yes")

		return errAbort
	})

	if !errors.Is(err, errAbort) {
		t.Fatalf("expected errAbort, got %#v", err)
	}

	if _, err := get(store, index, "aborted"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %#v", err)
	}

	err = store.Update(index, func() error {
		mustSet(t, store, index, "updated", "yes")

		return nil
	})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if value, err := get(store, index, "updated"); err != nil || value != "yes" {
		t.Fatalf("expected updated=yes, got %q %#v", value, err)
	}

	// reads inside a transaction merge its writes with committed data
	if err := store.BeginTransaction(index); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	mustSet(t, store, index, "a-staged", "yes")
	mustSet(t, store, index, "ended", "again")

	if err := store.Delete(index, []byte("updated")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff([]string{"a-staged=yes", "ended=again"}, scan(t, store, index, nil)); diff != "" {
		t.Fatal(diff)
	}

	if err := store.DiscardTransaction(index); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff([]string{"ended=yes", "updated=yes"}, scan(t, store, index, nil)); diff != "" {
		t.Fatal(diff)
	}

	// transactions are scoped to one index
	other := createIndex(t, store)

	if err := store.BeginTransaction(index); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := store.BeginTransaction(other); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := store.DiscardTransaction(other); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	mustSet(t, store, other, "outside", "yes")
	third := createIndex(t, store)
	mustSet(t, store, third, "outside", "yes")

	if err := store.DiscardTransaction(index); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if value, err := get(store, other, "outside"); err != nil || value != "yes" {
		t.Fatalf("expected outside=yes, got %q %#v", value, err)
	}

	if value, err := get(store, third, "outside"); err != nil || value != "yes" {
		t.Fatalf("expected outside=yes, got %q %#v", value, err)
	}
}

func testIterators(builder tempStoreBuilder, t *testing.T) {
	store := builder(t)
	index := createIndex(t, store)

	for _, k := range []string{"b/2", "a/1", "b/1", "c/1", "b/3", "ba"} {
		mustSet(t, store, index, k, "v"+k)
	}

	t.Run("prefix", func(t *testing.T) {
		diff := cmp.Diff([]string{"b/1=vb/1", "b/2=vb/2", "b/3=vb/3"}, scan(t, store, index, []byte("b/")))

		if diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("all", func(t *testing.T) {
		if entries := scan(t, store, index, nil); len(entries) != 6 {
			t.Fatalf("expected 6 entries, got %#v", entries)
		}
	})

	t.Run("no-match", func(t *testing.T) {
		iter, err := store.Find(index, []byte("z"))

		if !errors.Is(err, kv.ErrNoMoreEntries) {
			t.Fatalf("expected ErrNoMoreEntries, got %#v", err)
		}

		if iter.State() != kv.IteratorExhausted {
			t.Fatalf("expected exhausted iterator, got %s", iter.State())
		}

		iter.Finalize()
		iter.Finalize()

		if iter.State() != kv.IteratorFinalized {
			t.Fatalf("expected finalized iterator, got %s", iter.State())
		}
	})

	t.Run("early-finalize", func(t *testing.T) {
		iter, err := store.Find(index, []byte("b/"))

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		iter.Finalize()

		defer func() {
			if recover() == nil {
				t.Fatalf("expected Current on a finalized iterator to panic")
			}
		}()

		iter.Current()
	})

	t.Run("delete-while-scanning", func(t *testing.T) {
		iter, err := store.Find(index, []byte("b/"))
		defer iter.Finalize()

		deleted := 0

		for err == nil {
			key, _ := iter.Current()

			if delErr := store.Delete(index, append([]byte(nil), key...)); delErr != nil {
				t.Fatalf("expected err to be nil, got %#v", delErr)
			}

			deleted++
			err = iter.Next()
		}

		if !errors.Is(err, kv.ErrNoMoreEntries) || deleted != 3 {
			t.Fatalf("expected to delete 3 keys, deleted %d, err %#v", deleted, err)
		}

		if entries := scan(t, store, index, []byte("b")); len(entries) != 1 {
			t.Fatalf("expected only \"ba\" to remain, got %#v", entries)
		}
	})
}

func TestUninitializedStorePanics(t *testing.T) {
	var store *kv.Store

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a nil store to panic")
		}
	}()

	store.GenFID()
}

func TestFinalizedStorePanics(t *testing.T) {
	store, err := plugins.Open(plugins.Config{Type: "memory"})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := store.Fini(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a finalized store to panic")
		}
	}()

	store.Alloc(1)
}
