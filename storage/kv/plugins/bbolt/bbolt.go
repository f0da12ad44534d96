package bbolt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	rbt "github.com/emirpasic/gods/trees/redblacktree"
	"github.com/jrife/kvns/storage/kv"
	"github.com/jrife/kvns/storage/kv/keys"
	"github.com/jrife/kvns/utils/uuid"
	"github.com/spf13/cast"
	bolt "go.etcd.io/bbolt"
)

const (
	// DriverName is the name the backend registers under
	DriverName = "bbolt"
)

// Plugins returns the plugins provided by this package
func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&BBoltPlugin{},
	}
}

// BBoltPlugin creates bbolt backends
type BBoltPlugin struct {
}

// Name implements kv.Plugin.Name
func (plugin *BBoltPlugin) Name() string {
	return DriverName
}

// NewBackend implements kv.Plugin.NewBackend
func (plugin *BBoltPlugin) NewBackend() kv.Backend {
	return &Backend{}
}

// BBoltConfig is the parsed form of the backend options
type BBoltConfig struct {
	// Path is the database file. If empty a temporary
	// file is created and removed again by Fini.
	Path string
	// Timeout bounds how long Init waits for the file lock
	Timeout time.Duration
	// NoSync skips fsync after each commit
	NoSync bool
}

// ParseOptions reads "path", "timeout" and "no_sync"
func ParseOptions(options kv.Options) (BBoltConfig, error) {
	config := BBoltConfig{Timeout: time.Second}

	if raw, ok := options["path"]; ok {
		path, err := cast.ToStringE(raw)

		if err != nil {
			return config, fmt.Errorf("%w: \"path\" must be a string", kv.ErrInvalidConfig)
		}

		config.Path = path
	}

	if raw, ok := options["timeout"]; ok {
		timeout, err := cast.ToDurationE(raw)

		if err != nil {
			return config, fmt.Errorf("%w: \"timeout\" must be a duration", kv.ErrInvalidConfig)
		}

		config.Timeout = timeout
	}

	if raw, ok := options["no_sync"]; ok {
		noSync, err := cast.ToBoolE(raw)

		if err != nil {
			return config, fmt.Errorf("%w: \"no_sync\" must be a boolean", kv.ErrInvalidConfig)
		}

		config.NoSync = noSync
	}

	return config, nil
}

var _ kv.Backend = (*Backend)(nil)

// Backend stores each index as a top-level bucket named by
// the binary form of its fid.
//
// bbolt allows a single write transaction per database, so a bolt
// transaction is never held open between calls. Instead a transaction
// on an index stages its writes in memory: every operation on that
// index reads through the staged writes, and EndTransaction applies
// them in one bolt write transaction. Operations on other indexes are
// unaffected.
type Backend struct {
	mu   sync.Mutex
	db   *bolt.DB
	temp bool
	txns map[kv.FID]*rbt.Tree
}

// write is a staged write. Deletions are kept as
// tombstones so they can shadow committed keys.
type write struct {
	value   []byte
	deleted bool
}

type index struct {
	fid kv.FID
}

func (index *index) FID() kv.FID {
	return index.fid
}

// Name implements kv.Backend.Name
func (backend *Backend) Name() string {
	return DriverName
}

// Init implements kv.Backend.Init
func (backend *Backend) Init(options kv.Options) error {
	config, err := ParseOptions(options)

	if err != nil {
		return err
	}

	if config.Path == "" {
		config.Path = filepath.Join(os.TempDir(), fmt.Sprintf("kvns-bbolt-%s", uuid.MustUUID()))
		backend.temp = true
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{Timeout: config.Timeout, NoSync: config.NoSync})

	if err != nil {
		return fmt.Errorf("could not open bbolt store at %s: %s", config.Path, err.Error())
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()

	backend.db = db
	backend.txns = map[kv.FID]*rbt.Tree{}

	return nil
}

// Fini implements kv.Backend.Fini. Open transactions are discarded.
func (backend *Backend) Fini() error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	if backend.db == nil {
		return kv.ErrClosed
	}

	backend.txns = nil
	path := backend.db.Path()

	if err := backend.db.Close(); err != nil {
		return fmt.Errorf("could not close bbolt store: %s", err.Error())
	}

	backend.db = nil

	if backend.temp {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("could not remove path %s: %s", path, err.Error())
		}
	}

	return nil
}

// Alloc implements kv.Backend.Alloc
func (backend *Backend) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, kv.ErrAllocation
	}

	return make([]byte, size), nil
}

// Free implements kv.Backend.Free. Buffers live on the Go heap.
func (backend *Backend) Free(buf []byte) {
}

// update and view run fn in a bolt transaction.
// backend.mu must be held.
func (backend *Backend) update(fn func(txn *bolt.Tx) error) error {
	if backend.db == nil {
		return kv.ErrClosed
	}

	return backend.db.Update(fn)
}

func (backend *Backend) view(fn func(txn *bolt.Tx) error) error {
	if backend.db == nil {
		return kv.ErrClosed
	}

	return backend.db.View(fn)
}

func bucket(txn *bolt.Tx, fid kv.FID) (*bolt.Bucket, error) {
	b := txn.Bucket(fid.Bytes())

	if b == nil {
		return nil, fmt.Errorf("index %s: %w", fid, kv.ErrNoSuchIndex)
	}

	return b, nil
}

// mustExist returns ErrNoSuchIndex if the index has no bucket.
// backend.mu must be held.
func (backend *Backend) mustExist(fid kv.FID) error {
	return backend.view(func(txn *bolt.Tx) error {
		_, err := bucket(txn, fid)

		return err
	})
}

// BeginTransaction implements kv.Backend.BeginTransaction
func (backend *Backend) BeginTransaction(index kv.Index) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	fid := index.FID()

	if err := backend.mustExist(fid); err != nil {
		return err
	}

	if _, ok := backend.txns[fid]; ok {
		return kv.ErrTransactionInProgress
	}

	backend.txns[fid] = rbt.NewWithStringComparator()

	return nil
}

// EndTransaction implements kv.Backend.EndTransaction. The staged
// writes are applied in a single bolt transaction, so either all of
// them are committed or none are.
func (backend *Backend) EndTransaction(index kv.Index) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	fid := index.FID()
	writes, ok := backend.txns[fid]

	if !ok {
		return kv.ErrNoTransaction
	}

	delete(backend.txns, fid)

	err := backend.update(func(txn *bolt.Tx) error {
		b, err := bucket(txn, fid)

		if err != nil {
			return err
		}

		for it := writes.Iterator(); it.Next(); {
			key := []byte(it.Key().(string))
			w := it.Value().(*write)

			if w.deleted {
				err = b.Delete(key)
			} else {
				err = b.Put(key, w.value)
			}

			if err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		return kv.WrapError("could not commit transaction", err)
	}

	return nil
}

// DiscardTransaction implements kv.Backend.DiscardTransaction
func (backend *Backend) DiscardTransaction(index kv.Index) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	fid := index.FID()

	if _, ok := backend.txns[fid]; !ok {
		return kv.ErrNoTransaction
	}

	delete(backend.txns, fid)

	return nil
}

// IndexCreate implements kv.Backend.IndexCreate
func (backend *Backend) IndexCreate(fid kv.FID) (kv.Index, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	err := backend.update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucket(fid.Bytes())

		if errors.Is(err, bolt.ErrBucketExists) {
			return fmt.Errorf("index %s: %w", fid, kv.ErrIndexExists)
		}

		return err
	})

	if err != nil {
		return nil, err
	}

	return &index{fid: fid}, nil
}

// IndexOpen implements kv.Backend.IndexOpen
func (backend *Backend) IndexOpen(fid kv.FID) (kv.Index, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	if err := backend.mustExist(fid); err != nil {
		return nil, err
	}

	return &index{fid: fid}, nil
}

// IndexClose implements kv.Backend.IndexClose. Handles hold
// no bolt resources.
func (backend *Backend) IndexClose(index kv.Index) error {
	return nil
}

// IndexDelete implements kv.Backend.IndexDelete. An open
// transaction on the index is discarded.
func (backend *Backend) IndexDelete(fid kv.FID) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	err := backend.update(func(txn *bolt.Tx) error {
		err := txn.DeleteBucket(fid.Bytes())

		if errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("index %s: %w", fid, kv.ErrNoSuchIndex)
		}

		return err
	})

	if err != nil {
		return err
	}

	delete(backend.txns, fid)

	return nil
}

// GenFID implements kv.Backend.GenFID
func (backend *Backend) GenFID() (kv.FID, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	var fid kv.FID

	err := backend.view(func(txn *bolt.Tx) error {
		for {
			raw := uuid.Bytes()
			candidate, err := kv.FIDFromBytes(raw[:])

			if err != nil {
				return err
			}

			if txn.Bucket(candidate.Bytes()) == nil {
				fid = candidate

				return nil
			}
		}
	})

	return fid, err
}

// Get implements kv.Backend.Get
func (backend *Backend) Get(index kv.Index, key []byte) ([]byte, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	fid := index.FID()

	var value []byte

	err := backend.view(func(txn *bolt.Tx) error {
		b, err := bucket(txn, fid)

		if err != nil {
			return err
		}

		k, v := nextEntry(b, backend.txns[fid], key, true)

		if k == nil || !bytes.Equal(k, key) {
			return kv.ErrNotFound
		}

		value, err = backend.Alloc(len(v))

		if err != nil {
			return err
		}

		copy(value, v)

		return nil
	})

	if err != nil {
		return nil, err
	}

	return value, nil
}

// stage records a write in the transaction open on fid. It
// reports false if there is none. backend.mu must be held.
func (backend *Backend) stage(fid kv.FID, key []byte, w *write) (bool, error) {
	writes, ok := backend.txns[fid]

	if !ok {
		return false, nil
	}

	if err := backend.mustExist(fid); err != nil {
		return true, err
	}

	writes.Put(string(key), w)

	return true, nil
}

// Set implements kv.Backend.Set
func (backend *Backend) Set(index kv.Index, key, value []byte) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	value = append([]byte{}, value...)

	if staged, err := backend.stage(index.FID(), key, &write{value: value}); staged {
		return err
	}

	return backend.update(func(txn *bolt.Tx) error {
		b, err := bucket(txn, index.FID())

		if err != nil {
			return err
		}

		return b.Put(key, value)
	})
}

// Delete implements kv.Backend.Delete
func (backend *Backend) Delete(index kv.Index, key []byte) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	if staged, err := backend.stage(index.FID(), key, &write{deleted: true}); staged {
		return err
	}

	return backend.update(func(txn *bolt.Tx) error {
		b, err := bucket(txn, index.FID())

		if err != nil {
			return err
		}

		return b.Delete(key)
	})
}

// seekBucket returns the first committed entry at or after from,
// or strictly after it if inclusive is false.
func seekBucket(b *bolt.Bucket, from []byte, inclusive bool) ([]byte, []byte) {
	c := b.Cursor()
	k, v := c.Seek(from)

	if !inclusive && k != nil && bytes.Equal(k, from) {
		k, v = c.Next()
	}

	return k, v
}

// seekWrites is seekBucket for the staged writes of a transaction
func seekWrites(writes *rbt.Tree, from []byte, inclusive bool) ([]byte, *write) {
	if writes == nil {
		return nil, nil
	}

	target := string(from)

	if !inclusive {
		// the smallest string greater than from
		target += "\x00"
	}

	node, found := writes.Ceiling(target)

	if !found {
		return nil, nil
	}

	return []byte(node.Key.(string)), node.Value.(*write)
}

// nextEntry merges the committed entries of a bucket with the staged
// writes of its transaction, if any, and returns the first live entry
// starting at from. A staged write shadows the committed entry with
// the same key. The returned slices are only valid inside the bolt
// transaction b belongs to.
func nextEntry(b *bolt.Bucket, writes *rbt.Tree, from []byte, inclusive bool) ([]byte, []byte) {
	for {
		committedKey, committedValue := seekBucket(b, from, inclusive)
		stagedKey, staged := seekWrites(writes, from, inclusive)

		if stagedKey == nil || (committedKey != nil && bytes.Compare(committedKey, stagedKey) < 0) {
			return committedKey, committedValue
		}

		if !staged.deleted {
			return stagedKey, staged.value
		}

		from, inclusive = stagedKey, false
	}
}

// Find implements kv.Backend.Find
func (backend *Backend) Find(index kv.Index, prefix []byte) (kv.Cursor, error) {
	c := &cursor{backend: backend, fid: index.FID(), prefix: append([]byte{}, prefix...)}

	if err := c.seek(c.prefix, true); err != nil {
		return nil, err
	}

	return c, nil
}

var _ kv.Cursor = (*cursor)(nil)

// cursor copies the current entry out of bolt and re-seeks on every
// step so that no bolt transaction stays open between calls and the
// index may be modified between steps.
type cursor struct {
	backend *Backend
	fid     kv.FID
	prefix  []byte
	key     []byte
	value   []byte
}

func (c *cursor) seek(from []byte, inclusive bool) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()

	return c.backend.view(func(txn *bolt.Tx) error {
		b, err := bucket(txn, c.fid)

		if err != nil {
			return err
		}

		k, v := nextEntry(b, c.backend.txns[c.fid], from, inclusive)

		if k == nil || !keys.HasPrefix(k, c.prefix) {
			return kv.ErrNoMoreEntries
		}

		c.key = append(c.key[:0], k...)
		c.value = append(c.value[:0], v...)

		return nil
	})
}

func (c *cursor) Next() error {
	return c.seek(c.key, false)
}

func (c *cursor) Current() ([]byte, []byte) {
	return c.key, c.value
}

func (c *cursor) Release() {
	c.key = nil
	c.value = nil
}
