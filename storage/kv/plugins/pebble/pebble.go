// Package pebble implements a kv backend on top of a single pebble
// database. Every index occupies its own key range, and a transaction
// is an indexed batch private to its index.
package pebble

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/jrife/kvns/storage/kv"
	"github.com/jrife/kvns/storage/kv/keys"
	"github.com/jrife/kvns/utils/uuid"
	"github.com/spf13/cast"
)

const (
	// DriverName is the name the backend registers under
	DriverName = "pebble"

	defaultCacheSize = 8 << 20
)

var (
	registryPrefix = []byte{0}
	dataPrefix     = []byte{1}
	indexMarker    = []byte{1}
)

// Plugins returns the plugins provided by this package
func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&PebblePlugin{},
	}
}

// PebblePlugin creates pebble backends
type PebblePlugin struct {
}

// Name implements kv.Plugin.Name
func (plugin *PebblePlugin) Name() string {
	return DriverName
}

// NewBackend implements kv.Plugin.NewBackend
func (plugin *PebblePlugin) NewBackend() kv.Backend {
	return &Backend{}
}

// PebbleConfig is the parsed form of the backend options
type PebbleConfig struct {
	// Path is the database directory. If empty a temporary
	// directory is created and removed again by Fini.
	Path string
	// CacheSize is the block cache size in bytes
	CacheSize int64
}

// ParseOptions reads "path" and "cache_size"
func ParseOptions(options kv.Options) (PebbleConfig, error) {
	config := PebbleConfig{CacheSize: defaultCacheSize}

	if raw, ok := options["path"]; ok {
		path, err := cast.ToStringE(raw)

		if err != nil {
			return config, fmt.Errorf("%w: \"path\" must be a string", kv.ErrInvalidConfig)
		}

		config.Path = path
	}

	if raw, ok := options["cache_size"]; ok {
		size, err := cast.ToInt64E(raw)

		if err != nil || size <= 0 {
			return config, fmt.Errorf("%w: \"cache_size\" must be a positive integer", kv.ErrInvalidConfig)
		}

		config.CacheSize = size
	}

	return config, nil
}

// reader is satisfied by both *pebble.DB and indexed *pebble.Batch
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// writer is satisfied by both *pebble.DB and *pebble.Batch
type writer interface {
	Set(key, value []byte, opts *pebble.WriteOptions) error
	Delete(key []byte, opts *pebble.WriteOptions) error
}

var _ kv.Backend = (*Backend)(nil)

// Backend keeps a registry entry per index under registryPrefix and
// the index's keys under dataPrefix + fid. Index lifecycle operations
// bypass transactions and are applied immediately.
type Backend struct {
	mu      sync.Mutex
	db      *pebble.DB
	path    string
	temp    bool
	batches map[kv.FID]*pebble.Batch
}

type index struct {
	fid kv.FID
}

func (index *index) FID() kv.FID {
	return index.fid
}

func registryKey(fid kv.FID) []byte {
	return keys.Join(registryPrefix, fid.Bytes())
}

func indexPrefix(fid kv.FID) []byte {
	return keys.Join(dataPrefix, fid.Bytes())
}

func dataKey(fid kv.FID, key []byte) []byte {
	return keys.Join(dataPrefix, fid.Bytes(), key)
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
		config.Path = filepath.Join(os.TempDir(), fmt.Sprintf("kvns-pebble-%s", uuid.MustUUID()))
		backend.temp = true
	}

	cache := pebble.NewCache(config.CacheSize)
	defer cache.Unref()

	db, err := pebble.Open(config.Path, &pebble.Options{Cache: cache})

	if err != nil {
		return fmt.Errorf("could not open pebble store at %s: %s", config.Path, err.Error())
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()

	backend.db = db
	backend.path = config.Path
	backend.batches = map[kv.FID]*pebble.Batch{}

	return nil
}

// Fini implements kv.Backend.Fini. Open transactions are discarded.
func (backend *Backend) Fini() error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	if backend.db == nil {
		return kv.ErrClosed
	}

	for fid, batch := range backend.batches {
		batch.Close()
		delete(backend.batches, fid)
	}

	if err := backend.db.Close(); err != nil {
		return fmt.Errorf("could not close pebble store: %s", err.Error())
	}

	backend.db = nil

	if backend.temp {
		if err := os.RemoveAll(backend.path); err != nil {
			return fmt.Errorf("could not remove path %s: %s", backend.path, err.Error())
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

// exists reports whether the index is registered.
// backend.mu must be held.
func (backend *Backend) exists(fid kv.FID) (bool, error) {
	if backend.db == nil {
		return false, kv.ErrClosed
	}

	_, closer, err := backend.db.Get(registryKey(fid))

	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	closer.Close()

	return true, nil
}

// target returns what operations on the index read from and write
// to: its batch if a transaction is open, the database otherwise.
// backend.mu must be held.
func (backend *Backend) target(fid kv.FID) (reader, writer, error) {
	ok, err := backend.exists(fid)

	if err != nil {
		return nil, nil, err
	}

	if !ok {
		return nil, nil, fmt.Errorf("index %s: %w", fid, kv.ErrNoSuchIndex)
	}

	if batch, ok := backend.batches[fid]; ok {
		return batch, batch, nil
	}

	return backend.db, backend.db, nil
}

// BeginTransaction implements kv.Backend.BeginTransaction
func (backend *Backend) BeginTransaction(index kv.Index) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	fid := index.FID()

	if _, ok := backend.batches[fid]; ok {
		return kv.ErrTransactionInProgress
	}

	if _, _, err := backend.target(fid); err != nil {
		return err
	}

	backend.batches[fid] = backend.db.NewIndexedBatch()

	return nil
}

// EndTransaction implements kv.Backend.EndTransaction
func (backend *Backend) EndTransaction(index kv.Index) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	fid := index.FID()
	batch, ok := backend.batches[fid]

	if !ok {
		return kv.ErrNoTransaction
	}

	delete(backend.batches, fid)
	defer batch.Close()

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("could not commit transaction: %s", err.Error())
	}

	return nil
}

// DiscardTransaction implements kv.Backend.DiscardTransaction
func (backend *Backend) DiscardTransaction(index kv.Index) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	fid := index.FID()
	batch, ok := backend.batches[fid]

	if !ok {
		return kv.ErrNoTransaction
	}

	delete(backend.batches, fid)

	return batch.Close()
}

// IndexCreate implements kv.Backend.IndexCreate
func (backend *Backend) IndexCreate(fid kv.FID) (kv.Index, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	ok, err := backend.exists(fid)

	if err != nil {
		return nil, err
	}

	if ok {
		return nil, fmt.Errorf("index %s: %w", fid, kv.ErrIndexExists)
	}

	if err := backend.db.Set(registryKey(fid), indexMarker, pebble.Sync); err != nil {
		return nil, err
	}

	return &index{fid: fid}, nil
}

// IndexOpen implements kv.Backend.IndexOpen
func (backend *Backend) IndexOpen(fid kv.FID) (kv.Index, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	ok, err := backend.exists(fid)

	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("index %s: %w", fid, kv.ErrNoSuchIndex)
	}

	return &index{fid: fid}, nil
}

// IndexClose implements kv.Backend.IndexClose
func (backend *Backend) IndexClose(index kv.Index) error {
	return nil
}

// IndexDelete implements kv.Backend.IndexDelete. An open
// transaction on the index is discarded.
func (backend *Backend) IndexDelete(fid kv.FID) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	ok, err := backend.exists(fid)

	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("index %s: %w", fid, kv.ErrNoSuchIndex)
	}

	if batch, ok := backend.batches[fid]; ok {
		batch.Close()
		delete(backend.batches, fid)
	}

	// The registry entry goes first so that a failure part way
	// leaves unreachable data rather than a half-empty index.
	if err := backend.db.Delete(registryKey(fid), pebble.Sync); err != nil {
		return err
	}

	prefix := indexPrefix(fid)

	return backend.db.DeleteRange(prefix, keys.PrefixEnd(prefix), pebble.Sync)
}

// GenFID implements kv.Backend.GenFID
func (backend *Backend) GenFID() (kv.FID, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	for {
		raw := uuid.Bytes()
		fid, err := kv.FIDFromBytes(raw[:])

		if err != nil {
			return kv.FID{}, err
		}

		ok, err := backend.exists(fid)

		if err != nil {
			return kv.FID{}, err
		}

		if !ok {
			return fid, nil
		}
	}
}

// Get implements kv.Backend.Get
func (backend *Backend) Get(index kv.Index, key []byte) ([]byte, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	r, _, err := backend.target(index.FID())

	if err != nil {
		return nil, err
	}

	v, closer, err := r.Get(dataKey(index.FID(), key))

	if errors.Is(err, pebble.ErrNotFound) {
		return nil, kv.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	defer closer.Close()

	value, err := backend.Alloc(len(v))

	if err != nil {
		return nil, err
	}

	copy(value, v)

	return value, nil
}

// Set implements kv.Backend.Set
func (backend *Backend) Set(index kv.Index, key, value []byte) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	_, w, err := backend.target(index.FID())

	if err != nil {
		return err
	}

	return w.Set(dataKey(index.FID(), key), value, pebble.Sync)
}

// Delete implements kv.Backend.Delete
func (backend *Backend) Delete(index kv.Index, key []byte) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	_, w, err := backend.target(index.FID())

	if err != nil {
		return err
	}

	return w.Delete(dataKey(index.FID(), key), pebble.Sync)
}

// Find implements kv.Backend.Find. The cursor reads a consistent
// snapshot taken when Find is called. It must be released before
// the transaction it was created in ends.
func (backend *Backend) Find(index kv.Index, prefix []byte) (kv.Cursor, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	r, _, err := backend.target(index.FID())

	if err != nil {
		return nil, err
	}

	base := indexPrefix(index.FID())
	lower := keys.Join(base, prefix)
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keys.PrefixEnd(lower),
	})

	if err != nil {
		return nil, fmt.Errorf("could not create iterator: %s", err)
	}

	if !iter.First() {
		err := iter.Error()
		iter.Close()

		if err != nil {
			return nil, err
		}

		return nil, kv.ErrNoMoreEntries
	}

	return &cursor{iter: iter, strip: len(base)}, nil
}

var _ kv.Cursor = (*cursor)(nil)

type cursor struct {
	iter  *pebble.Iterator
	strip int
}

func (c *cursor) Next() error {
	if !c.iter.Next() {
		if err := c.iter.Error(); err != nil {
			return err
		}

		return kv.ErrNoMoreEntries
	}

	return nil
}

func (c *cursor) Current() ([]byte, []byte) {
	return c.iter.Key()[c.strip:], c.iter.Value()
}

func (c *cursor) Release() {
	c.iter.Close()
}
