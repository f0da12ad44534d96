// Package memory implements a kv backend that keeps every index in
// process memory. It stands in for cache-style backends and keeps count
// of the buffers it hands out so tests can detect leaked allocations.
package memory

import (
	"fmt"
	"sync"
	"sync/atomic"

	rbt "github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
	"github.com/jrife/kvns/storage/kv"
	"github.com/jrife/kvns/utils/uuid"
)

const (
	// DriverName is the name the backend registers under
	DriverName = "memory"
)

// Plugins returns the plugins provided by this package
func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&MemoryPlugin{},
	}
}

// MemoryPlugin creates memory backends
type MemoryPlugin struct {
}

// Name implements kv.Plugin.Name
func (plugin *MemoryPlugin) Name() string {
	return DriverName
}

// NewBackend implements kv.Plugin.NewBackend
func (plugin *MemoryPlugin) NewBackend() kv.Backend {
	return New()
}

var _ kv.Backend = (*Backend)(nil)

// Backend is an in-memory kv backend. Each index is an ordered
// tree. A transaction stages its writes on a private copy of the
// index tree that replaces the committed tree on EndTransaction.
type Backend struct {
	mu          sync.Mutex
	initialized bool
	indexes     map[kv.FID]*rbt.Tree
	txns        map[kv.FID]*rbt.Tree
	outstanding int64
}

// New creates an uninitialized memory backend
func New() *Backend {
	return &Backend{}
}

type index struct {
	fid kv.FID
}

func (index *index) FID() kv.FID {
	return index.fid
}

func newTree() *rbt.Tree {
	return rbt.NewWith(utils.StringComparator)
}

func cloneTree(tree *rbt.Tree) *rbt.Tree {
	clone := newTree()
	iter := tree.Iterator()

	for iter.Next() {
		clone.Put(iter.Key(), iter.Value())
	}

	return clone
}

// Name implements kv.Backend.Name
func (backend *Backend) Name() string {
	return DriverName
}

// Init implements kv.Backend.Init. The memory backend takes no options.
func (backend *Backend) Init(options kv.Options) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	backend.indexes = map[kv.FID]*rbt.Tree{}
	backend.txns = map[kv.FID]*rbt.Tree{}
	backend.initialized = true

	return nil
}

// Fini implements kv.Backend.Fini
func (backend *Backend) Fini() error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	if !backend.initialized {
		return kv.ErrClosed
	}

	backend.indexes = nil
	backend.txns = nil
	backend.initialized = false

	return nil
}

// Outstanding returns the number of buffers handed out by
// Alloc or Get that were not yet released with Free.
func (backend *Backend) Outstanding() int64 {
	return atomic.LoadInt64(&backend.outstanding)
}

// Alloc implements kv.Backend.Alloc
func (backend *Backend) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, kv.ErrAllocation
	}

	atomic.AddInt64(&backend.outstanding, 1)

	return make([]byte, size), nil
}

// Free implements kv.Backend.Free
func (backend *Backend) Free(buf []byte) {
	if buf == nil {
		return
	}

	atomic.AddInt64(&backend.outstanding, -1)
}

// tree returns the tree visible to operations on fid:
// the staged copy if a transaction is open.
// backend.mu must be held.
func (backend *Backend) tree(fid kv.FID) (*rbt.Tree, error) {
	if !backend.initialized {
		return nil, kv.ErrClosed
	}

	if tree, ok := backend.txns[fid]; ok {
		return tree, nil
	}

	tree, ok := backend.indexes[fid]

	if !ok {
		return nil, fmt.Errorf("index %s: %w", fid, kv.ErrNoSuchIndex)
	}

	return tree, nil
}

// BeginTransaction implements kv.Backend.BeginTransaction
func (backend *Backend) BeginTransaction(index kv.Index) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	fid := index.FID()

	if _, ok := backend.txns[fid]; ok {
		return kv.ErrTransactionInProgress
	}

	tree, err := backend.tree(fid)

	if err != nil {
		return err
	}

	backend.txns[fid] = cloneTree(tree)

	return nil
}

// EndTransaction implements kv.Backend.EndTransaction
func (backend *Backend) EndTransaction(index kv.Index) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	fid := index.FID()
	staged, ok := backend.txns[fid]

	if !ok {
		return kv.ErrNoTransaction
	}

	delete(backend.txns, fid)

	if _, ok := backend.indexes[fid]; !ok {
		return fmt.Errorf("index %s: %w", fid, kv.ErrNoSuchIndex)
	}

	backend.indexes[fid] = staged

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

	if !backend.initialized {
		return nil, kv.ErrClosed
	}

	if _, ok := backend.indexes[fid]; ok {
		return nil, fmt.Errorf("index %s: %w", fid, kv.ErrIndexExists)
	}

	backend.indexes[fid] = newTree()

	return &index{fid: fid}, nil
}

// IndexOpen implements kv.Backend.IndexOpen
func (backend *Backend) IndexOpen(fid kv.FID) (kv.Index, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	if !backend.initialized {
		return nil, kv.ErrClosed
	}

	if _, ok := backend.indexes[fid]; !ok {
		return nil, fmt.Errorf("index %s: %w", fid, kv.ErrNoSuchIndex)
	}

	return &index{fid: fid}, nil
}

// IndexClose implements kv.Backend.IndexClose
func (backend *Backend) IndexClose(index kv.Index) error {
	return nil
}

// IndexDelete implements kv.Backend.IndexDelete. An open
// transaction on the index is dropped with it.
func (backend *Backend) IndexDelete(fid kv.FID) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	if !backend.initialized {
		return kv.ErrClosed
	}

	if _, ok := backend.indexes[fid]; !ok {
		return fmt.Errorf("index %s: %w", fid, kv.ErrNoSuchIndex)
	}

	delete(backend.indexes, fid)
	delete(backend.txns, fid)

	return nil
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

		if _, ok := backend.indexes[fid]; !ok {
			return fid, nil
		}
	}
}

// Get implements kv.Backend.Get
func (backend *Backend) Get(index kv.Index, key []byte) ([]byte, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	tree, err := backend.tree(index.FID())

	if err != nil {
		return nil, err
	}

	raw, ok := tree.Get(string(key))

	if !ok {
		return nil, kv.ErrNotFound
	}

	stored := raw.([]byte)
	value, err := backend.Alloc(len(stored))

	if err != nil {
		return nil, err
	}

	copy(value, stored)

	return value, nil
}

// Set implements kv.Backend.Set
func (backend *Backend) Set(index kv.Index, key, value []byte) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	tree, err := backend.tree(index.FID())

	if err != nil {
		return err
	}

	tree.Put(string(key), append([]byte{}, value...))

	return nil
}

// Delete implements kv.Backend.Delete
func (backend *Backend) Delete(index kv.Index, key []byte) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	tree, err := backend.tree(index.FID())

	if err != nil {
		return err
	}

	tree.Remove(string(key))

	return nil
}

// Find implements kv.Backend.Find
func (backend *Backend) Find(index kv.Index, prefix []byte) (kv.Cursor, error) {
	c := &cursor{backend: backend, fid: index.FID(), prefix: string(prefix)}

	if err := c.seek(c.prefix); err != nil {
		return nil, err
	}

	return c, nil
}

var _ kv.Cursor = (*cursor)(nil)

// cursor re-seeks the tree on every step instead of holding a tree
// iterator so that callers may modify the index between steps.
type cursor struct {
	backend *Backend
	fid     kv.FID
	prefix  string
	key     []byte
	value   []byte
}

// seek positions the cursor on the first key >= from
func (c *cursor) seek(from string) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()

	tree, err := c.backend.tree(c.fid)

	if err != nil {
		return err
	}

	node, found := tree.Ceiling(from)

	if !found {
		return kv.ErrNoMoreEntries
	}

	key := node.Key.(string)

	if len(key) < len(c.prefix) || key[:len(c.prefix)] != c.prefix {
		return kv.ErrNoMoreEntries
	}

	c.key = append(c.key[:0], key...)
	c.value = append(c.value[:0], node.Value.([]byte)...)

	return nil
}

func (c *cursor) Next() error {
	// the smallest string greater than the current key
	return c.seek(string(c.key) + "\x00")
}

func (c *cursor) Current() ([]byte, []byte) {
	return c.key, c.value
}

func (c *cursor) Release() {
	c.key = nil
	c.value = nil
}
