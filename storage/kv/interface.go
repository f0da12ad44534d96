package kv

// Options carries backend specific configuration such
// as a database path. Keys are backend defined.
type Options map[string]interface{}

// String returns the option named key if it is
// present and a string.
func (options Options) String(key string) (string, bool) {
	raw, ok := options[key]

	if !ok {
		return "", false
	}

	s, ok := raw.(string)

	return s, ok
}

// Plugin represents a kv storage plugin: a named
// factory for backends
type Plugin interface {
	// Name returns the name of the storage plugin
	Name() string
	// NewBackend returns an uninitialized backend instance
	NewBackend() Backend
}

// Index is an open handle on one backend index. Handles are
// created by IndexCreate or IndexOpen and must be released
// with IndexClose.
type Index interface {
	// FID returns the identifier of the index this handle
	// is bound to
	FID() FID
}

// Backend is the operation set every storage engine must implement.
// Implementations must be safe for concurrent use by multiple goroutines
// for operations on different indexes.
type Backend interface {
	// Name returns the registered name of the backend
	Name() string
	// Init prepares the backend for use. No other method is
	// called before Init returns nil.
	Init(options Options) error
	// Fini releases every resource held by the backend.
	Fini() error
	// Alloc returns a zeroed buffer of the given size owned by
	// the caller. It must be released with Free.
	Alloc(size int) ([]byte, error)
	// Free releases a buffer obtained from Alloc or Get.
	// Free(nil) has no effect.
	Free(buf []byte)
	// BeginTransaction opens a transaction on the index. It must
	// return ErrTransactionInProgress if one is already open.
	// Until the transaction ends, reads on the index observe its
	// uncommitted writes.
	BeginTransaction(index Index) error
	// EndTransaction commits the open transaction on the index.
	// It returns ErrNoTransaction if there is none.
	EndTransaction(index Index) error
	// DiscardTransaction aborts the open transaction on the index.
	// It returns ErrNoTransaction if there is none.
	DiscardTransaction(index Index) error
	// IndexCreate creates the index and returns an open handle. It
	// returns ErrIndexExists if an index with this fid exists.
	IndexCreate(fid FID) (Index, error)
	// IndexOpen opens an existing index. It returns ErrNoSuchIndex
	// if the index does not exist.
	IndexOpen(fid FID) (Index, error)
	// IndexClose releases the handle. It never destroys data and
	// must succeed for handles whose index was deleted meanwhile.
	IndexClose(index Index) error
	// IndexDelete destroys the index and all of its keys. It returns
	// ErrNoSuchIndex if the index does not exist.
	IndexDelete(fid FID) error
	// GenFID generates a fresh, unused index identifier
	GenFID() (FID, error)
	// Get returns a copy of the value stored under key allocated with
	// Alloc. It returns ErrNotFound if the key does not exist. A key
	// stored with an empty value yields a non-nil empty buffer.
	Get(index Index, key []byte) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(index Index, key, value []byte) error
	// Delete removes key. Deleting a key that does not exist is not
	// an error.
	Delete(index Index, key []byte) error
	// Find positions a new cursor on the first key of the index having
	// the given prefix. It returns ErrNoMoreEntries and a nil cursor if
	// no key matches.
	Find(index Index, prefix []byte) (Cursor, error)
}

// Cursor is the backend's native iteration state over the keys of
// one index sharing a prefix. A cursor is always positioned on an
// entry until Next reports ErrNoMoreEntries.
type Cursor interface {
	// Next advances to the next matching key. It returns
	// ErrNoMoreEntries once there are no more keys.
	Next() error
	// Current returns the key and value the cursor is positioned on.
	// The returned slices may be reused by the next call to Next or
	// Release.
	Current() (key []byte, value []byte)
	// Release frees the resources held by the cursor
	Release()
}
