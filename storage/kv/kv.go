package kv

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// StoreConfig contains configuration
// for a store
type StoreConfig struct {
	// Backend is the storage engine the store forwards to
	Backend Backend
	// Options are passed to Backend.Init
	Options Options
	// Logger defaults to zap.L()
	Logger *zap.Logger
	// Registerer receives the store's metrics. Metrics are
	// still recorded but not exported if it is nil.
	Registerer prometheus.Registerer
}

// Store forwards every operation to exactly one initialized backend.
// A Store is only obtained through New, which initializes the backend,
// so holding a *Store means the backend is ready. Calling any method on
// a nil Store or after Fini is a programming error and panics.
type Store struct {
	backend     Backend
	logger      *zap.Logger
	metrics     *metrics
	initialized atomic.Bool
}

// New initializes config.Backend and returns a store bound to it.
// The store is only returned if the backend initializes successfully.
func New(config StoreConfig) (*Store, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("%w: no kv backend given", ErrInvalidConfig)
	}

	store := &Store{
		backend: config.Backend,
		logger:  config.Logger,
		metrics: newMetrics(config.Backend.Name()),
	}

	if store.logger == nil {
		store.logger = zap.L()
	}

	store.logger = store.logger.With(zap.String("backend", config.Backend.Name()))

	if config.Registerer != nil {
		for _, collector := range store.metrics.collectors() {
			if err := config.Registerer.Register(collector); err != nil {
				return nil, fmt.Errorf("could not register kv metrics: %s", err)
			}
		}
	}

	done := store.observe("init")

	if err := done(config.Backend.Init(config.Options)); err != nil {
		store.unregister(config.Registerer)

		return nil, WrapError(fmt.Sprintf("could not initialize kv backend %s", config.Backend.Name()), err)
	}

	store.initialized.Store(true)

	return store, nil
}

func (store *Store) unregister(registerer prometheus.Registerer) {
	if registerer == nil {
		return
	}

	for _, collector := range store.metrics.collectors() {
		registerer.Unregister(collector)
	}
}

func (store *Store) mustBeInitialized() {
	if store == nil || !store.initialized.Load() {
		panic("kv: store used before initialization or after Fini")
	}
}

func mustHaveIndex(index Index) {
	if index == nil {
		panic("kv: nil index")
	}
}

// observe emits the begin event of a forwarded call and returns
// the function emitting its end event.
func (store *Store) observe(op string, fields ...zap.Field) func(error) error {
	start := time.Now()
	logger := store.logger.With(zap.String("operation", op))
	logger.Debug("start", fields...)

	return func(err error) error {
		duration := time.Since(start)
		store.metrics.observe(op, duration, err)
		logger.Debug("return", zap.Duration("duration", duration), zap.Error(err))

		return err
	}
}

// Name returns the name of the bound backend
func (store *Store) Name() string {
	store.mustBeInitialized()

	return store.backend.Name()
}

// Fini finalizes the backend. The store must not be used afterwards.
func (store *Store) Fini() error {
	store.mustBeInitialized()
	store.initialized.Store(false)

	return store.observe("fini")(store.backend.Fini())
}

// Alloc returns a buffer of the given size owned by the caller.
// It must be released with Free.
func (store *Store) Alloc(size int) ([]byte, error) {
	store.mustBeInitialized()

	if size < 0 {
		return nil, fmt.Errorf("%w: negative allocation size %d", ErrInvalidArgument, size)
	}

	done := store.observe("alloc", zap.Int("size", size))
	buf, err := store.backend.Alloc(size)

	return buf, done(err)
}

// Free releases a buffer obtained from Alloc or Get
func (store *Store) Free(buf []byte) {
	store.mustBeInitialized()

	if buf == nil {
		return
	}

	done := store.observe("free", zap.Int("size", cap(buf)))
	store.backend.Free(buf)
	done(nil)
}

// BeginTransaction opens a transaction on the index
func (store *Store) BeginTransaction(index Index) error {
	store.mustBeInitialized()
	mustHaveIndex(index)

	return store.observe("begin_transaction", zap.Stringer("index", index.FID()))(store.backend.BeginTransaction(index))
}

// EndTransaction commits the transaction open on the index
func (store *Store) EndTransaction(index Index) error {
	store.mustBeInitialized()
	mustHaveIndex(index)

	return store.observe("end_transaction", zap.Stringer("index", index.FID()))(store.backend.EndTransaction(index))
}

// DiscardTransaction aborts the transaction open on the index
func (store *Store) DiscardTransaction(index Index) error {
	store.mustBeInitialized()
	mustHaveIndex(index)

	return store.observe("discard_transaction", zap.Stringer("index", index.FID()))(store.backend.DiscardTransaction(index))
}

// Update runs fn inside a transaction on the index. The transaction
// is committed if fn returns nil and discarded if fn returns an
// error or panics.
func (store *Store) Update(index Index, fn func() error) (err error) {
	if err := store.BeginTransaction(index); err != nil {
		return err
	}

	committed := false

	defer func() {
		if committed {
			return
		}

		if discardErr := store.DiscardTransaction(index); discardErr != nil {
			err = multierr.Append(err, fmt.Errorf("could not discard transaction: %w", discardErr))
		}
	}()

	if err := fn(); err != nil {
		return err
	}

	committed = true

	return store.EndTransaction(index)
}

// IndexCreate creates a new index and returns an open handle to it
func (store *Store) IndexCreate(fid FID) (Index, error) {
	store.mustBeInitialized()

	done := store.observe("index_create", zap.Stringer("fid", fid))
	index, err := store.backend.IndexCreate(fid)

	return index, done(err)
}

// IndexOpen opens an existing index
func (store *Store) IndexOpen(fid FID) (Index, error) {
	store.mustBeInitialized()

	done := store.observe("index_open", zap.Stringer("fid", fid))
	index, err := store.backend.IndexOpen(fid)

	return index, done(err)
}

// IndexClose releases an index handle
func (store *Store) IndexClose(index Index) error {
	store.mustBeInitialized()
	mustHaveIndex(index)

	return store.observe("index_close", zap.Stringer("fid", index.FID()))(store.backend.IndexClose(index))
}

// IndexDelete destroys the index identified by fid
func (store *Store) IndexDelete(fid FID) error {
	store.mustBeInitialized()

	return store.observe("index_delete", zap.Stringer("fid", fid))(store.backend.IndexDelete(fid))
}

// GenFID generates a fresh index identifier
func (store *Store) GenFID() (FID, error) {
	store.mustBeInitialized()

	done := store.observe("index_gen_fid")
	fid, err := store.backend.GenFID()

	return fid, done(err)
}

// Get returns the value stored under key. The value is owned by the
// caller and should be released with Free. Get returns ErrNotFound if
// the key does not exist.
func (store *Store) Get(index Index, key []byte) ([]byte, error) {
	store.mustBeInitialized()
	mustHaveIndex(index)

	if len(key) == 0 {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidArgument)
	}

	done := store.observe("get", zap.Int("klen", len(key)))
	value, err := store.backend.Get(index, key)

	return value, done(err)
}

// Set stores value under key, replacing any previous value
func (store *Store) Set(index Index, key, value []byte) error {
	store.mustBeInitialized()
	mustHaveIndex(index)

	if len(key) == 0 {
		return fmt.Errorf("%w: key is empty", ErrInvalidArgument)
	}

	return store.observe("set", zap.Int("klen", len(key)), zap.Int("vlen", len(value)))(store.backend.Set(index, key, value))
}

// Delete removes key from the index
func (store *Store) Delete(index Index, key []byte) error {
	store.mustBeInitialized()
	mustHaveIndex(index)

	if len(key) == 0 {
		return fmt.Errorf("%w: key is empty", ErrInvalidArgument)
	}

	return store.observe("delete", zap.Int("klen", len(key)))(store.backend.Delete(index, key))
}

// ParseFID parses the string form of a fid, see ParseFID
func (store *Store) ParseFID(s string) (FID, error) {
	store.mustBeInitialized()

	return ParseFID(s)
}
