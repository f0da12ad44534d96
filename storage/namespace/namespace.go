package namespace

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/jrife/kvns/storage/kv"
	"github.com/jrife/kvns/utils/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config contains configuration
// for a directory
type Config struct {
	// FID is the string form of the directory index fid,
	// e.g. "0x7800000000000001:0x1"
	FID string
	// Logger defaults to zap.L()
	Logger *zap.Logger
}

// Directory is the registry of namespaces stored in one index.
// A Directory must not be closed while other calls on it are in
// flight. Ids are allocated without any locking. Update brackets a
// transaction on the directory index, and only one can be open at a
// time: a concurrent Update fails with kv.ErrTransactionInProgress
// and must be retried by the caller.
type Directory struct {
	store  *kv.Store
	fid    kv.FID
	index  kv.Index
	logger *zap.Logger
}

func newDirectory(store *kv.Store, config Config) (*Directory, error) {
	if config.FID == "" {
		return nil, fmt.Errorf("%w: kvstore.ns_fid is not set", kv.ErrInvalidConfig)
	}

	fid, err := kv.ParseFID(config.FID)

	if err != nil {
		return nil, err
	}

	logger := config.Logger

	if logger == nil {
		logger = zap.L()
	}

	return &Directory{
		store:  store,
		fid:    fid,
		logger: logger.With(zap.Stringer("directory", fid)),
	}, nil
}

// Open opens the existing directory index named by config.FID
func Open(ctx context.Context, store *kv.Store, config Config) (*Directory, error) {
	directory, err := newDirectory(store, config)

	if err != nil {
		return nil, err
	}

	logger := log.Operation(ctx, directory.logger, "Open")
	logger.Debug("start")

	directory.index, err = store.IndexOpen(directory.fid)

	logger.Debug("return", zap.Error(err))

	if err != nil {
		return nil, kv.WrapError(fmt.Sprintf("could not open directory index %s", directory.fid), err)
	}

	return directory, nil
}

// CreateDirectory creates the directory index named by config.FID
// and returns the empty directory.
func CreateDirectory(ctx context.Context, store *kv.Store, config Config) (*Directory, error) {
	directory, err := newDirectory(store, config)

	if err != nil {
		return nil, err
	}

	logger := log.Operation(ctx, directory.logger, "CreateDirectory")
	logger.Debug("start")

	directory.index, err = store.IndexCreate(directory.fid)

	logger.Debug("return", zap.Error(err))

	if err != nil {
		return nil, kv.WrapError(fmt.Sprintf("could not create directory index %s", directory.fid), err)
	}

	return directory, nil
}

// FID returns the fid of the directory index
func (directory *Directory) FID() kv.FID {
	return directory.fid
}

// Close closes the directory index. The directory
// must not be used afterwards.
func (directory *Directory) Close(ctx context.Context) error {
	logger := log.Operation(ctx, directory.logger, "Close")
	logger.Debug("start")

	err := directory.store.IndexClose(directory.index)
	directory.index = nil

	logger.Debug("return", zap.Error(err))

	return err
}

// Update runs fn inside a transaction on the directory index.
// Everything fn does through the directory commits or is
// discarded together.
func (directory *Directory) Update(ctx context.Context, fn func() error) error {
	logger := log.Operation(ctx, directory.logger, "Update")
	logger.Debug("start")

	err := directory.store.Update(directory.index, fn)

	logger.Debug("return", zap.Error(err))

	return err
}

// NextID allocates a namespace id. The first id is MinID and every
// later call returns one more than the last. The counter is written
// back before NextID returns, so ids are not reused even if the
// namespace they were allocated for is never created.
func (directory *Directory) NextID(ctx context.Context) (uint32, error) {
	logger := log.Operation(ctx, directory.logger, "NextID")
	logger.Debug("start")

	id, err := directory.nextID()

	logger.Debug("return", zap.Uint32("id", id), zap.Error(err))

	return id, err
}

func (directory *Directory) nextID() (uint32, error) {
	key := KeyPrefix(KeyTypeIDNext)
	value, err := directory.store.Get(directory.index, key)
	defer directory.store.Free(value)

	var id uint32

	switch {
	case errors.Is(err, kv.ErrNotFound):
		id = MinID
	case err != nil:
		return 0, kv.WrapError("could not read id counter", err)
	case len(value) != 4:
		return 0, fmt.Errorf("%w: id counter is %d bytes", ErrSchemaMismatch, len(value))
	default:
		last := binary.BigEndian.Uint32(value)

		if last == math.MaxUint32 {
			return 0, fmt.Errorf("%w: id space exhausted", ErrIDAllocation)
		}

		id = last + 1
	}

	buf, err := directory.store.Alloc(4)

	if err != nil {
		return 0, err
	}

	defer directory.store.Free(buf)

	binary.BigEndian.PutUint32(buf, id)

	if err := directory.store.Set(directory.index, key, buf); err != nil {
		return 0, kv.WrapError("could not write id counter", err)
	}

	return id, nil
}

// Create validates name, allocates an id and creates a namespace
// with its own object index. The returned namespace holds the open
// index. If the record cannot be written the object index is left
// behind unreferenced. Index creation is never part of a transaction,
// so running Create inside Update does not avoid this.
func (directory *Directory) Create(ctx context.Context, name string) (*Namespace, error) {
	logger := log.Operation(ctx, directory.logger, "Create")
	logger.Debug("start", zap.String("name", name))

	ns, err := directory.create(name)

	if err != nil {
		logger.Debug("return", zap.Error(err))

		return nil, err
	}

	logger.Debug("return", zap.Uint32("id", ns.ID), zap.Stringer("fid", ns.FID))

	return ns, nil
}

func (directory *Directory) create(name string) (*Namespace, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	id, err := directory.nextID()

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIDAllocation, err)
	}

	ns := &Namespace{
		ID:   id,
		Name: name,
		FID:  kv.FID{Hi: directory.fid.Hi, Lo: uint64(id)},
	}

	ns.Index, err = directory.store.IndexCreate(ns.FID)

	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrIndexCreate, ns.FID, err)
	}

	if err := directory.putRecord(ns); err != nil {
		return nil, multierr.Append(
			fmt.Errorf("could not write record of namespace %d: %w", ns.ID, err),
			directory.store.IndexClose(ns.Index),
		)
	}

	return ns, nil
}

func (directory *Directory) putRecord(ns *Namespace) error {
	key, err := directory.store.Alloc(keySize)

	if err != nil {
		return err
	}

	defer directory.store.Free(key)

	value, err := directory.store.Alloc(RecordSize)

	if err != nil {
		return err
	}

	defer directory.store.Free(value)

	putKey(key, KeyTypeInfo, ns.ID)
	encodeRecord(value, ns)

	return directory.store.Set(directory.index, key, value)
}

// Delete removes the namespace record and then the namespace's object
// index, closing ns.Index if it is open. A failure between the two steps
// leaves an unreferenced index rather than a record without an index.
func (directory *Directory) Delete(ctx context.Context, ns *Namespace) error {
	logger := log.Operation(ctx, directory.logger, "Delete")
	logger.Debug("start", zap.Uint32("id", ns.ID), zap.String("name", ns.Name))

	err := directory.delete(ns)

	logger.Debug("return", zap.Error(err))

	return err
}

func (directory *Directory) delete(ns *Namespace) error {
	key, err := directory.store.Alloc(keySize)

	if err != nil {
		return err
	}

	defer directory.store.Free(key)

	putKey(key, KeyTypeInfo, ns.ID)

	if err := directory.store.Delete(directory.index, key); err != nil {
		return kv.WrapError(fmt.Sprintf("could not delete record of namespace %d", ns.ID), err)
	}

	if err := directory.store.IndexDelete(ns.FID); err != nil {
		return kv.WrapError(fmt.Sprintf("could not delete index of namespace %d", ns.ID), err)
	}

	if ns.Index == nil {
		return nil
	}

	err = directory.store.IndexClose(ns.Index)
	ns.Index = nil

	return err
}

// OpenIndex opens the object index of a namespace read back
// from the directory. It does nothing if the index is already open.
func (directory *Directory) OpenIndex(ctx context.Context, ns *Namespace) error {
	if ns.Index != nil {
		return nil
	}

	logger := log.Operation(ctx, directory.logger, "OpenIndex")
	logger.Debug("start", zap.Uint32("id", ns.ID), zap.Stringer("fid", ns.FID))

	index, err := directory.store.IndexOpen(ns.FID)

	logger.Debug("return", zap.Error(err))

	if err != nil {
		return kv.WrapError(fmt.Sprintf("could not open index of namespace %d", ns.ID), err)
	}

	ns.Index = index

	return nil
}

// List returns every namespace in id order. Their
// indexes are not opened.
func (directory *Directory) List(ctx context.Context) ([]*Namespace, error) {
	namespaces := []*Namespace{}
	scanner, err := directory.Scan(ctx, nil)

	for err == nil {
		namespaces = append(namespaces, scanner.Namespace())
		scanner, err = directory.Scan(ctx, scanner)
	}

	if !errors.Is(err, kv.ErrNoMoreEntries) {
		return nil, err
	}

	return namespaces, nil
}

// Lookup returns the namespace called name or
// kv.ErrNotFound if there is none.
func (directory *Directory) Lookup(ctx context.Context, name string) (*Namespace, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	scanner, err := directory.Scan(ctx, nil)

	for err == nil {
		if ns := scanner.Namespace(); ns.Name == name {
			directory.ScanFinalize(scanner)

			return ns, nil
		}

		scanner, err = directory.Scan(ctx, scanner)
	}

	if errors.Is(err, kv.ErrNoMoreEntries) {
		return nil, fmt.Errorf("%w: namespace %q", kv.ErrNotFound, name)
	}

	return nil, err
}
