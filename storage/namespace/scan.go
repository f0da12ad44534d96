package namespace

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrife/kvns/storage/kv"
	"github.com/jrife/kvns/utils/log"
	"go.uber.org/zap"
)

// Scanner is the position of a scan over the directory
type Scanner struct {
	iter    *kv.Iterator
	current *Namespace
}

// Namespace returns the namespace the scanner is positioned on. It is
// a copy owned by the caller and remains valid after the scan moves on.
func (scanner *Scanner) Namespace() *Namespace {
	return scanner.current
}

// Scan steps through the namespaces of the directory in id order.
// Pass a nil scanner to start a scan and the returned scanner to
// continue it. When no namespaces remain the scan is finalized and
// Scan returns kv.ErrNoMoreEntries. A malformed record also ends the
// scan, with ErrSchemaMismatch. A scanner that is abandoned early
// must be released with ScanFinalize.
func (directory *Directory) Scan(ctx context.Context, scanner *Scanner) (*Scanner, error) {
	logger := log.Operation(ctx, directory.logger, "Scan")
	logger.Debug("start", zap.Bool("first", scanner == nil))

	scanner, err := directory.scan(scanner)

	if err != nil {
		logger.Debug("return", zap.Error(err))

		return nil, err
	}

	logger.Debug("return", zap.Uint32("id", scanner.current.ID))

	return scanner, nil
}

func (directory *Directory) scan(scanner *Scanner) (*Scanner, error) {
	if scanner == nil {
		iter, err := directory.store.Find(directory.index, KeyPrefix(KeyTypeInfo))

		if err != nil {
			iter.Finalize()

			if errors.Is(err, kv.ErrNoMoreEntries) {
				return nil, err
			}

			return nil, kv.WrapError("could not scan directory", err)
		}

		scanner = &Scanner{iter: iter}
	} else if err := scanner.iter.Next(); err != nil {
		scanner.finalize()

		if errors.Is(err, kv.ErrNoMoreEntries) {
			return nil, err
		}

		return nil, kv.WrapError("could not scan directory", err)
	}

	key, value := scanner.iter.Current()
	ns, err := decodeRecord(value)

	if err == nil {
		var id uint32

		if id, err = idFromKey(key); err == nil && id != ns.ID {
			err = fmt.Errorf("%w: record %d stored under key of %d", ErrSchemaMismatch, ns.ID, id)
		}
	}

	if err != nil {
		scanner.finalize()

		return nil, err
	}

	scanner.current = ns

	return scanner, nil
}

func (scanner *Scanner) finalize() {
	scanner.iter.Finalize()
	scanner.current = nil
}

// ScanFinalize releases a scan that is abandoned before Scan
// reported the end. A nil scanner is ignored.
func (directory *Directory) ScanFinalize(scanner *Scanner) {
	if scanner == nil {
		return
	}

	scanner.finalize()
}
