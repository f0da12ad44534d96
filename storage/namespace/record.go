package namespace

import (
	"encoding/binary"
	"fmt"

	"github.com/jrife/kvns/storage/kv"
)

const (
	nameFieldSize = MaxNameLen + 1
	// RecordSize is the size of an encoded namespace record:
	// id | name length | name | object fid | object index fid
	RecordSize = 4 + 1 + nameFieldSize + kv.FIDSize + kv.FIDSize
)

const (
	idOffset       = 0
	nameLenOffset  = idOffset + 4
	nameOffset     = nameLenOffset + 1
	fidOffset      = nameOffset + nameFieldSize
	indexFIDOffset = fidOffset + kv.FIDSize
)

// Namespace is a named container of objects. Its objects live in
// their own index identified by FID.
type Namespace struct {
	ID   uint32
	Name string
	FID  kv.FID

	// Index is the open object index. It is nil for namespaces
	// read back from the directory until Directory.OpenIndex is called.
	Index kv.Index
}

// encodeRecord writes ns into b, which must be RecordSize bytes long.
// The name must already be valid.
func encodeRecord(b []byte, ns *Namespace) {
	for i := range b {
		b[i] = 0
	}

	indexFID := ns.FID

	if ns.Index != nil {
		indexFID = ns.Index.FID()
	}

	binary.BigEndian.PutUint32(b[idOffset:], ns.ID)
	b[nameLenOffset] = byte(len(ns.Name))
	copy(b[nameOffset:fidOffset], ns.Name)
	ns.FID.Put(b[fidOffset:indexFIDOffset])
	indexFID.Put(b[indexFIDOffset:])
}

// decodeRecord copies a namespace out of b. Entries of the wrong
// size or whose object fid and index fid disagree are rejected
// with ErrSchemaMismatch.
func decodeRecord(b []byte) (*Namespace, error) {
	if len(b) != RecordSize {
		return nil, fmt.Errorf("%w: record is %d bytes, expected %d", ErrSchemaMismatch, len(b), RecordSize)
	}

	nameLen := int(b[nameLenOffset])

	if nameLen > MaxNameLen {
		return nil, fmt.Errorf("%w: name length %d", ErrSchemaMismatch, nameLen)
	}

	fid, err := kv.FIDFromBytes(b[fidOffset:indexFIDOffset])

	if err != nil {
		return nil, err
	}

	indexFID, err := kv.FIDFromBytes(b[indexFIDOffset:])

	if err != nil {
		return nil, err
	}

	if fid != indexFID {
		return nil, fmt.Errorf("%w: object fid %s does not match index fid %s", ErrSchemaMismatch, fid, indexFID)
	}

	return &Namespace{
		ID:   binary.BigEndian.Uint32(b[idOffset:]),
		Name: string(b[nameOffset : nameOffset+nameLen]),
		FID:  fid,
	}, nil
}
