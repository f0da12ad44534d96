package namespace

import (
	"encoding/binary"
	"fmt"
)

// KeyType distinguishes the entries stored in the directory index
type KeyType uint8

const (
	// KeyTypeInfo keys hold one namespace record each
	KeyTypeInfo KeyType = 1
	// KeyTypeIDNext is the key of the id allocation counter
	KeyTypeIDNext KeyType = 2
)

// KeyVersion is the version byte of every directory key
const KeyVersion uint8 = 0

// MinID is the first namespace id handed out. Lower
// ids are reserved.
const MinID uint32 = 2

const (
	keyPrefixSize = 2
	keySize       = keyPrefixSize + 4
)

// KeyPrefix returns the prefix shared by every key of the given type
func KeyPrefix(keyType KeyType) []byte {
	return []byte{byte(keyType), KeyVersion}
}

// putKey writes the key of type keyType for id into b, which must
// be keySize bytes long.
func putKey(b []byte, keyType KeyType, id uint32) {
	b[0] = byte(keyType)
	b[1] = KeyVersion
	binary.BigEndian.PutUint32(b[keyPrefixSize:], id)
}

// idFromKey returns the id encoded in a namespace record key
func idFromKey(key []byte) (uint32, error) {
	if len(key) != keySize || key[0] != byte(KeyTypeInfo) || key[1] != KeyVersion {
		return 0, fmt.Errorf("%w: unexpected directory key %x", ErrSchemaMismatch, key)
	}

	return binary.BigEndian.Uint32(key[keyPrefixSize:]), nil
}
