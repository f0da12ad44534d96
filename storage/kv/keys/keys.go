package keys

import (
	"bytes"
)

// inc treats the key as a big-endian unsigned integer and
// returns a new key one greater. It returns nil if every byte
// of the key is 0xff.
func inc(key []byte) []byte {
	carry := true
	after := make([]byte, len(key))

	copy(after, key)

	for i := len(after) - 1; i >= 0 && carry; i-- {
		if key[i] < 0xff {
			carry = false
		}

		after[i] = key[i] + 1
	}

	// carry will only be true if all elements of k
	// were equal to 0xff. The range should just go
	// all the way to the end of the real key range.
	if carry {
		return nil
	}

	return after
}

// PrefixEnd returns the smallest key greater than every key
// having the given prefix, suitable as an exclusive upper
// bound. A nil result means there is no upper bound.
func PrefixEnd(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}

	return inc(prefix)
}

// HasPrefix reports whether key starts with prefix
func HasPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}

// Join concatenates parts into a newly allocated key
func Join(parts ...[]byte) []byte {
	n := 0

	for _, part := range parts {
		n += len(part)
	}

	key := make([]byte, 0, n)

	for _, part := range parts {
		key = append(key, part...)
	}

	return key
}
