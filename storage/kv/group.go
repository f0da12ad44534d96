package kv

import (
	"fmt"
)

// KVPair owns a key buffer and a value buffer
type KVPair struct {
	Key   []byte
	Value []byte
}

// NewKVPair binds key and value into a pair. Ownership of both
// buffers moves to the pair and from there to the group it is
// added to. The key must not be empty; the value may be.
func (store *Store) NewKVPair(key, value []byte) (*KVPair, error) {
	store.mustBeInitialized()

	if len(key) == 0 {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidArgument)
	}

	return &KVPair{Key: key, Value: value}, nil
}

// KVGroup is a fixed-capacity, append-only sequence of pairs
// released as a unit by Fini.
type KVGroup struct {
	store *Store
	pairs []*KVPair
}

// NewKVGroup preallocates a group holding up to capacity pairs.
// The capacity never grows.
func (store *Store) NewKVGroup(capacity int) (*KVGroup, error) {
	store.mustBeInitialized()

	if capacity <= 0 {
		return nil, fmt.Errorf("%w: group capacity must be positive, got %d", ErrInvalidArgument, capacity)
	}

	return &KVGroup{store: store, pairs: make([]*KVPair, 0, capacity)}, nil
}

// Add appends pair. It returns ErrCapacityExceeded once the group is
// full, leaving the group unchanged.
func (group *KVGroup) Add(pair *KVPair) error {
	if pair == nil {
		panic("kv: nil pair")
	}

	if group.pairs == nil {
		panic("kv: Add called on finalized group")
	}

	if len(group.pairs) == cap(group.pairs) {
		return ErrCapacityExceeded
	}

	group.pairs = append(group.pairs, pair)

	return nil
}

// Len returns the number of pairs in the group
func (group *KVGroup) Len() int {
	return len(group.pairs)
}

// Cap returns the capacity fixed at construction
func (group *KVGroup) Cap() int {
	return cap(group.pairs)
}

// Pair returns the i-th pair
func (group *KVGroup) Pair(i int) (*KVPair, error) {
	if i < 0 || i >= len(group.pairs) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, len(group.pairs))
	}

	return group.pairs[i], nil
}

// Get returns the value of the i-th pair. It returns ErrIndexOutOfRange
// if i >= Len() and ErrEmptyValue if the value is nil or empty, which
// callers must not confuse with a missing key.
func (group *KVGroup) Get(i int) ([]byte, error) {
	pair, err := group.Pair(i)

	if err != nil {
		return nil, err
	}

	if len(pair.Value) == 0 {
		return nil, ErrEmptyValue
	}

	return pair.Value, nil
}

// Fini releases every pair's buffers through the store allocator
// and then the slots themselves. Calling it again has no effect.
func (group *KVGroup) Fini() {
	if group == nil || group.pairs == nil {
		return
	}

	for i, pair := range group.pairs {
		group.store.Free(pair.Key)
		group.store.Free(pair.Value)
		group.pairs[i] = nil
	}

	group.pairs = nil
}

// SetGroup writes every pair of the group to the index in order.
// It stops at the first failure. Callers wanting all-or-nothing
// semantics wrap it in Update.
func (store *Store) SetGroup(index Index, group *KVGroup) error {
	for i, pair := range group.pairs {
		if err := store.Set(index, pair.Key, pair.Value); err != nil {
			return fmt.Errorf("could not set pair %d: %w", i, err)
		}
	}

	return nil
}
