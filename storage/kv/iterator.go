package kv

import (
	"errors"

	"go.uber.org/zap"
)

// IteratorState is the position of an iterator in its lifecycle
type IteratorState int

const (
	// IteratorSeeking is the state of an iterator whose find
	// has not completed
	IteratorSeeking IteratorState = iota
	// IteratorPositioned means Current returns a valid entry
	IteratorPositioned
	// IteratorExhausted means no entries remain
	IteratorExhausted
	// IteratorFinalized means the backend cursor was released
	IteratorFinalized
)

func (state IteratorState) String() string {
	switch state {
	case IteratorSeeking:
		return "seeking"
	case IteratorPositioned:
		return "positioned"
	case IteratorExhausted:
		return "exhausted"
	case IteratorFinalized:
		return "finalized"
	}

	return "unknown"
}

// Iterator walks the keys of one index that share a prefix. It
// must only be used by one goroutine at a time. An iterator is only
// usable between a successful Find and the Next call that reports
// ErrNoMoreEntries, and must be finalized if the caller stops early.
type Iterator struct {
	store  *Store
	index  Index
	prefix []byte
	cursor Cursor
	state  IteratorState
	err    error
}

// Find creates an iterator over the keys of index starting with prefix
// and positions it on the first one. If no key matches, the returned
// iterator is already exhausted and the error is ErrNoMoreEntries;
// finalizing it is allowed but not required. Any other error leaves
// no iterator behind.
func (store *Store) Find(index Index, prefix []byte) (*Iterator, error) {
	store.mustBeInitialized()
	mustHaveIndex(index)

	iter := &Iterator{
		store:  store,
		index:  index,
		prefix: append([]byte(nil), prefix...),
		state:  IteratorSeeking,
	}

	done := store.observe("itr_find", zap.Stringer("index", index.FID()), zap.Binary("prefix", prefix))
	cursor, err := store.backend.Find(index, iter.prefix)
	done(err)

	if errors.Is(err, ErrNoMoreEntries) {
		iter.state = IteratorExhausted

		return iter, ErrNoMoreEntries
	} else if err != nil {
		return nil, WrapError("could not find prefix", err)
	}

	iter.cursor = cursor
	iter.state = IteratorPositioned

	return iter, nil
}

// Next advances the iterator. It returns ErrNoMoreEntries when the
// iterator moves past the last matching key. Any failure exhausts
// the iterator and is also reported by Err.
func (iter *Iterator) Next() error {
	if iter.state != IteratorPositioned {
		panic("kv: Next called on iterator in state " + iter.state.String())
	}

	err := iter.store.observe("itr_next", zap.Stringer("index", iter.index.FID()))(iter.cursor.Next())

	if err == nil {
		return nil
	}

	iter.state = IteratorExhausted

	if !errors.Is(err, ErrNoMoreEntries) {
		iter.err = WrapError("could not advance iterator", err)

		return iter.err
	}

	return ErrNoMoreEntries
}

// Current returns the key and value the iterator is positioned on.
// Both slices are borrowed from the backend: copy anything needed
// past the next call to Next or Finalize.
func (iter *Iterator) Current() (key []byte, value []byte) {
	if iter.state != IteratorPositioned {
		panic("kv: Current called on iterator in state " + iter.state.String())
	}

	return iter.cursor.Current()
}

// State returns the lifecycle state of the iterator
func (iter *Iterator) State() IteratorState {
	return iter.state
}

// Err returns the error that exhausted the iterator, if any.
// Reaching the end of the matching keys is not an error.
func (iter *Iterator) Err() error {
	return iter.err
}

// Finalize releases the backend cursor. It is safe to call on a nil,
// exhausted or already finalized iterator.
func (iter *Iterator) Finalize() {
	if iter == nil || iter.state == IteratorFinalized {
		return
	}

	if iter.cursor != nil {
		done := iter.store.observe("itr_fini", zap.Stringer("index", iter.index.FID()))
		iter.cursor.Release()
		done(nil)
		iter.cursor = nil
	}

	iter.state = IteratorFinalized
}
