// Package kv provides the dispatch layer between metadata services and
// pluggable key-value backends.
//
// A backend is a concrete storage engine implementing Backend. A Store binds
// exactly one backend for its whole lifetime and forwards every operation to
// it. The Store owns no storage logic: its job is to make the indirection
// transparent, to reject calls made before initialization and to emit
// begin/end events (logs and metrics) around each forwarded call.
//
// Backends organize data into indexes. An index is a keyspace addressed by a
// 128-bit FID:
//
//	Backend
//	    Index 0x1:0x0
//	        key1: abc
//	        key2: def
//	    Index 0x1:0x2
//	        keyN: aaa
//
// Indexes are independent of each other. Transactions are opened per index
// with BeginTransaction and closed with EndTransaction (commit) or
// DiscardTransaction (abort). Nothing in this package opens a transaction
// implicitly, so callers that need several writes to be atomic must bracket
// them, for example with Store.Update.
//
// Buffer ownership follows one rule: a buffer handed out by the backend
// (Get, Alloc) belongs to the caller until it is given back with Free on the
// same Store. Buffers returned by Iterator.Current are borrowed and only valid
// until the next call to Next or Finalize.
package kv
