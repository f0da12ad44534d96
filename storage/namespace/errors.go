package namespace

import (
	"errors"
)

var (
	// ErrInvalidName is returned when a namespace name is empty,
	// too long or contains characters other than ASCII letters and digits
	ErrInvalidName = errors.New("invalid namespace name")
	// ErrIDAllocation is returned when no namespace id could be allocated
	ErrIDAllocation = errors.New("could not allocate namespace id")
	// ErrIndexCreate is returned when the object index of a new
	// namespace could not be created
	ErrIndexCreate = errors.New("could not create namespace index")
	// ErrSchemaMismatch is returned when a directory entry does not
	// have the size or shape of the current record layout
	ErrSchemaMismatch = errors.New("namespace record does not match schema")
)
