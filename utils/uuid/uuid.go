package uuid

import (
	google_uuid "github.com/google/uuid"
)

// MustUUID returns a random UUID in its canonical string form
func MustUUID() string {
	return google_uuid.New().String()
}

// Bytes returns the 16 raw bytes of a random UUID
func Bytes() [16]byte {
	return google_uuid.New()
}
