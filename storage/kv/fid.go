package kv

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// FIDSize is the length of the binary form of a FID
const FIDSize = 16

// FID is a fixed-size 128-bit identifier naming an index
type FID struct {
	Hi uint64
	Lo uint64
}

// ParseFID parses the string form of a FID, two hexadecimal
// numbers separated by a colon such as "0x7800000000000001:0x2".
// The 0x prefixes are optional.
func ParseFID(s string) (FID, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")

	if len(parts) != 2 {
		return FID{}, fmt.Errorf("%w: fid %q must have the form <hi>:<lo>", ErrInvalidConfig, s)
	}

	var fid FID
	var err error

	if fid.Hi, err = parseHex(parts[0]); err != nil {
		return FID{}, fmt.Errorf("%w: fid %q: %s", ErrInvalidConfig, s, err)
	}

	if fid.Lo, err = parseHex(parts[1]); err != nil {
		return FID{}, fmt.Errorf("%w: fid %q: %s", ErrInvalidConfig, s, err)
	}

	return fid, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	if s == "" {
		return 0, fmt.Errorf("empty component")
	}

	return strconv.ParseUint(s, 16, 64)
}

// FIDFromBytes decodes the binary form produced by FID.Bytes.
func FIDFromBytes(b []byte) (FID, error) {
	if len(b) != FIDSize {
		return FID{}, fmt.Errorf("%w: fid must be %d bytes, got %d", ErrInvalidArgument, FIDSize, len(b))
	}

	return FID{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}, nil
}

// Put writes the binary form of the fid into b which must be
// at least FIDSize bytes long.
func (fid FID) Put(b []byte) {
	binary.BigEndian.PutUint64(b[:8], fid.Hi)
	binary.BigEndian.PutUint64(b[8:FIDSize], fid.Lo)
}

// Bytes returns the 16 byte big-endian form of the fid
func (fid FID) Bytes() []byte {
	b := make([]byte, FIDSize)
	fid.Put(b)

	return b
}

// IsZero reports whether both halves are zero
func (fid FID) IsZero() bool {
	return fid.Hi == 0 && fid.Lo == 0
}

// String returns the form accepted by ParseFID
func (fid FID) String() string {
	return fmt.Sprintf("0x%x:0x%x", fid.Hi, fid.Lo)
}
