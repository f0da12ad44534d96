package kv_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/kvns/storage/kv"
	"github.com/jrife/kvns/storage/kv/plugins/memory"
)

func TestParseFID(t *testing.T) {
	testCases := map[string]struct {
		s   string
		fid kv.FID
		err error
	}{
		"hex-prefixed": {
			s:   "0x7800000000000001:0x2",
			fid: kv.FID{Hi: 0x7800000000000001, Lo: 0x2},
		},
		"bare": {
			s:   "ff:10",
			fid: kv.FID{Hi: 0xff, Lo: 0x10},
		},
		"missing-colon": {
			s:   "0x78",
			err: kv.ErrInvalidConfig,
		},
		"empty-component": {
			s:   "0x78:",
			err: kv.ErrInvalidConfig,
		},
		"not-hex": {
			s:   "0x78:zz",
			err: kv.ErrInvalidConfig,
		},
		"overflow": {
			s:   "0x1ffffffffffffffff:0",
			err: kv.ErrInvalidConfig,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			fid, err := kv.ParseFID(testCase.s)

			if testCase.err != nil {
				if !errors.Is(err, testCase.err) {
					t.Fatalf("expected err to be %#v, got %#v", testCase.err, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if diff := cmp.Diff(testCase.fid, fid); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestFIDBytes(t *testing.T) {
	fid := kv.FID{Hi: 0x0102030405060708, Lo: 0x090a0b0c0d0e0f10}
	b := fid.Bytes()

	if diff := cmp.Diff([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, b); diff != "" {
		t.Fatal(diff)
	}

	decoded, err := kv.FIDFromBytes(b)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if decoded != fid {
		t.Fatalf("expected %s, got %s", fid, decoded)
	}

	if _, err := kv.FIDFromBytes(b[:15]); !errors.Is(err, kv.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %#v", err)
	}

	store, err := kv.New(kv.StoreConfig{Backend: memory.New()})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer store.Fini()

	parsed, err := store.ParseFID(fid.String())

	if err != nil || parsed != fid {
		t.Fatalf("expected String to round trip through ParseFID, got %s %#v", parsed, err)
	}
}
