package keys_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/kvns/storage/kv/keys"
)

func TestPrefixEnd(t *testing.T) {
	testCases := map[string]struct {
		prefix []byte
		end    []byte
	}{
		"empty": {
			prefix: []byte{},
			end:    nil,
		},
		"simple": {
			prefix: []byte{0x01, 0x00},
			end:    []byte{0x01, 0x01},
		},
		"carry": {
			prefix: []byte{0x04, 0xff},
			end:    []byte{0x05, 0x00},
		},
		"all-ff": {
			prefix: []byte{0xff, 0xff},
			end:    nil,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			if diff := cmp.Diff(testCase.end, keys.PrefixEnd(testCase.prefix)); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestPrefixEndDoesNotMutate(t *testing.T) {
	prefix := []byte{0x01, 0xff}
	keys.PrefixEnd(prefix)

	if diff := cmp.Diff([]byte{0x01, 0xff}, prefix); diff != "" {
		t.Fatal(diff)
	}
}

func TestJoin(t *testing.T) {
	if diff := cmp.Diff([]byte("abcd"), keys.Join([]byte("ab"), nil, []byte("cd"))); diff != "" {
		t.Fatal(diff)
	}
}
