package namespace

import (
	"fmt"
)

// MaxNameLen is the longest namespace name that can be stored
const MaxNameLen = 255

// ValidateName checks that name is non-empty, at most MaxNameLen
// bytes long and made only of ASCII letters and digits.
func ValidateName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}

	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: name is %d bytes long, the maximum is %d", ErrInvalidName, len(name), MaxNameLen)
	}

	for i := 0; i < len(name); i++ {
		c := name[i]

		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return fmt.Errorf("%w: %q has invalid character %q at %d", ErrInvalidName, name, c, i)
		}
	}

	return nil
}
