package message

import (
	"fmt"
	"strings"

	"github.com/cuemby/kbus/pkg/errdefs"
)

const (
	// DefaultMaxNameLength is the longest name accepted unless a broker is
	// configured otherwise.
	DefaultMaxNameLength = 1000

	// NamePrefix starts every message name and binding pattern.
	NamePrefix = "$."

	// WildcardAny, as the last pattern component, matches zero or more
	// further name components.
	WildcardAny = "*"

	// WildcardOne, as the last pattern component, matches exactly one
	// further name component.
	WildcardOne = "%"
)

// ValidateName checks that name is a legal target for a send: well formed
// and free of wildcards.
func ValidateName(name string, maxLen int) error {
	return validate(name, maxLen, false)
}

// ValidatePattern checks that pattern is a legal binding pattern. The final
// component may be a wildcard.
func ValidatePattern(pattern string, maxLen int) error {
	return validate(pattern, maxLen, true)
}

func validate(name string, maxLen int, allowWildcard bool) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}
	if len(name) > maxLen {
		return fmt.Errorf("%w: length %d exceeds %d", errdefs.ErrInvalidName, len(name), maxLen)
	}
	if !strings.HasPrefix(name, NamePrefix) || len(name) == len(NamePrefix) {
		return fmt.Errorf("%w: %q must start with %q and name something", errdefs.ErrInvalidName, name, NamePrefix)
	}

	parts := strings.Split(name[len(NamePrefix):], ".")
	for i, part := range parts {
		if part == "" {
			return fmt.Errorf("%w: %q has an empty component", errdefs.ErrInvalidName, name)
		}
		if part == WildcardAny || part == WildcardOne {
			if i != len(parts)-1 {
				return fmt.Errorf("%w: %q has a wildcard before the last component", errdefs.ErrInvalidName, name)
			}
			if !allowWildcard {
				return fmt.Errorf("%w: cannot send to wildcard name %q", errdefs.ErrInvalidName, name)
			}
			continue
		}
		for j := 0; j < len(part); j++ {
			if !isAlnum(part[j]) {
				return fmt.Errorf("%w: %q contains %q", errdefs.ErrInvalidName, name, part[j])
			}
		}
	}
	return nil
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
