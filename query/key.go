package query

import (
	"fmt"
	"strings"
)

// Key identifies a cache entry, e.g. Key{"orderbook", "BBCA"}. Elements must
// be comparable.
type Key []any

// HasPrefix reports whether prefix matches the leading elements of k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (k Key) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, e := range k {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%v", e)
	}
	sb.WriteByte(']')
	return sb.String()
}

// hash distinguishes elements of different types with equal printed values.
func (k Key) hash() string {
	var sb strings.Builder
	for _, e := range k {
		fmt.Fprintf(&sb, "%T=%v\x00", e, e)
	}
	return sb.String()
}
