package schema

import (
	"bytes"
	"reflect"
	"time"
)

// Equal reports whether two field values are equal. Byte slices
// compare by content and times by instant, so values that round-trip
// through the database still compare equal; everything else falls back
// to deep equality.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	return reflect.DeepEqual(a, b)
}
