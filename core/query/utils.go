package query

import (
	"fmt"
	"strconv"
	"strings"
)

// ToFloat64 converts a value of any numeric type (or numeric string) to a
// float64, reporting whether the conversion succeeded.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// CompareValues orders two values: -1 when a<b, 0 when equal, 1 when a>b.
// Numbers compare numerically across Go numeric types; everything else
// compares by string form. The second return is false when the values are
// not comparable (one numeric, one not).
func CompareValues(a, b any) (int, bool) {
	af, aok := ToFloat64(a)
	bf, bok := ToFloat64(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if aok != bok {
		return 0, false
	}
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	return strings.Compare(as, bs), true
}

// ValuesEqual reports loose equality: numeric values compare numerically,
// everything else by string form. nil equals only nil.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if cmp, ok := CompareValues(a, b); ok {
		return cmp == 0
	}
	return false
}
