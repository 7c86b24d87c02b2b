package filter

import "strings"

// Lookup resolves a dotted path against a metadata document. Each segment
// descends into a nested object; a missing segment or a non-object in the
// middle of the path reports !ok.
func Lookup(meta map[string]any, path string) (any, bool) {
	if meta == nil || path == "" {
		return nil, false
	}

	current := meta
	segments := strings.Split(path, ".")
	for i, segment := range segments {
		value, exists := current[segment]
		if !exists {
			return nil, false
		}
		if i == len(segments)-1 {
			return value, true
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

// valuesEqual compares two metadata values, coercing numeric types so that
// an int stored by the caller matches a float64 decoded from JSON.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if aNum, aOk := toFloat64(a); aOk {
		bNum, bOk := toFloat64(b)
		return bOk && aNum == bNum
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// compareValues orders two metadata values. Only numbers compare with
// numbers and strings with strings; anything else reports !ok.
func compareValues(a, b any) (int, bool) {
	if aNum, aOk := toFloat64(a); aOk {
		bNum, bOk := toFloat64(b)
		if !bOk {
			return 0, false
		}
		switch {
		case aNum < bNum:
			return -1, true
		case aNum > bNum:
			return 1, true
		default:
			return 0, true
		}
	}

	aStr, aOk := a.(string)
	bStr, bOk := b.(string)
	if aOk && bOk {
		return strings.Compare(aStr, bStr), true
	}
	return 0, false
}

// toFloat64 converts various numeric types to float64
func toFloat64(v any) (float64, bool) {
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
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}
