package filter

import "fmt"

// RangeOp identifies the ordering comparison of a RangeFilter
type RangeOp int

const (
	LessThan RangeOp = iota
	LessOrEqual
	GreaterThan
	GreaterOrEqual
)

// String returns the operator symbol
func (op RangeOp) String() string {
	switch op {
	case LessThan:
		return "<"
	case LessOrEqual:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterOrEqual:
		return ">="
	default:
		return "?"
	}
}

// RangeFilter implements the lt/lte/gt/gte operators. Only numbers compare
// with numbers and strings with strings; incomparable values never match.
type RangeFilter struct {
	Field string
	Op    RangeOp
	Value any
}

// NewRangeFilter creates a range filter for the given comparison
func NewRangeFilter(field string, op RangeOp, value any) *RangeFilter {
	return &RangeFilter{Field: field, Op: op, Value: value}
}

// NewLessThanFilter creates a < filter
func NewLessThanFilter(field string, value any) *RangeFilter {
	return NewRangeFilter(field, LessThan, value)
}

// NewGreaterThanFilter creates a > filter
func NewGreaterThanFilter(field string, value any) *RangeFilter {
	return NewRangeFilter(field, GreaterThan, value)
}

// Match reports whether the field value satisfies the comparison
func (f *RangeFilter) Match(meta map[string]any) bool {
	value, exists := Lookup(meta, f.Field)
	if !exists {
		return false
	}

	cmp, ok := compareValues(value, f.Value)
	if !ok {
		return false
	}

	switch f.Op {
	case LessThan:
		return cmp < 0
	case LessOrEqual:
		return cmp <= 0
	case GreaterThan:
		return cmp > 0
	case GreaterOrEqual:
		return cmp >= 0
	default:
		return false
	}
}

// Validate checks if the filter configuration is valid
func (f *RangeFilter) Validate() error {
	if f.Field == "" {
		return NewFilterError("range", f.Field, "field name cannot be empty")
	}
	if f.Value == nil {
		return NewFilterError("range", f.Field, "comparison value cannot be nil")
	}
	if f.Op < LessThan || f.Op > GreaterOrEqual {
		return NewFilterError("range", f.Field, "unknown range operator")
	}
	if _, isNum := toFloat64(f.Value); !isNum {
		if _, isStr := f.Value.(string); !isStr {
			return NewFilterError("range", f.Field, "comparison value must be a number or string")
		}
	}
	return nil
}

// Fields returns the referenced path
func (f *RangeFilter) Fields() []string {
	return []string{f.Field}
}

// EstimateSelectivity returns selectivity estimate (0.3 for half-open ranges)
func (f *RangeFilter) EstimateSelectivity() float64 {
	return 0.3
}

// String returns a string representation of the filter
func (f *RangeFilter) String() string {
	return fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value)
}
