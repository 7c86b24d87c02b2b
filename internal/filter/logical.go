package filter

import (
	"fmt"
	"strings"
)

// LogicalFilter combines child filters with and/or/not semantics
type LogicalFilter struct {
	Operator LogicalOperator
	Filters  []Filter
}

// NewAndFilter creates a conjunction of the given filters
func NewAndFilter(filters ...Filter) *LogicalFilter {
	return &LogicalFilter{Operator: AndOperator, Filters: filters}
}

// NewOrFilter creates a disjunction of the given filters
func NewOrFilter(filters ...Filter) *LogicalFilter {
	return &LogicalFilter{Operator: OrOperator, Filters: filters}
}

// NewNotFilter negates a single filter
func NewNotFilter(f Filter) *LogicalFilter {
	return &LogicalFilter{Operator: NotOperator, Filters: []Filter{f}}
}

// Match evaluates the children with short-circuiting
func (f *LogicalFilter) Match(meta map[string]any) bool {
	switch f.Operator {
	case AndOperator:
		for _, child := range f.Filters {
			if !child.Match(meta) {
				return false
			}
		}
		return true
	case OrOperator:
		for _, child := range f.Filters {
			if child.Match(meta) {
				return true
			}
		}
		return false
	case NotOperator:
		return !f.Filters[0].Match(meta)
	default:
		return false
	}
}

// Validate checks the operator arity and recurses into children
func (f *LogicalFilter) Validate() error {
	if len(f.Filters) == 0 {
		return NewFilterError("logical", "", "logical filter requires at least one child")
	}
	if f.Operator == NotOperator && len(f.Filters) != 1 {
		return NewFilterError("logical", "", "not requires exactly one child")
	}
	if f.Operator < AndOperator || f.Operator > NotOperator {
		return NewFilterError("logical", "", "unknown logical operator")
	}
	for _, child := range f.Filters {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Fields returns the union of all referenced paths
func (f *LogicalFilter) Fields() []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, child := range f.Filters {
		for _, field := range child.Fields() {
			if _, dup := seen[field]; !dup {
				seen[field] = struct{}{}
				fields = append(fields, field)
			}
		}
	}
	return fields
}

// EstimateSelectivity combines child estimates: product for and, capped sum
// for or, complement for not.
func (f *LogicalFilter) EstimateSelectivity() float64 {
	switch f.Operator {
	case AndOperator:
		selectivity := 1.0
		for _, child := range f.Filters {
			selectivity *= child.EstimateSelectivity()
		}
		return selectivity
	case OrOperator:
		selectivity := 0.0
		for _, child := range f.Filters {
			selectivity += child.EstimateSelectivity()
		}
		if selectivity > 1 {
			return 1
		}
		return selectivity
	case NotOperator:
		return 1 - f.Filters[0].EstimateSelectivity()
	default:
		return 1
	}
}

// String returns a string representation of the filter
func (f *LogicalFilter) String() string {
	if f.Operator == NotOperator {
		return fmt.Sprintf("not(%s)", f.Filters[0])
	}

	parts := make([]string, len(f.Filters))
	for i, child := range f.Filters {
		parts[i] = child.String()
	}
	op := " and "
	if f.Operator == OrOperator {
		op = " or "
	}
	return "(" + strings.Join(parts, op) + ")"
}
