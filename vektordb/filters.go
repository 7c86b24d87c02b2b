package vektordb

import (
	"fmt"
	"time"

	"github.com/xDarkicex/vektordb/internal/filter"
)

// Filter is a metadata predicate for List and Query. Build one with the
// constructors below or parse a JSON-compatible tree with ParseFilter.
type Filter interface {
	String() string
	expr() filter.Filter
}

type filterExpr struct {
	inner filter.Filter
}

func (f filterExpr) String() string      { return f.inner.String() }
func (f filterExpr) expr() filter.Filter { return f.inner }

// Eq matches documents where the dotted field equals value
func Eq(field string, value any) Filter {
	return filterExpr{filter.NewEqualityFilter(field, value)}
}

// Ne matches documents where the field differs from value or is absent
func Ne(field string, value any) Filter {
	return filterExpr{filter.NewNotEqualFilter(field, value)}
}

// Lt matches documents where the field is ordered before value
func Lt(field string, value any) Filter {
	return filterExpr{filter.NewRangeFilter(field, filter.LessThan, value)}
}

// Lte matches documents where the field is ordered at or before value
func Lte(field string, value any) Filter {
	return filterExpr{filter.NewRangeFilter(field, filter.LessOrEqual, value)}
}

// Gt matches documents where the field is ordered after value
func Gt(field string, value any) Filter {
	return filterExpr{filter.NewRangeFilter(field, filter.GreaterThan, value)}
}

// Gte matches documents where the field is ordered at or after value
func Gte(field string, value any) Filter {
	return filterExpr{filter.NewRangeFilter(field, filter.GreaterOrEqual, value)}
}

// In matches documents where the field equals one of the values
func In(field string, values ...any) Filter {
	return filterExpr{filter.NewInFilter(field, values)}
}

// NotIn matches documents where the field equals none of the values
func NotIn(field string, values ...any) Filter {
	return filterExpr{filter.NewNotInFilter(field, values)}
}

// Exists matches documents where the dotted field resolves to a value
func Exists(field string) Filter {
	return filterExpr{filter.NewExistsFilter(field)}
}

// And matches documents satisfying every child filter
func And(filters ...Filter) Filter {
	return filterExpr{filter.NewAndFilter(unwrap(filters)...)}
}

// Or matches documents satisfying at least one child filter
func Or(filters ...Filter) Filter {
	return filterExpr{filter.NewOrFilter(unwrap(filters)...)}
}

// Not negates a filter
func Not(f Filter) Filter {
	return filterExpr{filter.NewNotFilter(f.expr())}
}

// ParseFilter builds a filter from a JSON-compatible tree, e.g.
// {"op":"and","filters":[{"op":"eq","field":"lang","value":"go"}]}.
func ParseFilter(node map[string]any) (Filter, error) {
	inner, err := filter.Parse(node)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return filterExpr{inner}, nil
}

// predicate is a validated, compiled filter
type predicate func(meta map[string]any) bool

func predicateOf(f Filter) (predicate, error) {
	inner := f.expr()
	if err := inner.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return inner.Match, nil
}

// pushdownEligible reports whether every path the filter references is
// declared indexed, making it evaluable during candidate collection.
func (idx *Index) pushdownEligible(f Filter) bool {
	fields := f.expr().Fields()
	if len(fields) == 0 {
		return false
	}
	for _, field := range fields {
		if _, ok := idx.indexedPaths[field]; !ok {
			return false
		}
	}
	return true
}

func timeFromStamp(stamp int64) time.Time {
	return time.Unix(0, stamp)
}

func unwrap(filters []Filter) []filter.Filter {
	out := make([]filter.Filter, len(filters))
	for i, f := range filters {
		out[i] = f.expr()
	}
	return out
}
