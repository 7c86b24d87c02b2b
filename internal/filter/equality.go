package filter

import "fmt"

// EqualityFilter implements exact equality matching for metadata fields.
// With Negate set it becomes the ne operator; ne also matches documents
// where the field is absent.
type EqualityFilter struct {
	Field  string
	Value  any
	Negate bool
}

// NewEqualityFilter creates a new equality filter
func NewEqualityFilter(field string, value any) *EqualityFilter {
	return &EqualityFilter{Field: field, Value: value}
}

// NewNotEqualFilter creates the negated form
func NewNotEqualFilter(field string, value any) *EqualityFilter {
	return &EqualityFilter{Field: field, Value: value, Negate: true}
}

// Match reports whether the field has (or, negated, does not have) the value
func (f *EqualityFilter) Match(meta map[string]any) bool {
	value, exists := Lookup(meta, f.Field)
	if !exists {
		return f.Negate
	}
	return valuesEqual(value, f.Value) != f.Negate
}

// Validate checks if the filter configuration is valid
func (f *EqualityFilter) Validate() error {
	if f.Field == "" {
		return NewFilterError("equality", f.Field, "field name cannot be empty")
	}
	return nil
}

// Fields returns the referenced path
func (f *EqualityFilter) Fields() []string {
	return []string{f.Field}
}

// EstimateSelectivity returns selectivity estimate (conservative 0.1 for equality)
func (f *EqualityFilter) EstimateSelectivity() float64 {
	if f.Negate {
		return 0.9
	}
	return 0.1
}

// String returns a string representation of the filter
func (f *EqualityFilter) String() string {
	if f.Negate {
		return fmt.Sprintf("%s != %v", f.Field, f.Value)
	}
	return fmt.Sprintf("%s == %v", f.Field, f.Value)
}

// MembershipFilter implements the in/nin operators: the field value must be
// (or must not be) one of the listed values.
type MembershipFilter struct {
	Field  string
	Values []any
	Negate bool
}

// NewInFilter creates a membership filter
func NewInFilter(field string, values []any) *MembershipFilter {
	return &MembershipFilter{Field: field, Values: values}
}

// NewNotInFilter creates the negated form
func NewNotInFilter(field string, values []any) *MembershipFilter {
	return &MembershipFilter{Field: field, Values: values, Negate: true}
}

// Match reports whether the field value appears in the value list
func (f *MembershipFilter) Match(meta map[string]any) bool {
	value, exists := Lookup(meta, f.Field)
	if !exists {
		return f.Negate
	}
	for _, candidate := range f.Values {
		if valuesEqual(value, candidate) {
			return !f.Negate
		}
	}
	return f.Negate
}

// Validate checks if the filter configuration is valid
func (f *MembershipFilter) Validate() error {
	if f.Field == "" {
		return NewFilterError("membership", f.Field, "field name cannot be empty")
	}
	if len(f.Values) == 0 {
		return NewFilterError("membership", f.Field, "value list cannot be empty")
	}
	return nil
}

// Fields returns the referenced path
func (f *MembershipFilter) Fields() []string {
	return []string{f.Field}
}

// EstimateSelectivity scales with the size of the value list
func (f *MembershipFilter) EstimateSelectivity() float64 {
	selectivity := 0.1 * float64(len(f.Values))
	if selectivity > 0.9 {
		selectivity = 0.9
	}
	if f.Negate {
		return 1 - selectivity
	}
	return selectivity
}

// String returns a string representation of the filter
func (f *MembershipFilter) String() string {
	if f.Negate {
		return fmt.Sprintf("%s not in %v", f.Field, f.Values)
	}
	return fmt.Sprintf("%s in %v", f.Field, f.Values)
}

// ExistsFilter matches documents where the dotted path resolves to a value
type ExistsFilter struct {
	Field string
}

// NewExistsFilter creates an existence filter
func NewExistsFilter(field string) *ExistsFilter {
	return &ExistsFilter{Field: field}
}

// Match reports whether the path resolves
func (f *ExistsFilter) Match(meta map[string]any) bool {
	_, exists := Lookup(meta, f.Field)
	return exists
}

// Validate checks if the filter configuration is valid
func (f *ExistsFilter) Validate() error {
	if f.Field == "" {
		return NewFilterError("exists", f.Field, "field name cannot be empty")
	}
	return nil
}

// Fields returns the referenced path
func (f *ExistsFilter) Fields() []string {
	return []string{f.Field}
}

// EstimateSelectivity assumes most documents carry the field
func (f *ExistsFilter) EstimateSelectivity() float64 {
	return 0.8
}

// String returns a string representation of the filter
func (f *ExistsFilter) String() string {
	return fmt.Sprintf("exists(%s)", f.Field)
}
